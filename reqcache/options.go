package reqcache

import (
	"strings"
	"time"

	"github.com/apex/log"
)

// Option configures a Cache.
type Option func(*Cache)

// WithDefaultTTL sets the TTL used when Get is not given one.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock injects the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger routes cache logs to l.
func WithLogger(l log.Interface) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics installs a metrics hook.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithName labels the cache in logs.
func WithName(name string) Option {
	return func(c *Cache) {
		if name = strings.TrimSpace(name); name != "" {
			c.name = name
		}
	}
}

// GetOption tunes a single Get call.
type GetOption func(*getOptions)

type getOptions struct {
	ttl time.Duration
}

// WithTTL overrides the cache default TTL for the value fetched by this call.
// Non-positive durations fall back to the default.
func WithTTL(d time.Duration) GetOption {
	return func(o *getOptions) {
		o.ttl = d
	}
}
