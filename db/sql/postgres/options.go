package postgres

import (
	"strings"
	"time"
)

// Options configures Open and Connect.
type Options struct {
	DSN            string
	Pool           Pool
	ConnectTimeout time.Duration
	Table          string
}

// Pool bounds the database/sql connection pool. A cache table sees short
// point queries, so a small pool is enough.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

type Option func(*Options)

// WithDSN sets the connection string, in key=value or postgres:// URL form.
func WithDSN(dsn string) Option {
	return func(o *Options) {
		if dsn = strings.TrimSpace(dsn); dsn != "" {
			o.DSN = dsn
		}
	}
}

// WithPool overrides the non-zero fields of p.
func WithPool(p Pool) Option {
	return func(o *Options) {
		if p.MaxOpen > 0 {
			o.Pool.MaxOpen = p.MaxOpen
		}
		if p.MaxIdle > 0 {
			o.Pool.MaxIdle = p.MaxIdle
		}
		if p.MaxLifetime > 0 {
			o.Pool.MaxLifetime = p.MaxLifetime
		}
	}
}

// WithConnectTimeout bounds the initial ping.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ConnectTimeout = d
		}
	}
}

// WithCacheTable names the table Connect migrates and stores entries in.
func WithCacheTable(name string) Option {
	return func(o *Options) {
		if name = strings.TrimSpace(name); name != "" {
			o.Table = name
		}
	}
}

func resolve(opts []Option) Options {
	o := Options{
		Pool:           Pool{MaxOpen: 8, MaxIdle: 4, MaxLifetime: 30 * time.Minute},
		ConnectTimeout: 5 * time.Second,
		Table:          defaultTable,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
