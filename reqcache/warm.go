package reqcache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const warmConcurrency = 8

// Load is one key to warm. A zero TTL uses the cache default.
type Load struct {
	Key   string
	Fetch Fetcher
	TTL   time.Duration
}

// Warm loads every key concurrently, skipping keys that are already fresh.
// The first failure cancels the remaining loads and is returned.
func (c *Cache) Warm(ctx context.Context, loads ...Load) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for _, l := range loads {
		g.Go(func() error {
			if _, err := c.Get(gctx, l.Key, l.Fetch, WithTTL(l.TTL)); err != nil {
				return fmt.Errorf("reqcache: warm %q: %w", l.Key, err)
			}
			return nil
		})
	}
	return g.Wait()
}
