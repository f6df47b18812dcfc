// Package reqcache memoizes the results of fetch functions per key for a
// bounded time window and collapses concurrent fetches of the same key into
// a single call.
//
// A Cache is an explicit value: construct one per logical cache (per tenant,
// per backend) instead of sharing package state.
//
//	c := reqcache.New(reqcache.WithDefaultTTL(2 * time.Minute))
//	orders, err := reqcache.Fetch(ctx, c, "purchase-orders", client.PurchaseOrders)
//
// Entries are fresh while now-fetchedAt < ttl. Failed fetches are never
// stored; the next read calls the fetcher again.
package reqcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
)

var (
	ErrEmptyKey     = errors.New("reqcache: key is empty")
	ErrNilFetcher   = errors.New("reqcache: fetcher is nil")
	ErrTypeMismatch = errors.New("reqcache: cached value has unexpected type")
	ErrFetchPanic   = errors.New("reqcache: fetcher panicked")
)

// DefaultTTL applies when neither the cache nor the call sets a TTL.
const DefaultTTL = 5 * time.Minute

// Fetcher produces the value for a key. The context it receives is not tied
// to any single caller; it is cancelled once every waiter has gone away.
type Fetcher func(ctx context.Context) (any, error)

// Cache is a TTL request cache safe for concurrent use.
type Cache struct {
	name    string
	ttl     time.Duration
	now     func() time.Time
	log     log.Interface
	metrics Metrics

	mu      sync.Mutex
	entries map[string]*entry
	flights map[string]*flight
	errs    map[string]error
	stats   Stats
}

// New builds an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		name:    "default",
		ttl:     DefaultTTL,
		now:     time.Now,
		log:     log.Log,
		metrics: NoopMetrics{},
		entries: make(map[string]*entry),
		flights: make(map[string]*flight),
		errs:    make(map[string]error),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Name reports the label used in logs.
func (c *Cache) Name() string { return c.name }

// Get returns the fresh value stored under key or runs fetch to produce one.
// Callers arriving while a fetch for key is in flight wait for that fetch
// instead of starting another. If ctx ends first, Get returns ctx.Err() and
// the shared fetch keeps running for the remaining waiters.
func (c *Cache) Get(ctx context.Context, key string, fetch Fetcher, opts ...GetOption) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if fetch == nil {
		return nil, ErrNilFetcher
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ttl := c.resolveTTL(opts)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.fresh(c.now()) {
		val := e.value
		c.stats.Hits++
		c.mu.Unlock()
		c.metrics.Hit()
		return val, nil
	}
	f, joined := c.flights[key]
	if joined {
		f.waiters++
		c.stats.Shared++
	} else {
		f = c.launch(ctx, key, fetch, ttl)
		c.stats.Misses++
	}
	c.mu.Unlock()

	if joined {
		c.metrics.Shared()
	} else {
		c.metrics.Miss()
	}
	return c.wait(ctx, key, f)
}

// Refetch invalidates key so the next Get calls its fetcher regardless of
// TTL. A fetch already in flight is detached: its waiters still receive its
// result, but it no longer writes into the cache, and writes it guards with
// WhileAttached are skipped from the moment Refetch returns.
func (c *Cache) Refetch(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.invalid = true
	}
	f, ok := c.flights[key]
	if ok {
		delete(c.flights, key)
	}
	c.mu.Unlock()

	if ok {
		f.detach()
	}
}

// Reload is Refetch followed by Get.
func (c *Cache) Reload(ctx context.Context, key string, fetch Fetcher, opts ...GetOption) (any, error) {
	c.Refetch(key)
	return c.Get(ctx, key, fetch, opts...)
}

// Peek reports what the cache holds for key without fetching.
func (c *Cache) Peek(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{Key: key}
	if e, ok := c.entries[key]; ok {
		s.Value = e.value
		s.FetchedAt = e.fetchedAt
		s.TTL = e.ttl
		s.Fresh = e.fresh(c.now())
	}
	_, s.Loading = c.flights[key]
	s.Err = c.errs[key]
	return s
}

// Delete drops the entry and last error recorded for key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	delete(c.errs, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the stored keys in lexical order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Sweep removes entries that are no longer fresh and returns how many went.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !e.fresh(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps the cache every interval until ctx is done.
func (c *Cache) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.log.WithFields(log.Fields{"cache": c.name, "removed": n}).Debug("swept expired entries")
				}
			}
		}
	}()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	s.Loading = len(c.flights)
	return s
}

func (c *Cache) resolveTTL(opts []GetOption) time.Duration {
	cfg := getOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.ttl > 0 {
		return cfg.ttl
	}
	return c.ttl
}

// launch registers a new flight for key. Callers must hold c.mu.
func (c *Cache) launch(ctx context.Context, key string, fetch Fetcher, ttl time.Duration) *flight {
	f := &flight{done: make(chan struct{}), waiters: 1}
	fctx, cancel := context.WithCancel(context.WithValue(context.WithoutCancel(ctx), flightKey{}, f))
	f.cancel = cancel
	c.flights[key] = f
	go c.run(fctx, key, f, fetch, ttl)
	return f
}

func (c *Cache) run(ctx context.Context, key string, f *flight, fetch Fetcher, ttl time.Duration) {
	defer f.cancel()

	started := c.now()
	val, err := call(ctx, fetch)

	c.mu.Lock()
	current := c.flights[key] == f
	if current {
		delete(c.flights, key)
	}
	f.finished = true
	f.val, f.err = val, err
	switch {
	case err != nil:
		c.stats.Failures++
		if current {
			c.errs[key] = err
		}
	case current:
		c.entries[key] = &entry{value: val, fetchedAt: c.now(), ttl: ttl}
		delete(c.errs, key)
	}
	c.mu.Unlock()
	close(f.done)

	entry := c.log.WithFields(log.Fields{"cache": c.name, "key": key}).WithDuration(c.now().Sub(started))
	switch {
	case err != nil:
		c.metrics.Failure()
		entry.WithError(err).Warn("fetch failed")
	case !current:
		entry.Debug("fetch discarded")
	default:
		entry.Debug("fetched")
	}
}

func (c *Cache) wait(ctx context.Context, key string, f *flight) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		c.leave(key, f)
		return nil, ctx.Err()
	}
}

// leave drops one waiter from f. The last waiter to leave an unfinished
// flight cancels it so its result never lands in the cache.
func (c *Cache) leave(key string, f *flight) {
	c.mu.Lock()
	f.waiters--
	abandon := f.waiters == 0 && !f.finished
	if abandon {
		if c.flights[key] == f {
			delete(c.flights, key)
		}
		c.stats.Abandoned++
	}
	c.mu.Unlock()

	if abandon {
		f.detached.Store(true)
		f.cancel()
		c.metrics.Abandon()
		c.log.WithFields(log.Fields{"cache": c.name, "key": key}).Debug("fetch abandoned")
	}
}

func call(ctx context.Context, fetch Fetcher) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, fmt.Errorf("%w: %v", ErrFetchPanic, r)
		}
	}()
	return fetch(ctx)
}
