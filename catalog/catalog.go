// Package catalog serves the backend's read-mostly collections through one
// request cache per tenant, optionally backed by a shared store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/adeilh/rakhcache/api"
	"github.com/adeilh/rakhcache/reqcache"
)

var (
	ErrUnknownResource = errors.New("catalog: unknown resource")
	ErrMissingTenant   = errors.New("catalog: tenant is required")
)

// Source is the backend the catalog reads through. *api.Client satisfies it.
type Source interface {
	Warehouses(ctx context.Context, tenant string) ([]api.Warehouse, error)
	Suppliers(ctx context.Context, tenant string) ([]api.Supplier, error)
	PurchaseOrders(ctx context.Context, tenant string) ([]api.PurchaseOrder, error)
	Products(ctx context.Context, tenant string) ([]api.Product, error)
	Investments(ctx context.Context, tenant string) ([]api.Investment, error)
	Patients(ctx context.Context, tenant string) ([]api.Patient, error)
	Appointments(ctx context.Context, tenant string) ([]api.Appointment, error)
}

type Service struct {
	src       Source
	backing   *reqcache.Backing
	ttls      map[Resource]time.Duration
	log       log.Interface
	cacheOpts []reqcache.Option

	mu      sync.Mutex
	tenants map[string]*reqcache.Cache
}

type Option func(*Service)

// WithBacking adds a shared second tier consulted before the backend.
func WithBacking(b *reqcache.Backing) Option {
	return func(s *Service) { s.backing = b }
}

// WithTTL overrides the freshness window of one resource.
func WithTTL(r Resource, d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttls[r] = d
		}
	}
}

// WithLogger routes catalog and cache logs to l.
func WithLogger(l log.Interface) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCacheOptions is applied to every per-tenant cache.
func WithCacheOptions(opts ...reqcache.Option) Option {
	return func(s *Service) { s.cacheOpts = append(s.cacheOpts, opts...) }
}

func New(src Source, opts ...Option) *Service {
	s := &Service{
		src:     src,
		ttls:    make(map[Resource]time.Duration, len(DefaultTTLs)),
		log:     log.Log,
		tenants: make(map[string]*reqcache.Cache),
	}
	for r, d := range DefaultTTLs {
		s.ttls[r] = d
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// TTL reports the freshness window for r.
func (s *Service) TTL(r Resource) time.Duration {
	return s.ttls[r]
}

func (s *Service) Warehouses(ctx context.Context, tenant string) ([]api.Warehouse, error) {
	return fetch(ctx, s, tenant, Warehouses, s.src.Warehouses)
}

func (s *Service) Suppliers(ctx context.Context, tenant string) ([]api.Supplier, error) {
	return fetch(ctx, s, tenant, Suppliers, s.src.Suppliers)
}

func (s *Service) PurchaseOrders(ctx context.Context, tenant string) ([]api.PurchaseOrder, error) {
	return fetch(ctx, s, tenant, PurchaseOrders, s.src.PurchaseOrders)
}

func (s *Service) Products(ctx context.Context, tenant string) ([]api.Product, error) {
	return fetch(ctx, s, tenant, Products, s.src.Products)
}

func (s *Service) Investments(ctx context.Context, tenant string) ([]api.Investment, error) {
	return fetch(ctx, s, tenant, Investments, s.src.Investments)
}

func (s *Service) Patients(ctx context.Context, tenant string) ([]api.Patient, error) {
	return fetch(ctx, s, tenant, Patients, s.src.Patients)
}

func (s *Service) Appointments(ctx context.Context, tenant string) ([]api.Appointment, error) {
	return fetch(ctx, s, tenant, Appointments, s.src.Appointments)
}

// List returns the cached collection for r. The dynamic type is the same
// slice the typed accessor returns.
func (s *Service) List(ctx context.Context, tenant string, r Resource) (any, error) {
	c, err := s.cache(tenant)
	if err != nil {
		return nil, err
	}
	f, err := s.fetcher(tenant, r)
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, string(r), f, reqcache.WithTTL(s.ttls[r]))
}

// Refetch drops the cached copy of r in memory and in the backing store,
// then loads it again.
func (s *Service) Refetch(ctx context.Context, tenant string, r Resource) (any, error) {
	if err := s.Invalidate(ctx, tenant, r); err != nil {
		return nil, err
	}
	return s.List(ctx, tenant, r)
}

// Invalidate marks r stale for tenant without reloading it.
func (s *Service) Invalidate(ctx context.Context, tenant string, r Resource) error {
	if err := validResource(r); err != nil {
		return err
	}
	c, err := s.cache(tenant)
	if err != nil {
		return err
	}
	c.Refetch(string(r))
	if err := s.backing.Invalidate(ctx, backingKey(tenant, r)); err != nil {
		s.log.WithFields(log.Fields{"tenant": tenant, "resource": r}).WithError(err).Warn("backing invalidate failed")
	}
	return nil
}

// Forget drops everything cached for tenant, in memory and in the backing
// store, and reports how many backing entries were removed. Fetches in
// flight are detached so their results are not stored.
func (s *Service) Forget(ctx context.Context, tenant string) (int64, error) {
	c, err := s.cache(tenant)
	if err != nil {
		return 0, err
	}
	tenant = strings.TrimSpace(tenant)
	keys := make([]string, 0, len(resources))
	for _, r := range resources {
		c.Refetch(string(r))
		c.Delete(string(r))
		keys = append(keys, backingKey(tenant, r))
	}
	n, err := s.backing.InvalidateAll(ctx, keys...)
	if err != nil {
		return n, fmt.Errorf("catalog: forget %s: %w", tenant, err)
	}
	s.log.WithFields(log.Fields{"tenant": tenant, "backing_removed": n}).Info("tenant cache forgotten")
	return n, nil
}

// Warm loads every resource for tenant concurrently.
func (s *Service) Warm(ctx context.Context, tenant string) error {
	c, err := s.cache(tenant)
	if err != nil {
		return err
	}
	loads := make([]reqcache.Load, 0, len(resources))
	for _, r := range resources {
		f, err := s.fetcher(tenant, r)
		if err != nil {
			return err
		}
		loads = append(loads, reqcache.Load{Key: string(r), Fetch: f, TTL: s.ttls[r]})
	}
	start := time.Now()
	err = c.Warm(ctx, loads...)
	s.log.WithFields(log.Fields{"tenant": tenant, "resources": len(loads)}).WithDuration(time.Since(start)).Debug("warmed")
	return err
}

// State reports what is cached for r without fetching.
func (s *Service) State(tenant string, r Resource) (reqcache.State, error) {
	if err := validResource(r); err != nil {
		return reqcache.State{}, err
	}
	c, err := s.cache(tenant)
	if err != nil {
		return reqcache.State{}, err
	}
	return c.Peek(string(r)), nil
}

// Stats returns counters per tenant seen so far.
func (s *Service) Stats() map[string]reqcache.Stats {
	s.mu.Lock()
	caches := make(map[string]*reqcache.Cache, len(s.tenants))
	for t, c := range s.tenants {
		caches[t] = c
	}
	s.mu.Unlock()

	out := make(map[string]reqcache.Stats, len(caches))
	for t, c := range caches {
		out[t] = c.Stats()
	}
	return out
}

// Tenants lists tenants with a cache, sorted.
func (s *Service) Tenants() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.tenants))
	for t := range s.tenants {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Sweep drops expired entries from every tenant cache.
func (s *Service) Sweep() int {
	s.mu.Lock()
	caches := make([]*reqcache.Cache, 0, len(s.tenants))
	for _, c := range s.tenants {
		caches = append(caches, c)
	}
	s.mu.Unlock()

	removed := 0
	for _, c := range caches {
		removed += c.Sweep()
	}
	return removed
}

// StartJanitor sweeps every interval until ctx is done.
func (s *Service) StartJanitor(ctx context.Context, every time.Duration) {
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
				if n := s.Sweep(); n > 0 {
					s.log.WithField("removed", n).Debug("swept expired entries")
				}
			}
		}
	}()
}

func (s *Service) cache(tenant string) (*reqcache.Cache, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return nil, ErrMissingTenant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.tenants[tenant]; ok {
		return c, nil
	}
	logger := s.log.WithField("tenant", tenant)
	opts := append([]reqcache.Option{
		reqcache.WithName("tenant:" + tenant),
		reqcache.WithLogger(logger),
	}, s.cacheOpts...)
	c := reqcache.New(opts...)
	s.tenants[tenant] = c
	return c, nil
}

// fetcher builds the untyped origin for r, reading through the backing tier.
func (s *Service) fetcher(tenant string, r Resource) (reqcache.Fetcher, error) {
	tenant = strings.TrimSpace(tenant)
	switch r {
	case Warehouses:
		return untyped(origin(s, tenant, r, s.src.Warehouses)), nil
	case Suppliers:
		return untyped(origin(s, tenant, r, s.src.Suppliers)), nil
	case PurchaseOrders:
		return untyped(origin(s, tenant, r, s.src.PurchaseOrders)), nil
	case Products:
		return untyped(origin(s, tenant, r, s.src.Products)), nil
	case Investments:
		return untyped(origin(s, tenant, r, s.src.Investments)), nil
	case Patients:
		return untyped(origin(s, tenant, r, s.src.Patients)), nil
	case Appointments:
		return untyped(origin(s, tenant, r, s.src.Appointments)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, r)
	}
}

func fetch[T any](ctx context.Context, s *Service, tenant string, r Resource, load func(context.Context, string) ([]T, error)) ([]T, error) {
	c, err := s.cache(tenant)
	if err != nil {
		return nil, err
	}
	return reqcache.Fetch(ctx, c, string(r), origin(s, strings.TrimSpace(tenant), r, load), reqcache.WithTTL(s.ttls[r]))
}

func origin[T any](s *Service, tenant string, r Resource, load func(context.Context, string) ([]T, error)) reqcache.FetchFunc[[]T] {
	direct := func(ctx context.Context) ([]T, error) { return load(ctx, tenant) }
	return reqcache.Through(s.backing, backingKey(tenant, r), s.ttls[r], direct)
}

func untyped[T any](f reqcache.FetchFunc[T]) reqcache.Fetcher {
	return func(ctx context.Context) (any, error) { return f(ctx) }
}

func backingKey(tenant string, r Resource) string {
	return "tenant:" + strings.TrimSpace(tenant) + ":" + string(r)
}

func validResource(r Resource) error {
	if _, ok := DefaultTTLs[r]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownResource, r)
	}
	return nil
}
