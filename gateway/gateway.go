// Package gateway exposes the tenant catalog over HTTP.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/apex/log"

	"github.com/adeilh/rakhcache/api"
	"github.com/adeilh/rakhcache/auth"
	"github.com/adeilh/rakhcache/catalog"
	"github.com/adeilh/rakhcache/httpx"
	"github.com/adeilh/rakhcache/reqcache"
)

// Catalog is the slice of *catalog.Service the gateway serves.
type Catalog interface {
	List(ctx context.Context, tenant string, r catalog.Resource) (any, error)
	Refetch(ctx context.Context, tenant string, r catalog.Resource) (any, error)
	State(tenant string, r catalog.Resource) (reqcache.State, error)
	Forget(ctx context.Context, tenant string) (int64, error)
	Stats() map[string]reqcache.Stats
}

type Gateway struct {
	catalog Catalog
	auth    *auth.Middleware
	log     log.Interface
	timeout time.Duration
}

type Option func(*Gateway)

// WithRequestTimeout bounds each backend-facing request.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(l log.Interface) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

func New(c Catalog, mw *auth.Middleware, opts ...Option) *Gateway {
	g := &Gateway{catalog: c, auth: mw, log: log.Log, timeout: 10 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Register mounts the routes on a.
func (g *Gateway) Register(a *httpx.App) {
	a.GET("/healthz", g.health)
	v1 := a.Group("/v1", httpx.AuthMiddleware(g.auth))
	v1.GET("/cache/stats", g.stats)
	v1.DELETE("/cache", g.forget)
	v1.GET("/:resource", g.list)
	v1.POST("/:resource/refetch", g.refetch)
	v1.GET("/:resource/state", g.state)
}

type listResponse struct {
	Resource  catalog.Resource `json:"resource"`
	Tenant    string           `json:"tenant"`
	FetchedAt *time.Time       `json:"fetched_at,omitempty"`
	Data      any              `json:"data"`
}

type stateResponse struct {
	Resource   catalog.Resource `json:"resource"`
	Tenant     string           `json:"tenant"`
	Cached     bool             `json:"cached"`
	Fresh      bool             `json:"fresh"`
	Loading    bool             `json:"loading"`
	FetchedAt  *time.Time       `json:"fetched_at,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	TTLSeconds float64          `json:"ttl_seconds,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type forgetResponse struct {
	Tenant  string `json:"tenant"`
	Removed int64  `json:"backing_removed"`
}

type statsResponse struct {
	Tenant   string         `json:"tenant"`
	Stats    reqcache.Stats `json:"stats"`
	HitRatio float64        `json:"hit_ratio"`
}

func (g *Gateway) health(c httpx.Context) error {
	return c.JSON(httpx.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) list(c httpx.Context) error {
	return g.load(c, g.catalog.List)
}

func (g *Gateway) refetch(c httpx.Context) error {
	return g.load(c, g.catalog.Refetch)
}

func (g *Gateway) load(c httpx.Context, fn func(context.Context, string, catalog.Resource) (any, error)) error {
	tenant, r, err := g.target(c)
	if err != nil {
		return g.fail(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), g.timeout)
	defer cancel()

	data, err := fn(ctx, tenant, r)
	if err != nil {
		return g.fail(c, err)
	}
	resp := listResponse{Resource: r, Tenant: tenant, Data: data}
	if st, err := g.catalog.State(tenant, r); err == nil && !st.FetchedAt.IsZero() {
		resp.FetchedAt = &st.FetchedAt
	}
	return c.JSON(httpx.StatusOK, resp)
}

func (g *Gateway) state(c httpx.Context) error {
	tenant, r, err := g.target(c)
	if err != nil {
		return g.fail(c, err)
	}
	st, err := g.catalog.State(tenant, r)
	if err != nil {
		return g.fail(c, err)
	}
	resp := stateResponse{
		Resource: r,
		Tenant:   tenant,
		Cached:   !st.FetchedAt.IsZero(),
		Fresh:    st.Fresh,
		Loading:  st.Loading,
	}
	if resp.Cached {
		fetched, expires := st.FetchedAt, st.ExpiresAt()
		resp.FetchedAt, resp.ExpiresAt = &fetched, &expires
		resp.TTLSeconds = st.TTL.Seconds()
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return c.JSON(httpx.StatusOK, resp)
}

func (g *Gateway) stats(c httpx.Context) error {
	tenant, ok := auth.TenantFromContext(c.Request().Context())
	if !ok {
		return g.fail(c, catalog.ErrMissingTenant)
	}
	s := g.catalog.Stats()[tenant]
	return c.JSON(httpx.StatusOK, statsResponse{Tenant: tenant, Stats: s, HitRatio: s.HitRatio()})
}

func (g *Gateway) forget(c httpx.Context) error {
	tenant, ok := auth.TenantFromContext(c.Request().Context())
	if !ok {
		return g.fail(c, catalog.ErrMissingTenant)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), g.timeout)
	defer cancel()

	n, err := g.catalog.Forget(ctx, tenant)
	if err != nil {
		return g.fail(c, err)
	}
	return c.JSON(httpx.StatusOK, forgetResponse{Tenant: tenant, Removed: n})
}

func (g *Gateway) target(c httpx.Context) (string, catalog.Resource, error) {
	r, err := catalog.ParseResource(c.Param("resource"))
	if err != nil {
		return "", "", err
	}
	tenant, ok := auth.TenantFromContext(c.Request().Context())
	if !ok {
		return "", "", catalog.ErrMissingTenant
	}
	return tenant, r, nil
}

// fail maps catalog and backend errors to HTTP statuses.
func (g *Gateway) fail(c httpx.Context, err error) error {
	status, msg := httpx.StatusInternalError, "internal error"
	var apiErr *api.Error
	switch {
	case errors.Is(err, catalog.ErrUnknownResource):
		status, msg = httpx.StatusNotFound, err.Error()
	case errors.Is(err, catalog.ErrMissingTenant):
		status, msg = httpx.StatusForbidden, "token carries no tenant"
	case errors.As(err, &apiErr):
		status, msg = httpx.StatusBadGateway, "backend: "+apiErr.Detail
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = httpx.StatusGatewayTimeout, "backend did not answer in time"
	case errors.Is(err, context.Canceled):
		status, msg = httpx.StatusServiceUnavailable, "request cancelled"
	case errors.Is(err, reqcache.ErrFetchPanic):
	default:
		status, msg = httpx.StatusBadGateway, "backend unreachable"
	}

	entry := g.log.WithFields(log.Fields{
		"path":       c.Request().URL.Path,
		"status":     status,
		"request_id": c.Request().Header.Get(httpx.HeaderRequestID),
	}).WithError(err)
	if status >= httpx.StatusInternalError {
		entry.Warn("request failed")
	} else {
		entry.Debug("request rejected")
	}
	return httpx.HTTPError(status, msg)
}
