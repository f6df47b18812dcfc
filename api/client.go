// Package api is a thin client for the business backend's read endpoints.
package api

import (
	"context"
	"time"

	"github.com/adeilh/rakhcache/httpx"
)

// HeaderTenant scopes every backend request to one tenant.
const HeaderTenant = "X-Tenant-ID"

const (
	PathWarehouses     = "/inventory/warehouses"
	PathSuppliers      = "/inventory/suppliers"
	PathPurchaseOrders = "/inventory/purchase-orders"
	PathProducts       = "/pos/products"
	PathInvestments    = "/investments"
	PathPatients       = "/healthcare/patients"
	PathAppointments   = "/healthcare/appointments"
)

type Client struct {
	http  *httpx.Client
	token string
}

type Option func(*options)

type options struct {
	token   string
	timeout time.Duration
	headers map[string]string
}

// WithToken authenticates every request with a service bearer token.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHeaders adds static headers to every request.
func WithHeaders(h map[string]string) Option {
	return func(o *options) { o.headers = h }
}

// New builds a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Client{
		http: httpx.NewClient(
			httpx.WithBaseURL(baseURL),
			httpx.WithClientTimeout(o.timeout),
			httpx.WithHeaders(o.headers),
		),
		token: o.token,
	}
}

func (c *Client) Warehouses(ctx context.Context, tenant string) ([]Warehouse, error) {
	return list[Warehouse](ctx, c, tenant, PathWarehouses)
}

func (c *Client) Suppliers(ctx context.Context, tenant string) ([]Supplier, error) {
	return list[Supplier](ctx, c, tenant, PathSuppliers)
}

func (c *Client) PurchaseOrders(ctx context.Context, tenant string) ([]PurchaseOrder, error) {
	return list[PurchaseOrder](ctx, c, tenant, PathPurchaseOrders)
}

func (c *Client) Products(ctx context.Context, tenant string) ([]Product, error) {
	return list[Product](ctx, c, tenant, PathProducts)
}

func (c *Client) Investments(ctx context.Context, tenant string) ([]Investment, error) {
	return list[Investment](ctx, c, tenant, PathInvestments)
}

func (c *Client) Patients(ctx context.Context, tenant string) ([]Patient, error) {
	return list[Patient](ctx, c, tenant, PathPatients)
}

func (c *Client) Appointments(ctx context.Context, tenant string) ([]Appointment, error) {
	return list[Appointment](ctx, c, tenant, PathAppointments)
}

// list GETs a JSON array. A null body decodes to an empty, non-nil slice.
func list[T any](ctx context.Context, c *Client, tenant, path string) ([]T, error) {
	var out []T
	_, err := c.http.Get(ctx, path, &out,
		httpx.WithBearer(c.token),
		httpx.WithHeader(HeaderTenant, tenant),
	)
	if err != nil {
		return nil, classify(err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
