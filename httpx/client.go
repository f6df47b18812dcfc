package httpx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("http %d: %s %s", e.Code, e.Method, e.URL)
	}
	return fmt.Sprintf("http %d: %s", e.Code, body)
}

// Client reads JSON from one backend. A request id found in the request
// context is forwarded so backend logs line up with the gateway's.
type Client struct {
	resty *resty.Client
	log   log.Interface
}

func NewClient(opts ...ClientOption) *Client {
	cfg := defaultClientOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeaders(cfg.Headers).
		SetHeader("User-Agent", cfg.UserAgent)
	if cfg.BaseURL != "" {
		rc.SetBaseURL(cfg.BaseURL)
	}
	return &Client{resty: rc, log: cfg.Logger}
}

// RequestOption adjusts a single request.
type RequestOption func(*resty.Request)

// WithHeader sets a header when value is not blank.
func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		if strings.TrimSpace(value) != "" {
			r.SetHeader(key, value)
		}
	}
}

// WithBearer authenticates the request. A blank token sends nothing.
func WithBearer(token string) RequestOption {
	return func(r *resty.Request) {
		if token = strings.TrimSpace(token); token != "" {
			r.SetAuthScheme("Bearer").SetAuthToken(token)
		}
	}
}

// Get decodes a 2xx JSON body into result.
func (c *Client) Get(ctx context.Context, path string, result any, opts ...RequestOption) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)
	if id := RequestIDFromContext(ctx); id != "" {
		req.SetHeader(HeaderRequestID, id)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}
	if result != nil {
		req.SetResult(result)
	}

	start := time.Now()
	resp, err := req.Get(path)
	entry := c.log.WithFields(log.Fields{"method": resty.MethodGet, "path": path}).WithDuration(time.Since(start))
	if err != nil {
		entry.WithError(err).Debug("backend request failed")
		return resp, err
	}
	entry.WithField("status", resp.StatusCode()).Debug("backend request")
	if resp.IsError() {
		return resp, &StatusError{Method: resty.MethodGet, URL: resp.Request.URL, Code: resp.StatusCode(), Body: resp.Body()}
	}
	return resp, nil
}
