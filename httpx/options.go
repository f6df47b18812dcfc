package httpx

import (
	"strings"
	"time"

	"github.com/apex/log"
)

// ServerOptions configures the gateway listener.
type ServerOptions struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	Logger          log.Interface
}

type ServerOption func(*ServerOptions)

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		Address:         ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Logger:          log.Log,
	}
}

func WithAddress(addr string) ServerOption {
	return func(o *ServerOptions) {
		if addr = strings.TrimSpace(addr); addr != "" {
			o.Address = addr
		}
	}
}

// WithTimeouts bounds reading a request and writing its response. The write
// timeout must leave room for a backend fetch.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if read > 0 {
			o.ReadTimeout = read
		}
		if write > 0 {
			o.WriteTimeout = write
		}
	}
}

func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// WithCORSOrigins lets browsers on origins call the gateway with a bearer
// token. No origins disables CORS.
func WithCORSOrigins(origins ...string) ServerOption {
	return func(o *ServerOptions) {
		o.CORSOrigins = nil
		for _, origin := range origins {
			if origin = strings.TrimSpace(origin); origin != "" {
				o.CORSOrigins = append(o.CORSOrigins, origin)
			}
		}
	}
}

// WithLogger routes request and lifecycle logs to l.
func WithLogger(l log.Interface) ServerOption {
	return func(o *ServerOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// ClientOptions configures a backend Client.
type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	Headers   map[string]string
	UserAgent string
	Logger    log.Interface
}

type ClientOption func(*ClientOptions)

func defaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:   10 * time.Second,
		Headers:   map[string]string{"Accept": "application/json"},
		UserAgent: "rakhcache",
		Logger:    log.Log,
	}
}

func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) {
		if url = strings.TrimRight(strings.TrimSpace(url), "/"); url != "" {
			o.BaseURL = url
		}
	}
}

func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHeaders adds static headers to every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(o *ClientOptions) {
		if ua = strings.TrimSpace(ua); ua != "" {
			o.UserAgent = ua
		}
	}
}

// WithClientLogger routes per-request debug lines to l.
func WithClientLogger(l log.Interface) ClientOption {
	return func(o *ClientOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}
