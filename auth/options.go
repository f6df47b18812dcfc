package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/apex/log"
)

var (
	ErrNilParser      = errors.New("auth: middleware requires a token parser")
	ErrTokenNotFound  = errors.New("auth: no token presented")
	ErrMalformedToken = errors.New("auth: malformed token source")
)

// TokenExtractor pulls the raw token out of a request.
type TokenExtractor func(*http.Request) (string, error)

type MiddlewareOption func(*Middleware)

// WithTokenExtractor replaces the default Authorization header extractor.
func WithTokenExtractor(extractor TokenExtractor) MiddlewareOption {
	return func(m *Middleware) {
		if extractor != nil {
			m.extract = extractor
		}
	}
}

// WithSkipper lets matching requests through without a token. CORS
// preflights are always skipped.
func WithSkipper(skip func(*http.Request) bool) MiddlewareOption {
	return func(m *Middleware) {
		if skip != nil {
			m.skip = skip
		}
	}
}

// WithErrorHandler replaces the JSON 401 response.
func WithErrorHandler(handler func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *Middleware) {
		if handler != nil {
			m.reject = handler
		}
	}
}

// WithMiddlewareLogger routes rejected-token debug lines to l.
func WithMiddlewareLogger(l log.Interface) MiddlewareOption {
	return func(m *Middleware) {
		if l != nil {
			m.log = l
		}
	}
}

// BearerTokenExtractor reads "Authorization: Bearer <token>". The scheme is
// matched case-insensitively.
func BearerTokenExtractor() TokenExtractor {
	return func(r *http.Request) (string, error) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			return "", ErrTokenNotFound
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", ErrMalformedToken
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", ErrMalformedToken
		}
		return token, nil
	}
}

// CookieTokenExtractor reads the token from the named cookie, for browser
// pages that cannot set headers on every request.
func CookieTokenExtractor(name string) TokenExtractor {
	name = strings.TrimSpace(name)
	return func(r *http.Request) (string, error) {
		if name == "" {
			return "", ErrMalformedToken
		}
		cookie, err := r.Cookie(name)
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrTokenNotFound
		}
		if err != nil {
			return "", err
		}
		if v := strings.TrimSpace(cookie.Value); v != "" {
			return v, nil
		}
		return "", ErrMalformedToken
	}
}

// ChainExtractors returns the first token any extractor finds. When all fail
// the last error is returned.
func ChainExtractors(extractors ...TokenExtractor) TokenExtractor {
	chain := make([]TokenExtractor, 0, len(extractors))
	for _, e := range extractors {
		if e != nil {
			chain = append(chain, e)
		}
	}
	return func(r *http.Request) (string, error) {
		err := ErrTokenNotFound
		for _, extract := range chain {
			token, e := extract(r)
			if e == nil {
				return token, nil
			}
			err = e
		}
		return "", err
	}
}

// rejectJSON answers with {"error": msg}. Timeouts while checking revocation
// are reported as 504, everything else as 401 with an RFC 6750 challenge.
func rejectJSON(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, ErrTokenNotFound):
		w.Header().Set("WWW-Authenticate", `Bearer realm="rakhcache"`)
	default:
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="rakhcache", error="invalid_token", error_description=%q`, err.Error()))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
