package auth

import (
	"context"
	"net/http"

	"github.com/apex/log"
)

// Middleware verifies tokens on net/http handlers and stores the verified
// token in the request context.
type Middleware struct {
	parser  TokenParser
	extract TokenExtractor
	skip    func(*http.Request) bool
	reject  func(http.ResponseWriter, *http.Request, error)
	log     log.Interface
}

type tokenKey struct{}

func NewMiddleware(parser TokenParser, opts ...MiddlewareOption) (*Middleware, error) {
	if parser == nil {
		return nil, ErrNilParser
	}
	m := &Middleware{
		parser:  parser,
		extract: BearerTokenExtractor(),
		skip:    func(*http.Request) bool { return false },
		reject:  rejectJSON,
		log:     log.Log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		token, err := m.verify(r)
		if err != nil {
			m.log.WithField("path", r.URL.Path).WithError(err).Debug("token rejected")
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), token)))
	})
}

func (m *Middleware) verify(r *http.Request) (Token, error) {
	raw, err := m.extract(r)
	if err != nil {
		return nil, err
	}
	return m.parser.ParseToken(r.Context(), raw)
}

// WithToken returns a copy of ctx carrying token.
func WithToken(ctx context.Context, token Token) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFromContext(ctx context.Context) (Token, bool) {
	if ctx == nil {
		return nil, false
	}
	token, ok := ctx.Value(tokenKey{}).(Token)
	return token, ok && token != nil
}

// TenantFromContext returns the tenant claim of the verified token, if any.
func TenantFromContext(ctx context.Context) (string, bool) {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return "", false
	}
	tenant := token.Claims().Tenant
	return tenant, tenant != ""
}
