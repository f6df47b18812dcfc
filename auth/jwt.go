package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"
	"sync"
	"time"

	"github.com/adeilh/rakhcache/cache"
)

var (
	ErrInvalidFormat     = errors.New("auth: invalid jwt format")
	ErrInvalidSignature  = errors.New("auth: invalid jwt signature")
	ErrUnsupportedAlgo   = errors.New("auth: unsupported jwt algorithm")
	ErrExpired           = errors.New("auth: jwt expired")
	ErrNotYetValid       = errors.New("auth: jwt not yet valid")
	ErrRevoked           = errors.New("auth: jwt revoked")
	ErrInvalidClaims     = errors.New("auth: invalid jwt claims")
	ErrMissingSigningKey = errors.New("auth: missing signing key")
	ErrWeakSigningKey    = errors.New("auth: signing key too short")
	ErrInvalidIssuer     = errors.New("auth: invalid jwt issuer")
	ErrInvalidAudience   = errors.New("auth: invalid jwt audience")
)

const (
	defaultRevocationPrefix = "revoked"
	defaultRevocationTTL    = 24 * time.Hour
)

type jwtHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
	KeyID     string `json:"kid,omitempty"`
}

type jwtPayload struct {
	ID        string         `json:"jti,omitempty"`
	Subject   string         `json:"sub,omitempty"`
	Tenant    string         `json:"tenant,omitempty"`
	Issuer    string         `json:"iss,omitempty"`
	Audience  []string       `json:"aud,omitempty"`
	IssuedAt  int64          `json:"iat,omitempty"`
	ExpiresAt int64          `json:"exp,omitempty"`
	NotBefore int64          `json:"nbf,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type signedToken struct {
	raw    string
	claims Claims
}

func (t signedToken) Raw() string          { return t.raw }
func (t signedToken) Claims() Claims       { return t.claims }
func (t signedToken) ExpiresAt() time.Time { return t.claims.ExpiresAt }

// HMACProvider signs and verifies tokens with a shared secret.
type HMACProvider struct {
	secret      []byte
	allowed     map[string]struct{}
	defaultAlg  string
	leeway      time.Duration
	now         func() time.Time
	issuer      string
	audience    []string
	minSecret   int
	revocations cache.Store
	prefix      string
	revokedTTL  time.Duration

	mu      sync.Mutex
	revoked map[string]time.Time
}

// ProviderOption configures an HMACProvider.
type ProviderOption func(*HMACProvider)

// WithAlgorithms restricts accepted algorithms; the first one signs new tokens.
func WithAlgorithms(algs ...string) ProviderOption {
	return func(p *HMACProvider) {
		if len(algs) == 0 {
			return
		}
		p.allowed = make(map[string]struct{}, len(algs))
		for _, alg := range algs {
			p.allowed[alg] = struct{}{}
		}
		p.defaultAlg = algs[0]
	}
}

// WithIssuer rejects tokens whose iss differs from issuer.
func WithIssuer(issuer string) ProviderOption {
	return func(p *HMACProvider) { p.issuer = issuer }
}

// WithAudience requires at least one of the given audiences.
func WithAudience(aud ...string) ProviderOption {
	return func(p *HMACProvider) { p.audience = cloneStrings(aud) }
}

// WithLeeway sets the tolerance applied to exp and nbf.
func WithLeeway(d time.Duration) ProviderOption {
	return func(p *HMACProvider) {
		if d >= 0 {
			p.leeway = d
		}
	}
}

// WithNowFunc allows injecting a deterministic clock (useful for tests).
func WithNowFunc(fn func() time.Time) ProviderOption {
	return func(p *HMACProvider) {
		if fn != nil {
			p.now = fn
		}
	}
}

// WithMinSecretLength rejects secrets shorter than n bytes.
func WithMinSecretLength(n int) ProviderOption {
	return func(p *HMACProvider) { p.minSecret = n }
}

// WithRevocationStore persists revocations in store under prefix so every
// gateway replica sharing the store honours them.
func WithRevocationStore(store cache.Store, prefix string) ProviderOption {
	return func(p *HMACProvider) {
		p.revocations = store
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			p.prefix = prefix
		}
	}
}

// NewHMACProvider builds a provider. HS256 is used when no algorithm is set.
func NewHMACProvider(secret []byte, opts ...ProviderOption) (*HMACProvider, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSigningKey
	}
	p := &HMACProvider{
		secret:     append([]byte(nil), secret...),
		allowed:    map[string]struct{}{"HS256": {}},
		defaultAlg: "HS256",
		leeway:     30 * time.Second,
		now:        time.Now,
		prefix:     defaultRevocationPrefix,
		revokedTTL: defaultRevocationTTL,
		revoked:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	for alg := range p.allowed {
		if _, err := signingHasher(alg); err != nil {
			return nil, err
		}
	}
	if p.minSecret > 0 && len(p.secret) < p.minSecret {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSigningKey, p.minSecret)
	}
	return p, nil
}

// Issue signs claims. A missing ID, iat or nbf is filled in.
func (p *HMACProvider) Issue(ctx context.Context, claims Claims, opts IssueOptions) (Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	alg := opts.Algorithm
	if alg == "" {
		alg = p.defaultAlg
	}
	if _, ok := p.allowed[alg]; !ok {
		return nil, ErrUnsupportedAlgo
	}
	c, err := p.prepare(claims, opts)
	if err != nil {
		return nil, err
	}

	head, err := encodeSegment(jwtHeader{Algorithm: alg, Type: "JWT", KeyID: opts.KeyID})
	if err != nil {
		return nil, err
	}
	body, err := encodeSegment(toPayload(c))
	if err != nil {
		return nil, err
	}
	input := head + "." + body
	sig, err := p.sign(input, alg)
	if err != nil {
		return nil, err
	}
	return signedToken{raw: input + "." + base64.RawURLEncoding.EncodeToString(sig), claims: c}, nil
}

// Parse verifies signature, time window, issuer, audience and revocation.
func (p *HMACProvider) Parse(ctx context.Context, raw string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidFormat
	}
	var header jwtHeader
	if err := decodeSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidFormat
	}
	if _, ok := p.allowed[header.Algorithm]; !ok {
		return nil, ErrUnsupportedAlgo
	}
	provided, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidSignature
	}
	expected, err := p.sign(parts[0]+"."+parts[1], header.Algorithm)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(provided, expected) {
		return nil, ErrInvalidSignature
	}

	var payload jwtPayload
	if err := decodeSegment(parts[1], &payload); err != nil {
		return nil, ErrInvalidFormat
	}
	claims := fromPayload(payload)
	if err := p.validate(claims); err != nil {
		return nil, err
	}
	revoked, err := p.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevoked
	}
	return signedToken{raw: raw, claims: claims}, nil
}

// ParseToken satisfies TokenParser.
func (p *HMACProvider) ParseToken(ctx context.Context, raw string) (Token, error) {
	return p.Parse(ctx, raw)
}

// Revoke blocks tokenID until expiresAt plus leeway. A zero expiresAt keeps
// the block for a day.
func (p *HMACProvider) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return fmt.Errorf("%w: empty token id", ErrInvalidClaims)
	}
	ttl := p.revokedTTL
	if !expiresAt.IsZero() {
		ttl = expiresAt.Add(p.leeway).Sub(p.now())
		if ttl <= 0 {
			return nil
		}
	}
	if p.revocations != nil {
		return p.revocations.Set(ctx, p.revocationKey(tokenID), []byte{1}, ttl)
	}
	now := p.now()
	p.mu.Lock()
	for id, until := range p.revoked {
		if !now.Before(until) {
			delete(p.revoked, id)
		}
	}
	p.revoked[tokenID] = now.Add(ttl)
	p.mu.Unlock()
	return nil
}

func (p *HMACProvider) isRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	if p.revocations != nil {
		_, err := p.revocations.Get(ctx, p.revocationKey(tokenID))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, cache.ErrNotFound):
			return false, nil
		default:
			return false, fmt.Errorf("auth: revocation lookup: %w", err)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !p.now().Before(until) {
		delete(p.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

func (p *HMACProvider) revocationKey(id string) string {
	return cache.HashKey(p.prefix, id)
}

func (p *HMACProvider) prepare(claims Claims, opts IssueOptions) (Claims, error) {
	c := claims
	c.Audience = cloneStrings(claims.Audience)
	c.Metadata = cloneMetadata(claims.Metadata)

	if opts.TTL < 0 {
		return Claims{}, fmt.Errorf("%w: negative ttl", ErrInvalidClaims)
	}
	if c.ID == "" {
		id, err := randomID()
		if err != nil {
			return Claims{}, err
		}
		c.ID = id
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = p.now()
	}
	if c.ExpiresAt.IsZero() && opts.TTL > 0 {
		c.ExpiresAt = c.IssuedAt.Add(opts.TTL)
	}
	if c.NotBefore.IsZero() {
		c.NotBefore = c.IssuedAt.Add(-opts.ClockSkew)
	}
	if !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(c.IssuedAt) {
		return Claims{}, fmt.Errorf("%w: expires before issued", ErrInvalidClaims)
	}
	if c.Issuer == "" {
		c.Issuer = opts.Issuer
	}
	if len(c.Audience) == 0 {
		c.Audience = cloneStrings(opts.Audience)
	}
	return c, nil
}

func (p *HMACProvider) validate(c Claims) error {
	now := p.now()
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt.Add(p.leeway)) {
		return ErrExpired
	}
	if !c.NotBefore.IsZero() && now.Add(p.leeway).Before(c.NotBefore) {
		return ErrNotYetValid
	}
	if p.issuer != "" && c.Issuer != p.issuer {
		return ErrInvalidIssuer
	}
	if len(p.audience) > 0 && !audienceMatch(c.Audience, p.audience) {
		return ErrInvalidAudience
	}
	return nil
}

func audienceMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (p *HMACProvider) sign(input, alg string) ([]byte, error) {
	hasher, err := signingHasher(alg)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(hasher, p.secret)
	_, _ = mac.Write([]byte(input))
	return mac.Sum(nil), nil
}

func signingHasher(alg string) (func() hash.Hash, error) {
	switch alg {
	case "HS256":
		return sha256.New, nil
	case "HS384":
		return sha512.New384, nil
	case "HS512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgo
	}
}

func toPayload(c Claims) jwtPayload {
	return jwtPayload{
		ID:        c.ID,
		Subject:   c.Subject,
		Tenant:    c.Tenant,
		Issuer:    c.Issuer,
		Audience:  cloneStrings(c.Audience),
		IssuedAt:  unixOrZero(c.IssuedAt),
		ExpiresAt: unixOrZero(c.ExpiresAt),
		NotBefore: unixOrZero(c.NotBefore),
		Metadata:  cloneMetadata(c.Metadata),
	}
}

func fromPayload(p jwtPayload) Claims {
	return Claims{
		ID:        p.ID,
		Subject:   p.Subject,
		Tenant:    p.Tenant,
		Issuer:    p.Issuer,
		Audience:  cloneStrings(p.Audience),
		IssuedAt:  timeFromUnix(p.IssuedAt),
		ExpiresAt: timeFromUnix(p.ExpiresAt),
		NotBefore: timeFromUnix(p.NotBefore),
		Metadata:  cloneMetadata(p.Metadata),
	}
}

func encodeSegment(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeSegment(segment string, dest any) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	return append([]string(nil), src...)
}

func cloneMetadata(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func randomID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
