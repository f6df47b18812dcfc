// Package auth issues and verifies the HMAC-signed bearer tokens the gateway
// accepts, and carries the verified token through request contexts.
package auth

import (
	"context"
	"time"
)

// Claims models the payload embedded inside a signed token. Tenant scopes
// every cached read made on behalf of the bearer.
type Claims struct {
	ID        string
	Subject   string
	Tenant    string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore time.Time
	Metadata  map[string]any
}

// IssueOptions captures the knobs available when minting tokens.
type IssueOptions struct {
	Issuer    string
	Audience  []string
	TTL       time.Duration
	ClockSkew time.Duration
	KeyID     string
	Algorithm string
}

// Token exposes immutable information about a verified token.
type Token interface {
	Raw() string
	Claims() Claims
	ExpiresAt() time.Time
}

// TokenParser verifies a raw bearer token.
type TokenParser interface {
	ParseToken(ctx context.Context, raw string) (Token, error)
}
