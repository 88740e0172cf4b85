// Package auth implements the request-admission authentication pipeline of
// the Books API: a cache of the identity provider's public signing keys
// ([KeyCache]) and a bearer-token verifier ([Verifier]) that validates
// signature, issuer, audience, lifetime, token type, and granted scopes.
//
// The verifier fails closed: any condition that prevents a token from being
// fully validated yields an error, never a partially-validated result. This
// includes the key source being unreachable on a cold cache.
//
// Raw bearer tokens are secrets. They are never logged, stored, or exposed
// by this package; only SHA-256-derived identifiers may be used for
// correlation (see the admission package).
package auth

import (
	"sort"
	"time"
)

// Claims is the decoded, validated result of a bearer token. A Claims
// value is only constructible through a successful [Verifier.Verify] call;
// no partially-validated instance is ever exposed. It is immutable and
// safe for concurrent use.
//
// Claims are created per-request and discarded when the request completes.
// They must not be cached or persisted.
type Claims struct {
	subject   string
	issuer    string
	audience  []string
	expiresAt time.Time
	issuedAt  time.Time
	tokenType string
	scopes    map[string]struct{}
}

// Subject returns the token's sub claim.
func (c *Claims) Subject() string { return c.subject }

// Issuer returns the token's iss claim.
func (c *Claims) Issuer() string { return c.issuer }

// Audience returns a copy of the token's aud claim values.
func (c *Claims) Audience() []string {
	out := make([]string, len(c.audience))
	copy(out, c.audience)
	return out
}

// ExpiresAt returns the token's expiry time.
func (c *Claims) ExpiresAt() time.Time { return c.expiresAt }

// IssuedAt returns the token's issued-at time, or the zero time if the
// token carries no iat claim.
func (c *Claims) IssuedAt() time.Time { return c.issuedAt }

// TokenType returns the token's typ claim, or "" if absent.
func (c *Claims) TokenType() string { return c.tokenType }

// HasScope reports whether the token grants the named scope.
func (c *Claims) HasScope(scope string) bool {
	_, ok := c.scopes[scope]
	return ok
}

// Scopes returns the granted scope set as a sorted slice. Each call
// returns a new slice; callers may modify it freely.
func (c *Claims) Scopes() []string {
	out := make([]string, 0, len(c.scopes))
	for s := range c.scopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
