package auth

import "context"

// contextKey is a private type for context keys to avoid collisions with
// keys from other packages.
type contextKey struct{}

// claimsKey is the context key under which validated claims are stored.
var claimsKey = contextKey{}

// ContextWithClaims returns a copy of ctx carrying the validated claims.
// The admission middleware attaches claims after a successful verification
// so downstream handlers can make authorization decisions.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the validated claims stored in ctx, or false
// if the request was not admitted through the authentication middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

// MustClaimsFromContext returns the validated claims stored in ctx and
// panics if absent. Intended for handlers that are only reachable behind
// the admission middleware, where missing claims is a programming error.
func MustClaimsFromContext(ctx context.Context) *Claims {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		panic("auth: no claims in context; handler not behind admission middleware")
	}
	return claims
}
