package admission

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/books-api/pkg/auth"
	"github.com/shelfwise/books-api/pkg/ratelimit"
)

const (
	gateTestIssuer   = "https://idp.example/realms/books"
	gateTestAudience = "books-api"
	gateTestKid      = "gate-key-1"
)

// gateTestKeySource serves a single RSA public key under gateTestKid.
type gateTestKeySource struct {
	key any
	err error
}

func (s *gateTestKeySource) Get(_ context.Context, kid string) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	if kid != gateTestKid {
		return nil, auth.ErrKeyNotFound
	}
	return s.key, nil
}

// gateTestEnv wires a real verifier, real limiters with a controllable
// clock, and the gate under test.
type gateTestEnv struct {
	gate    *Gate
	signKey *rsa.PrivateKey
	now     time.Time
}

func newGateTestEnv(t *testing.T, capacity, rate, authCapacity, authRate float64) *gateTestEnv {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Issuer:    gateTestIssuer,
		Audience:  gateTestAudience,
		ClockSkew: 30 * time.Second,
		Clock:     clock,
	}, &gateTestKeySource{key: &priv.PublicKey})
	require.NoError(t, err)

	limiter, err := ratelimit.New(ratelimit.Config{
		Capacity: capacity, RefillRate: rate, Clock: clock,
	})
	require.NoError(t, err)

	authLimiter, err := ratelimit.New(ratelimit.Config{
		Capacity: authCapacity, RefillRate: authRate, Clock: clock,
	})
	require.NoError(t, err)

	gate, err := NewGate(verifier, limiter, authLimiter, nil)
	require.NoError(t, err)

	return &gateTestEnv{gate: gate, signKey: priv, now: now}
}

// token mints a valid RS256 access token with the given scopes.
func (e *gateTestEnv) token(t *testing.T, scopes ...string) string {
	t.Helper()
	roles := make([]any, len(scopes))
	for i, s := range scopes {
		roles[i] = s
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":          "user-42",
		"iss":          gateTestIssuer,
		"aud":          gateTestAudience,
		"exp":          e.now.Add(5 * time.Minute).Unix(),
		"iat":          e.now.Add(-time.Minute).Unix(),
		"typ":          "Bearer",
		"realm_access": map[string]any{"roles": roles},
	})
	tok.Header["kid"] = gateTestKid
	signed, err := tok.SignedString(e.signKey)
	require.NoError(t, err)
	return signed
}

// serve runs one request through the gate with the given scopes required.
func (e *gateTestEnv) serve(t *testing.T, bearer string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()

	var sawClaims *auth.Claims
	handler := e.gate.Require(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawClaims, _ = auth.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		require.NotNil(t, sawClaims, "admitted request must carry claims")
	}
	return rec
}

func denialError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body denialBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

// ---------------------------------------------------------------------------

func TestGate_AdmitsValidToken(t *testing.T) {
	env := newGateTestEnv(t, 10, 1, 5, 1)
	rec := env.serve(t, env.token(t, "books:read"), "books:read")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestGate_MissingTokenIsUniform401(t *testing.T) {
	env := newGateTestEnv(t, 10, 1, 5, 1)
	rec := env.serve(t, "", "books:read")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", denialError(t, rec))
}

func TestGate_InvalidTokensAllProduceSame401Body(t *testing.T) {
	env := newGateTestEnv(t, 10, 1, 20, 1)

	expired := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user-42", "iss": gateTestIssuer, "aud": gateTestAudience,
		"exp": env.now.Add(-time.Hour).Unix(), "typ": "Bearer",
	})
	expired.Header["kid"] = gateTestKid
	expiredStr, err := expired.SignedString(env.signKey)
	require.NoError(t, err)

	tokens := []string{
		"garbage",
		expiredStr,
		env.token(t)[:40], // truncated signature
	}

	var bodies []string
	for _, tok := range tokens {
		rec := env.serve(t, tok, "books:read")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		bodies = append(bodies, denialError(t, rec))
	}
	for _, b := range bodies {
		assert.Equal(t, bodies[0], b, "401 bodies must not reveal the failure mode")
	}
}

func TestGate_InsufficientScopeIs403(t *testing.T) {
	env := newGateTestEnv(t, 10, 1, 5, 1)
	rec := env.serve(t, env.token(t, "books:read"), "books:write")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", denialError(t, rec))
}

func TestGate_ScopeFailureStillChargesBucket(t *testing.T) {
	env := newGateTestEnv(t, 2, 0.001, 5, 1)
	tok := env.token(t, "books:read")

	require.Equal(t, http.StatusForbidden, env.serve(t, tok, "books:write").Code)
	require.Equal(t, http.StatusForbidden, env.serve(t, tok, "books:write").Code)

	// Bucket exhausted by the two 403s; the next attempt is 429 even
	// though the scope check would also fail.
	rec := env.serve(t, tok, "books:write")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGate_RateLimitExhaustionIs429WithRetryAfter(t *testing.T) {
	env := newGateTestEnv(t, 3, 1, 5, 1)
	tok := env.token(t, "books:read")

	for range 3 {
		require.Equal(t, http.StatusOK, env.serve(t, tok, "books:read").Code)
	}

	rec := env.serve(t, tok, "books:read")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", denialError(t, rec))
}

func TestGate_DistinctTokensGetDistinctBuckets(t *testing.T) {
	env := newGateTestEnv(t, 1, 0.001, 5, 1)

	tokA := env.token(t, "books:read")
	tokB := env.token(t, "books:read", "books:write") // different payload, different hash

	require.Equal(t, http.StatusOK, env.serve(t, tokA, "books:read").Code)
	require.Equal(t, http.StatusTooManyRequests, env.serve(t, tokA, "books:read").Code)

	// A different token from the same origin has its own budget.
	assert.Equal(t, http.StatusOK, env.serve(t, tokB, "books:read").Code)
}

func TestGate_UnauthenticatedFloodHitsOriginBucket(t *testing.T) {
	env := newGateTestEnv(t, 10, 1, 3, 0.001)

	for range 3 {
		require.Equal(t, http.StatusUnauthorized, env.serve(t, "garbage", "books:read").Code)
	}

	// The per-origin bucket for failed authentication is spent; further
	// invalid attempts get 429 before any verification result is leaked.
	rec := env.serve(t, "still-garbage", "books:read")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestGate_KeySourceOutageDeniesUniformly(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Issuer:   gateTestIssuer,
		Audience: gateTestAudience,
		Clock:    func() time.Time { return now },
	}, &gateTestKeySource{err: auth.ErrKeySourceUnavailable})
	require.NoError(t, err)

	limiter, err := ratelimit.New(ratelimit.Config{Capacity: 10, RefillRate: 1})
	require.NoError(t, err)
	authLimiter, err := ratelimit.New(ratelimit.Config{Capacity: 10, RefillRate: 1})
	require.NoError(t, err)

	gate, err := NewGate(verifier, limiter, authLimiter, nil)
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user-42", "iss": gateTestIssuer, "aud": gateTestAudience,
		"exp": now.Add(time.Hour).Unix(), "typ": "Bearer",
	})
	tok.Header["kid"] = gateTestKid
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)

	handler := gate.Require()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/books", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Fail closed, same body as any other 401.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_ForwardedForDeterminesOrigin(t *testing.T) {
	env := newGateTestEnv(t, 10, 1, 1, 0.001)

	handler := env.gate.Require()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/books", nil)
		req.RemoteAddr = "10.0.0.1:1111"
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Two different forwarded origins each get their own (single-token)
	// unauthenticated budget.
	assert.Equal(t, http.StatusUnauthorized, send("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1, 10.0.0.9"))
	assert.Equal(t, http.StatusUnauthorized, send("198.51.100.2"))
}

func TestNewGate_Validation(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{Capacity: 1, RefillRate: 1})
	require.NoError(t, err)

	_, err = NewGate(nil, limiter, limiter, nil)
	assert.Error(t, err)

	env := newGateTestEnv(t, 1, 1, 1, 1)
	_, err = NewGate(env.gate.verifier, nil, limiter, nil)
	assert.Error(t, err)
	_, err = NewGate(env.gate.verifier, limiter, nil, nil)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid bearer", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"case insensitive scheme", "bearer abc", "abc"},
		{"missing header", "", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"scheme only", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(req))
		})
	}
}
