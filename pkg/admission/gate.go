// Package admission composes token verification and rate limiting into a
// single HTTP middleware. Every protected request passes the gate exactly
// once: the bearer token is verified, then the caller's token bucket is
// charged, and only then does the request reach its handler.
//
// Denials are uniform on the wire. Any verification failure produces the
// same 401 body regardless of cause; a valid token without the required
// scopes produces 403; an exhausted bucket produces 429 with a
// Retry-After header. The precise failure mode is logged server-side only.
package admission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shelfwise/books-api/pkg/auth"
	apierr "github.com/shelfwise/books-api/pkg/errors"
	"github.com/shelfwise/books-api/pkg/ratelimit"
)

// tracerName is the OpenTelemetry instrumentation scope name for
// admission spans.
const tracerName = "github.com/shelfwise/books-api/pkg/admission"

// tokenHashLength is the number of hex characters of the token's SHA-256
// digest used in bucket keys and logs. Enough to separate identities,
// useless for reconstructing the token.
const tokenHashLength = 16

// Verifier validates a bearer token and checks required scopes.
// Implemented by [*auth.Verifier].
type Verifier interface {
	Verify(ctx context.Context, token string, requiredScopes ...string) (*auth.Claims, error)
}

// Gate is the admission decision point. It holds one limiter for
// authenticated callers, keyed by origin plus token hash, and a separate,
// stricter limiter for requests that fail authentication, keyed by origin
// alone. The second bucket is charged before the 401 is written so that a
// flood of invalid tokens cannot spend verification work for free.
//
// Gate is safe for concurrent use by multiple goroutines.
type Gate struct {
	verifier    Verifier
	limiter     *ratelimit.Limiter
	authLimiter *ratelimit.Limiter
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewGate creates a Gate. limiter charges authenticated requests;
// authLimiter charges failed authentication attempts per origin. If
// logger is nil, slog.Default is used.
func NewGate(verifier Verifier, limiter, authLimiter *ratelimit.Limiter, logger *slog.Logger) (*Gate, error) {
	if verifier == nil {
		return nil, apierr.New(apierr.CodeValidation, "admission: verifier must not be nil")
	}
	if limiter == nil || authLimiter == nil {
		return nil, apierr.New(apierr.CodeValidation, "admission: both limiters must be set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		verifier:    verifier,
		limiter:     limiter,
		authLimiter: authLimiter,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// Require returns a middleware admitting only requests bearing a valid
// token that grants every one of the given scopes, within the caller's
// rate budget. On success the validated claims are attached to the
// request context for the downstream handler.
func (g *Gate) Require(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := g.tracer.Start(r.Context(), "admission.Require")
			defer span.End()

			origin := clientOrigin(r)
			span.SetAttributes(attribute.String("admission.origin", origin))

			token := bearerToken(r)
			if token == "" {
				g.denyUnauthenticated(ctx, w, origin, "missing bearer token", nil)
				return
			}

			claims, err := g.verifier.Verify(ctx, token, scopes...)
			if err != nil {
				if apierr.IsAuthorization(err) {
					// The token itself is valid; the identity just lacks
					// the scope. Charged against the authenticated bucket.
					g.chargeAndForward(ctx, w, r, next, origin, token, claims, err)
					return
				}
				g.denyUnauthenticated(ctx, w, origin, "token verification failed", err)
				return
			}

			g.chargeAndForward(ctx, w, r, next, origin, token, claims, nil)
		})
	}
}

// chargeAndForward charges the authenticated bucket and then either
// forwards the request, writes 403 for a scope failure, or writes 429.
// Rate limiting is checked first so that even correctly-scoped requests
// cannot bypass their budget, and scope failures still consume a token.
func (g *Gate) chargeAndForward(ctx context.Context, w http.ResponseWriter, r *http.Request,
	next http.Handler, origin, token string, claims *auth.Claims, scopeErr error,
) {
	key := bucketKey(origin, token)
	decision := g.limiter.Allow(key)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

	if !decision.Allowed {
		retryAfter := int(decision.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		g.logger.WarnContext(ctx, "admission: rate limit exceeded",
			"origin", origin,
			"token_hash", tokenHash(token),
			"retry_after_s", retryAfter,
		)
		writeDenial(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if scopeErr != nil {
		g.logger.WarnContext(ctx, "admission: insufficient scope",
			"origin", origin,
			"token_hash", tokenHash(token),
			"error", scopeErr,
		)
		writeDenial(w, http.StatusForbidden, "forbidden")
		return
	}

	next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(ctx, claims)))
}

// denyUnauthenticated charges the per-origin bucket and writes the
// uniform 401, or 429 if even the unauthenticated budget is spent. The
// body never reveals why verification failed; verifyErr goes to the log.
func (g *Gate) denyUnauthenticated(ctx context.Context, w http.ResponseWriter, origin, reason string, verifyErr error) {
	decision := g.authLimiter.Allow(origin)
	if !decision.Allowed {
		retryAfter := int(decision.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		g.logger.WarnContext(ctx, "admission: unauthenticated rate limit exceeded",
			"origin", origin,
			"retry_after_s", retryAfter,
		)
		writeDenial(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	attrs := []any{
		"origin", origin,
		"reason", reason,
	}
	if verifyErr != nil {
		attrs = append(attrs, "error", verifyErr, "code", apierr.GetCode(verifyErr))
	}
	if verifyErr != nil && errors.Is(verifyErr, auth.ErrKeySourceUnavailable) {
		// Dependency outage, not a client problem. Logged at error level
		// so it pages, but the response stays an indistinct 401.
		g.logger.ErrorContext(ctx, "admission: denying while key source is unavailable", attrs...)
	} else {
		g.logger.WarnContext(ctx, "admission: authentication failed", attrs...)
	}

	writeDenial(w, http.StatusUnauthorized, "unauthorized")
}

// denialBody is the uniform JSON error envelope for gate denials.
type denialBody struct {
	Error string `json:"error"`
}

// writeDenial writes the uniform JSON denial. The message depends only on
// the status code, never on the underlying failure.
func writeDenial(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(denialBody{Error: message})
}

// bearerToken extracts the bearer token from the Authorization header, or
// "" if the header is absent or not a bearer scheme.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// clientOrigin derives the caller's network origin: the first hop of
// X-Forwarded-For when present, otherwise the connection's remote host.
func clientOrigin(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// tokenHash returns a short hex prefix of the token's SHA-256 digest.
// Safe to log and to embed in bucket keys; raw tokens never are.
func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:tokenHashLength]
}

// bucketKey is the rate-limit identity of an authenticated caller: the
// network origin joined with the token hash, so two clients sharing a NAT
// do not share a budget, and one client rotating tokens gets fresh
// buckets only as fast as it gets fresh tokens.
func bucketKey(origin, token string) string {
	return origin + "|" + tokenHash(token)
}
