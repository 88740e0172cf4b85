package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/shelfwise/books-api/pkg/auth"

// maxTokenSize is the maximum accepted size for a bearer token string
// (8 KB). Larger tokens are rejected to prevent resource exhaustion.
const maxTokenSize = 8192

// Sentinel errors for the distinct verification failure modes. They are
// distinguishable via errors.Is for logging and metrics, but the HTTP
// boundary collapses all of them into a uniform denial so that response
// bodies never disclose why a token failed.
var (
	// ErrMalformedToken: the token could not be decoded into
	// header/payload/signature parts, or a required claim is missing.
	ErrMalformedToken = errors.New("auth: token is malformed")

	// ErrUnsupportedAlgorithm: the declared signing algorithm is not in
	// the configured allow-list (algorithm-confusion defense).
	ErrUnsupportedAlgorithm = errors.New("auth: token algorithm is not allowed")

	// ErrInvalidSignature: signature verification failed against the
	// resolved key.
	ErrInvalidSignature = errors.New("auth: token signature is invalid")

	// ErrUnknownKey: the token's key identifier cannot be resolved even
	// after a key-set refetch.
	ErrUnknownKey = errors.New("auth: token signing key is unknown")

	// ErrIssuerMismatch: the iss claim did not exactly equal the
	// configured issuer (scheme and trailing path included).
	ErrIssuerMismatch = errors.New("auth: token issuer mismatch")

	// ErrAudienceMismatch: the aud claim did not include the configured
	// audience.
	ErrAudienceMismatch = errors.New("auth: token audience mismatch")

	// ErrTokenExpired: exp is in the past beyond the clock-skew window.
	ErrTokenExpired = errors.New("auth: token has expired")

	// ErrTokenNotYetValid: nbf or iat is in the future beyond the
	// clock-skew window.
	ErrTokenNotYetValid = errors.New("auth: token is not yet valid")

	// ErrWrongTokenType: the token type does not match the expected type
	// (e.g. a refresh token presented where an access token is required).
	ErrWrongTokenType = errors.New("auth: wrong token type")

	// ErrInsufficientScope: the token is valid but does not grant the
	// required scopes.
	ErrInsufficientScope = errors.New("auth: insufficient scope")
)

// KeySource resolves a key identifier to public key material. Implemented
// by [*KeyCache]; tests may supply a static source.
//
// Implementations must be safe for concurrent use.
type KeySource interface {
	Get(ctx context.Context, kid string) (any, error)
}

// Compile-time assertion that KeyCache implements KeySource.
var _ KeySource = (*KeyCache)(nil)

// VerifierConfig holds the configuration for [Verifier].
type VerifierConfig struct {
	// Issuer is the exact expected iss claim, scheme and trailing path
	// included. "https://idp.example/realms/books" does not match
	// "https://idp.example/realms/books/".
	Issuer string `json:"issuer" yaml:"issuer" env:"ISSUER"`

	// Audience is the audience the aud claim must include.
	Audience string `json:"audience" yaml:"audience" env:"AUDIENCE"`

	// AllowedAlgorithms is the signing algorithm allow-list. Tokens
	// declaring any other algorithm are rejected before signature
	// verification. Defaults to RS256 only.
	AllowedAlgorithms []string `json:"allowed_algorithms" yaml:"allowed_algorithms" env:"ALLOWED_ALGORITHMS" envDefault:"RS256"`

	// ClockSkew is the tolerated clock difference between this service
	// and the token issuer when validating exp/nbf/iat. Must be
	// non-negative. Defaults to 30 seconds.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"30s"`

	// ExpectedTokenType is the value the token's typ claim must match
	// (case-insensitive) when the claim is present. Keycloak marks
	// access tokens "Bearer" and refresh tokens "Refresh". Defaults to
	// "Bearer".
	ExpectedTokenType string `json:"expected_token_type" yaml:"expected_token_type" env:"EXPECTED_TOKEN_TYPE" envDefault:"Bearer"`

	// Clock supplies the current time for lifetime validation. Nil means
	// time.Now. Tests inject a fixed clock here.
	Clock func() time.Time `json:"-" yaml:"-"`
}

// Validate checks the configuration for logical correctness.
func (c *VerifierConfig) Validate() error {
	if c.Issuer == "" {
		return apierr.New(apierr.CodeValidation, "auth: issuer must not be empty")
	}
	if c.Audience == "" {
		return apierr.New(apierr.CodeValidation, "auth: audience must not be empty")
	}
	if len(c.AllowedAlgorithms) == 0 {
		return apierr.New(apierr.CodeValidation, "auth: at least one signing algorithm must be allowed")
	}
	for _, alg := range c.AllowedAlgorithms {
		if strings.EqualFold(alg, "none") {
			return apierr.New(apierr.CodeValidation, "auth: algorithm 'none' must not be allowed")
		}
	}
	if c.ClockSkew < 0 {
		return apierr.New(apierr.CodeValidation, "auth: clock skew must be non-negative")
	}
	return nil
}

// Verifier deterministically decides whether a presented bearer token is
// valid and which scopes it grants. All failure paths return an error;
// the only way to obtain a [Claims] value is full success.
//
// Verifier is safe for concurrent use by multiple goroutines.
type Verifier struct {
	config  VerifierConfig
	keys    KeySource
	clock   func() time.Time
	tracer  trace.Tracer
	allowed map[string]struct{}
}

// NewVerifier creates a Verifier using the given key source. The
// configuration is validated; defaults are applied for zero-valued
// optional fields.
func NewVerifier(cfg VerifierConfig, keys KeySource) (*Verifier, error) {
	if len(cfg.AllowedAlgorithms) == 0 {
		cfg.AllowedAlgorithms = []string{"RS256"}
	}
	if cfg.ExpectedTokenType == "" {
		cfg.ExpectedTokenType = "Bearer"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, apierr.New(apierr.CodeValidation, "auth: key source must not be nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedAlgorithms))
	for _, alg := range cfg.AllowedAlgorithms {
		allowed[alg] = struct{}{}
	}

	return &Verifier{
		config:  cfg,
		keys:    keys,
		clock:   clock,
		tracer:  otel.Tracer(tracerName),
		allowed: allowed,
	}, nil
}

// Verify validates the bearer token and checks that it grants every
// required scope. On success it returns the immutable [Claims]; on
// failure it returns a *[apierr.Error] whose cause chain contains exactly
// one of the sentinel errors defined in this package.
//
// Validation order: structural parse, token type header, algorithm
// allow-list, signature (key resolved through the key source), issuer,
// audience, lifetime with clock-skew leeway, token type claim, scopes.
func (v *Verifier) Verify(ctx context.Context, tokenStr string, requiredScopes ...string) (*Claims, error) {
	ctx, span := v.tracer.Start(ctx, "auth.Verify")
	defer span.End()

	if tokenStr == "" {
		return nil, v.fail(span, ErrMalformedToken, nil,
			apierr.CodeAuthMalformedToken, "auth: token must not be empty")
	}
	if len(tokenStr) > maxTokenSize {
		return nil, v.fail(span, ErrMalformedToken, nil,
			apierr.CodeAuthMalformedToken, "auth: token exceeds maximum size")
	}

	// Structural parse without verification, to inspect the header
	// before any cryptographic work.
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil || unverified == nil {
		return nil, v.fail(span, ErrMalformedToken, err,
			apierr.CodeAuthMalformedToken, "auth: token could not be decoded")
	}

	// The typ header, when present, must declare a JWT ("JWT" or the
	// RFC 9068 access-token form "at+jwt").
	if typ, ok := unverified.Header["typ"].(string); ok && typ != "" {
		switch strings.ToUpper(typ) {
		case "JWT", "AT+JWT":
		default:
			return nil, v.fail(span, ErrWrongTokenType, nil,
				apierr.CodeAuthWrongTokenType, "auth: unexpected typ header")
		}
	}

	// Algorithm allow-list before signature verification. This defends
	// against algorithm confusion: a token declaring HS256 must never
	// cause an RSA public key to be used as an HMAC secret. "none" is
	// always rejected.
	alg, _ := unverified.Header["alg"].(string)
	if alg == "" || strings.EqualFold(alg, "none") {
		return nil, v.fail(span, ErrUnsupportedAlgorithm, nil,
			apierr.CodeAuthUnsupportedAlgorithm, "auth: missing or forbidden alg header")
	}
	if _, ok := v.allowed[alg]; !ok {
		span.SetAttributes(attribute.String("auth.rejected_alg", alg))
		return nil, v.fail(span, ErrUnsupportedAlgorithm, nil,
			apierr.CodeAuthUnsupportedAlgorithm, "auth: algorithm not in allow-list")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(v.config.AllowedAlgorithms),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithAudience(v.config.Audience),
		jwt.WithLeeway(v.config.ClockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	}

	token, err := jwt.Parse(tokenStr, v.keyfunc(ctx), parserOpts...)
	if err != nil {
		return nil, v.classify(span, err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, v.fail(span, ErrMalformedToken, nil,
			apierr.CodeAuthMalformedToken, "auth: unable to extract claims")
	}

	// The typ claim, when present, must match the expected token type.
	// This stops refresh tokens from being replayed as access tokens.
	if typClaim, ok := mc["typ"].(string); ok && typClaim != "" {
		if !strings.EqualFold(typClaim, v.config.ExpectedTokenType) {
			return nil, v.fail(span, ErrWrongTokenType, nil,
				apierr.CodeAuthWrongTokenType, "auth: token type claim mismatch")
		}
	}

	granted := scopesFromClaims(mc)
	for _, required := range requiredScopes {
		if _, ok := granted[required]; !ok {
			span.SetAttributes(attribute.String("auth.missing_scope", required))
			return nil, v.fail(span, ErrInsufficientScope, nil,
				apierr.CodeAuthzInsufficientScope, "auth: required scope not granted")
		}
	}

	claims := v.buildClaims(mc, granted)
	span.SetAttributes(
		attribute.String("auth.subject", claims.Subject()),
		attribute.Int("auth.scope_count", len(granted)),
	)
	return claims, nil
}

// keyfunc resolves the token's signing key through the key source. A
// missing kid header or an unresolvable kid maps to ErrUnknownKey; a key
// source outage propagates ErrKeySourceUnavailable so the caller fails
// closed.
func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token header missing kid", ErrUnknownKey)
		}
		key, err := v.keys.Get(ctx, kid)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				return nil, fmt.Errorf("%w: %w", ErrUnknownKey, err)
			}
			return nil, err
		}
		return key, nil
	}
}

// classify converts a golang-jwt parse error into the matching failure
// mode. Sentinels from the keyfunc pass through unchanged.
func (v *Verifier) classify(span trace.Span, err error) error {
	switch {
	case errors.Is(err, ErrKeySourceUnavailable):
		return v.fail(span, ErrKeySourceUnavailable, err,
			apierr.CodeUnavailableKeySource, "auth: cannot verify token while key source is unavailable")
	case errors.Is(err, ErrUnknownKey):
		return v.fail(span, ErrUnknownKey, err,
			apierr.CodeAuthUnknownKey, "auth: signing key could not be resolved")
	case errors.Is(err, jwt.ErrTokenExpired):
		return v.fail(span, ErrTokenExpired, err,
			apierr.CodeAuthTokenExpired, "auth: token lifetime exceeded")
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return v.fail(span, ErrTokenNotYetValid, err,
			apierr.CodeAuthTokenNotYetValid, "auth: token lifetime has not begun")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return v.fail(span, ErrIssuerMismatch, err,
			apierr.CodeAuthIssuerMismatch, "auth: issuer claim did not match")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return v.fail(span, ErrAudienceMismatch, err,
			apierr.CodeAuthAudienceMismatch, "auth: audience claim did not match")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return v.fail(span, ErrInvalidSignature, err,
			apierr.CodeAuthInvalidSignature, "auth: signature verification failed")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing), errors.Is(err, jwt.ErrTokenMalformed):
		return v.fail(span, ErrMalformedToken, err,
			apierr.CodeAuthMalformedToken, "auth: token claims are malformed")
	default:
		return v.fail(span, ErrMalformedToken, err,
			apierr.CodeAuthentication, "auth: token validation failed")
	}
}

// fail records the failure on the span and wraps the failure-mode sentinel
// (and optional cause) into a structured error.
func (v *Verifier) fail(span trace.Span, mode error, cause error, code apierr.Code, msg string) error {
	underlying := mode
	if cause != nil && !errors.Is(cause, mode) {
		underlying = fmt.Errorf("%w: %w", mode, cause)
	} else if cause != nil {
		underlying = cause
	}
	err := apierr.Wrap(underlying, code, msg)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// buildClaims constructs the immutable Claims from validated MapClaims.
func (v *Verifier) buildClaims(mc jwt.MapClaims, granted map[string]struct{}) *Claims {
	sub, _ := mc.GetSubject()
	iss, _ := mc.GetIssuer()
	typ, _ := mc["typ"].(string)

	var expiresAt, issuedAt time.Time
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		issuedAt = iat.Time
	}

	var audience []string
	if aud, err := mc.GetAudience(); err == nil {
		audience = append(audience, aud...)
	}

	scopes := make(map[string]struct{}, len(granted))
	for s := range granted {
		scopes[s] = struct{}{}
	}

	return &Claims{
		subject:   sub,
		issuer:    iss,
		audience:  audience,
		expiresAt: expiresAt,
		issuedAt:  issuedAt,
		tokenType: typ,
		scopes:    scopes,
	}
}

// scopesFromClaims derives the granted scope set from the token's realm
// roles (Keycloak publishes them under realm_access.roles). Missing or
// malformed claims yield an empty set, which simply grants nothing.
func scopesFromClaims(mc jwt.MapClaims) map[string]struct{} {
	scopes := make(map[string]struct{})

	realmAccess, ok := mc["realm_access"].(map[string]any)
	if !ok {
		return scopes
	}
	roles, ok := realmAccess["roles"].([]any)
	if !ok {
		return scopes
	}
	for _, r := range roles {
		if role, ok := r.(string); ok && role != "" {
			scopes[role] = struct{}{}
		}
	}
	return scopes
}
