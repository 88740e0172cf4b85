package errors

// Code is a machine-readable error code. Codes are stable once assigned and
// are safe to use in log queries, metrics labels, and alert rules. They are
// never written into client-facing response bodies.
type Code string

const (
	// Validation errors (VAL_xxx) - HTTP 400

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationRange indicates a value is outside its permitted range.
	CodeValidationRange Code = "VAL_003"

	// Authentication errors (AUTH_xxx) - HTTP 401
	// One code per verifier failure mode so operators can distinguish a
	// key-rotation incident from a flood of malformed tokens. The HTTP
	// boundary collapses all of these to a generic 401.

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthMalformedToken indicates the token could not be decoded.
	CodeAuthMalformedToken Code = "AUTH_002"

	// CodeAuthUnsupportedAlgorithm indicates the token's signing algorithm
	// is outside the configured allow-list.
	CodeAuthUnsupportedAlgorithm Code = "AUTH_003"

	// CodeAuthInvalidSignature indicates signature verification failed.
	CodeAuthInvalidSignature Code = "AUTH_004"

	// CodeAuthUnknownKey indicates the signing key could not be resolved
	// even after a key-set refetch.
	CodeAuthUnknownKey Code = "AUTH_005"

	// CodeAuthIssuerMismatch indicates the iss claim did not exactly match
	// the configured issuer.
	CodeAuthIssuerMismatch Code = "AUTH_006"

	// CodeAuthAudienceMismatch indicates the aud claim did not include the
	// expected audience.
	CodeAuthAudienceMismatch Code = "AUTH_007"

	// CodeAuthTokenExpired indicates the token's exp is in the past beyond
	// the clock-skew tolerance.
	CodeAuthTokenExpired Code = "AUTH_008"

	// CodeAuthTokenNotYetValid indicates nbf/iat is in the future beyond
	// the clock-skew tolerance.
	CodeAuthTokenNotYetValid Code = "AUTH_009"

	// CodeAuthWrongTokenType indicates the token type claim did not match
	// the expected type (e.g. a refresh token presented as access token).
	CodeAuthWrongTokenType Code = "AUTH_010"

	// Authorization errors (AUTHZ_xxx) - HTTP 403

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthzInsufficientScope indicates the token is valid but does not
	// grant the scopes the endpoint requires.
	CodeAuthzInsufficientScope Code = "AUTHZ_002"

	// Not found errors (NF_xxx) - HTTP 404

	// CodeNotFound indicates the requested resource does not exist.
	CodeNotFound Code = "NF_001"

	// Conflict errors (CONF_xxx) - HTTP 409

	// CodeConflict indicates the operation conflicts with current state.
	CodeConflict Code = "CONF_001"

	// Rate limit errors (RATE_xxx) - HTTP 429

	// CodeRateLimited indicates the caller's token bucket is exhausted.
	CodeRateLimited Code = "RATE_001"

	// Internal errors (INT_xxx) - HTTP 500

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503

	// CodeUnavailable indicates the service cannot serve requests.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableKeySource indicates the identity provider's key-set
	// endpoint is unreachable and no usable keys are cached.
	CodeUnavailableKeySource Code = "UNAVAIL_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the code (e.g. "AUTH", "RATE").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
