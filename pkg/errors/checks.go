package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error by traversing the error
// chain. Returns the Error and true on success, nil and false otherwise.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code from an error, or "" if the error is nil
// or does not carry an *Error.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether the error carries the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// HTTPStatus returns the HTTP status code for an error. Errors that do not
// carry an *Error map to 500.
func HTTPStatus(err error) int {
	if e, ok := AsError(err); ok {
		return e.HTTPStatus()
	}
	return 500
}

// IsValidation reports whether the error is a validation error (VAL_xxx).
func IsValidation(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "VAL"
}

// IsAuthentication reports whether the error is an authentication error
// (AUTH_xxx). The admission gate maps these to 401.
func IsAuthentication(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "AUTH"
}

// IsAuthorization reports whether the error is an authorization error
// (AUTHZ_xxx). The admission gate maps these to 403.
func IsAuthorization(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "AUTHZ"
}

// IsNotFound reports whether the error is a not found error (NF_xxx).
func IsNotFound(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "NF"
}

// IsConflict reports whether the error is a conflict error (CONF_xxx).
func IsConflict(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "CONF"
}

// IsRateLimited reports whether the error is a rate limit error (RATE_xxx).
// The admission gate maps these to 429 with a Retry-After header.
func IsRateLimited(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "RATE"
}

// IsInternal reports whether the error is an internal error (INT_xxx).
func IsInternal(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "INT"
}

// IsUnavailable reports whether the error is an unavailable error
// (UNAVAIL_xxx), such as the key source being unreachable.
func IsUnavailable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "UNAVAIL"
}

// IsClientError reports whether the error maps to a 4xx HTTP status.
func IsClientError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "VAL", "AUTH", "AUTHZ", "NF", "CONF", "RATE":
		return true
	default:
		return false
	}
}

// IsServerError reports whether the error maps to a 5xx HTTP status.
func IsServerError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "INT", "UNAVAIL":
		return true
	default:
		return false
	}
}
