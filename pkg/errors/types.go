package errors

import (
	"fmt"
	"net/http"
)

// Error is a structured error with a code, a message, and an optional cause.
// It implements the standard error interface and is immutable after creation.
//
// The Message may be logged but is never written to a client response body;
// the HTTP layer emits only the generic reason derived from HTTPStatus.
type Error struct {
	// Code is the machine-readable error code (e.g. "AUTH_004").
	Code Code

	// Message is the human-readable description for logs and operators.
	Message string

	// Cause is the underlying error, if any. Accessible via Unwrap.
	Cause error

	// Details holds optional structured context (field names, resource
	// identifiers). Never include token material or other secrets here.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, supporting errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error's code category to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "VAL":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "NF":
		return http.StatusNotFound
	case "CONF":
		return http.StatusConflict
	case "RATE":
		return http.StatusTooManyRequests
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail returns a copy of the error with one detail key-value pair
// added. The receiver is not modified.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}
