package errors

import (
	"errors"
	"fmt"
)

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with a code and message. The wrapped error
// becomes the Cause of the new error. Returns nil if err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with a code and formatted message.
// Returns nil if err is nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Validation creates a validation error with CodeValidation.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound creates a not found error with CodeNotFound.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// NotFoundf creates a not found error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Unauthorized creates an authentication error with CodeAuthentication.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden creates an authorization error with CodeAuthorization.
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// RateLimited creates a rate limit error with CodeRateLimited.
func RateLimited(message string) *Error {
	return New(CodeRateLimited, message)
}

// Internal creates an internal error with CodeInternal.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Unavailable creates a dependency-unavailable error with CodeUnavailable.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// FromError converts any error to an *Error. If err already is (or wraps)
// an *Error it is returned unchanged; otherwise it is wrapped as internal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
