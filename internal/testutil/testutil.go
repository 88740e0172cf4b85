// Package testutil provides shared test helpers for the books API.
//
// All helpers accept [testing.TB] and call t.Helper() so failures report
// the caller's line, not this package's.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

// RequireErrorCode halts the test if err is nil, is not a structured
// *apierr.Error, or does not carry the expected code.
func RequireErrorCode(t testing.TB, err error, code apierr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	e, ok := apierr.AsError(err)
	require.True(t, ok, "expected *apierr.Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		e.Code, code, e.Message)
}

// AssertErrorCode records a failure without halting if err does not carry
// the expected code. For table-driven tests that should check every row.
func AssertErrorCode(t testing.TB, err error, code apierr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	e, ok := apierr.AsError(err)
	if !assert.True(t, ok, "expected *apierr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, e.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		e.Code, code, e.Message)
}
