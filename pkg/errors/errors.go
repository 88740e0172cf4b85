// Package errors provides the structured error types used throughout the
// Books API service. Every error that crosses a package boundary carries a
// machine-readable code so that the HTTP layer can map it to a status code
// and the admission gate can log the precise failure mode without leaking
// it to the client.
//
// # Error Codes
//
// Codes follow the pattern CATEGORY_XXX. The category determines the HTTP
// status at the boundary:
//
//	VAL_xxx     - Validation errors (400)
//	AUTH_xxx    - Authentication errors (401)
//	AUTHZ_xxx   - Authorization errors (403)
//	NF_xxx      - Not found errors (404)
//	CONF_xxx    - Conflict errors (409)
//	RATE_xxx    - Rate limit errors (429)
//	INT_xxx     - Internal errors (500)
//	UNAVAIL_xxx - Dependency unavailable (503)
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.CodeValidation, "title must not be empty")
//
// Wrap an underlying cause:
//
//	err := errors.Wrap(err, errors.CodeInternalDatabase, "failed to insert book")
//
// Inspect at the boundary:
//
//	if e, ok := errors.AsError(err); ok {
//	    w.WriteHeader(e.HTTPStatus())
//	}
package errors
