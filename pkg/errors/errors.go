// Package errors provides standardized error types and error handling
// utilities for the authgate authentication gateway. It defines the error
// categories the gateway surfaces over HTTP, machine-readable error codes,
// and helper functions for creating, wrapping, and inspecting errors.
//
// # Error Categories
//
// The package defines categories that map to the failure scenarios of a
// login/session/throttle gateway:
//
//   - Validation errors: malformed request input, invalid configuration values
//   - Authentication errors: invalid credentials, no active session
//   - Authorization errors: authenticated but not permitted
//   - Token errors: identity token verification failures (one code per subtype)
//   - Rate errors: login throttle exceeded
//   - NotFound errors: unknown username or signing key
//   - Internal errors: unexpected system failures, bad startup configuration
//   - Unavailable errors: the shared counter/session store is unreachable
//   - Timeout errors: a store or provider call exceeded its deadline
//
// # Error Codes
//
// Each error includes a machine-readable code (e.g., "TOKEN_004") used for
// audit logging and client-side error handling. Codes follow the pattern
// CATEGORY_XXX where CATEGORY is a short identifier and XXX is a numeric
// code.
//
// # Usage
//
// Create a new error with context:
//
//	err := errors.New(errors.CodeAuthentication, "invalid credentials")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeUnavailableStore, "session store unreachable")
//
// Check error category:
//
//	if errors.IsRateLimited(err) {
//	    // respond 429
//	}
//
// Extract error details for logging:
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Error("login rejected",
//	        "code", e.Code,
//	        "message", e.Message,
//	    )
//	}
package errors
