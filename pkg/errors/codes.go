package errors

// Code represents a machine-readable error code for categorizing errors.
// Error codes follow the pattern CATEGORY_XXX where CATEGORY is a short
// identifier (e.g., AUTH, TOKEN, RATE) and XXX is a three-digit numeric
// code.
//
// Error codes are designed to be:
//   - Stable: Codes do not change once assigned
//   - Unique: Each error condition has a distinct code
//   - Auditable: Token verification failures log their exact subtype code
//   - Machine-readable: Suitable for automated error handling
type Code string

// Error code categories and their HTTP mappings:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Authentication errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	TOKEN_xxx   - Token verification errors (400 Bad Request)
//	RATE_xxx    - Throttle errors (429 Too Many Requests)
//	NF_xxx      - Not found errors (404 Not Found)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Store/dependency unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
const (
	// Validation errors (VAL_xxx) - HTTP 400
	// Used when request input or configuration values fail validation.

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// Authentication errors (AUTH_xxx) - HTTP 401
	// Used when credential verification fails or no session is present.

	// CodeAuthentication indicates invalid username/password credentials.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationSession indicates no active session for the request.
	CodeAuthenticationSession Code = "AUTH_002"

	// Authorization errors (AUTHZ_xxx) - HTTP 403
	// Used when an authenticated identity is not permitted.

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationGroup indicates the session's group does not permit
	// the requested content.
	CodeAuthorizationGroup Code = "AUTHZ_002"

	// Token verification errors (TOKEN_xxx) - HTTP 400
	// One code per verification subtype. The gateway logs the code on
	// every rejected identity token for audit purposes. A token error
	// never results in a session.

	// CodeTokenMalformed indicates the token's compact serialization
	// could not be parsed.
	CodeTokenMalformed Code = "TOKEN_001"

	// CodeTokenKeyNotFound indicates no signing key matched the token's
	// key ID, even after refreshing the provider's key set.
	CodeTokenKeyNotFound Code = "TOKEN_002"

	// CodeTokenKeyFetch indicates the provider's key set could not be
	// fetched (network failure, malformed JWKS response).
	CodeTokenKeyFetch Code = "TOKEN_003"

	// CodeTokenSignature indicates the token's signature did not verify
	// against the resolved key.
	CodeTokenSignature Code = "TOKEN_004"

	// CodeTokenClaim indicates a claim check failed (issuer, audience,
	// expiry, issued-at). The error message identifies which claim.
	CodeTokenClaim Code = "TOKEN_005"

	// CodeTokenNonce indicates the token's nonce claim did not match the
	// nonce issued at login start (possible replay).
	CodeTokenNonce Code = "TOKEN_006"

	// Throttle errors (RATE_xxx) - HTTP 429
	// Used when repeated failed logins have exceeded the threshold.

	// CodeRateLimited indicates the client address is blocked by the
	// login throttle until the counter expires or a success resets it.
	CodeRateLimited Code = "RATE_001"

	// Not found errors (NF_xxx) - HTTP 404
	// Used when a requested entity does not exist.

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundUser indicates the username is not in the credential store.
	CodeNotFoundUser Code = "NF_002"

	// Internal errors (INT_xxx) - HTTP 500
	// Used for unexpected internal failures.

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalStore indicates a counter/session store operation failed.
	CodeInternalStore Code = "INT_002"

	// CodeInternalConfiguration indicates a startup configuration error
	// (missing provider secrets, malformed credential source). Fatal at
	// startup, never surfaced as a runtime response.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503
	// Used when a dependency is temporarily unreachable.

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableStore indicates the shared counter/session store is
	// unreachable. The gateway fails closed on this code.
	CodeUnavailableStore Code = "UNAVAIL_002"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504
	// Used when an operation exceeds its time limit.

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutStore indicates a store operation timed out.
	CodeTimeoutStore Code = "TIMEOUT_002"

	// CodeTimeoutProvider indicates a call to the identity provider
	// (JWKS fetch, token exchange) timed out.
	CodeTimeoutProvider Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "AUTH",
// "TOKEN").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
