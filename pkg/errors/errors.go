// Package errors provides the structured error type shared by every
// fireauth package. Each failing stage (credential parsing, assertion
// signing, token exchange, key-set fetch, ID token verification) reports
// a distinct machine-readable [Code] so callers can decide whether to
// retry, refresh local state, or reject a request without inspecting
// message strings.
//
// # Error Codes
//
// Codes follow the pattern CATEGORY_NNN:
//
//	VAL_xxx     - configuration validation
//	CRED_xxx    - service-account credential parsing
//	SIGN_xxx    - assertion signing
//	TOKEN_xxx   - access token exchange
//	KEYS_xxx    - public key set fetch and lookup
//	IDT_xxx     - ID token verification
//	INT_xxx     - unexpected internal failures
//	UNAVAIL_xxx - dependency unavailable
//	TIMEOUT_xxx - caller deadline exceeded
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.CodeCredentialParse, "client_email is required")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeTokenRequest, "token endpoint unreachable")
//
// Branch on kind:
//
//	switch {
//	case errors.IsExpiredToken(err):
//	    // ask the client to refresh its ID token
//	case errors.IsClaimValidation(err), errors.IsInvalidSignature(err):
//	    // reject the request
//	case errors.IsRetryable(err):
//	    // caller-owned retry policy
//	}
package errors
