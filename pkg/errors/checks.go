package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error.
// Returns the Error and true if successful, nil and false otherwise.
// This function traverses the error chain using errors.As.
//
// Example:
//
//	if e, ok := errors.AsError(err); ok {
//	    slog.Warn("verification failed", "code", e.Code, "message", e.Message)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code from an error.
// If the error is not an *Error or is nil, returns an empty string.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode checks if an error has the specified error code.
// Returns false if the error is nil or not an *Error.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation checks if the error is a validation error (VAL_xxx).
func IsValidation(err error) bool {
	return hasCategory(err, "VAL")
}

// IsCredentialParse checks if the service-account credential could not be
// parsed or its private key could not be decoded (CRED_xxx).
func IsCredentialParse(err error) bool {
	return hasCategory(err, "CRED")
}

// IsSigning checks if the error is an assertion signing failure (SIGN_xxx).
func IsSigning(err error) bool {
	return hasCategory(err, "SIGN")
}

// IsTokenRequest checks if the token endpoint could not be reached or
// returned a non-2xx status.
func IsTokenRequest(err error) bool {
	return HasCode(err, CodeTokenRequest)
}

// IsTokenResponseParse checks if the token endpoint returned a malformed
// success body.
func IsTokenResponseParse(err error) bool {
	return HasCode(err, CodeTokenResponseParse)
}

// IsKeyFetch checks if the public key set could not be fetched.
func IsKeyFetch(err error) bool {
	return HasCode(err, CodeKeyFetch)
}

// IsKeyNotFound checks if the requested key id was absent after a
// successful fetch.
//
// Example:
//
//	if errors.IsKeyNotFound(err) {
//	    // the token references a key that was rotated out or never existed
//	}
func IsKeyNotFound(err error) bool {
	return HasCode(err, CodeKeyNotFound)
}

// IsUnsupportedAlgorithm checks if the ID token declared an algorithm
// other than RS256.
func IsUnsupportedAlgorithm(err error) bool {
	return HasCode(err, CodeUnsupportedAlgorithm)
}

// IsInvalidSignature checks if the ID token signature did not verify.
func IsInvalidSignature(err error) bool {
	return HasCode(err, CodeInvalidSignature)
}

// IsClaimValidation checks if the ID token was well-formed and correctly
// signed but one of its claims was rejected.
func IsClaimValidation(err error) bool {
	switch GetCode(err) {
	case CodeExpiredToken, CodeNotYetValid, CodeWrongAudience, CodeWrongIssuer, CodeMissingSubject:
		return true
	default:
		return false
	}
}

// IsExpiredToken checks if the ID token's exp claim has passed.
func IsExpiredToken(err error) bool {
	return HasCode(err, CodeExpiredToken)
}

// IsNotYetValid checks if the ID token was issued in the future.
func IsNotYetValid(err error) bool {
	return HasCode(err, CodeNotYetValid)
}

// IsWrongAudience checks if the ID token was issued for another project.
func IsWrongAudience(err error) bool {
	return HasCode(err, CodeWrongAudience)
}

// IsWrongIssuer checks if the ID token came from an unexpected issuer.
func IsWrongIssuer(err error) bool {
	return HasCode(err, CodeWrongIssuer)
}

// IsMissingSubject checks if the ID token carried no subject.
func IsMissingSubject(err error) bool {
	return HasCode(err, CodeMissingSubject)
}

// IsTimeout checks if the error is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool {
	return hasCategory(err, "TIMEOUT")
}

// IsRetryable checks if the error is potentially retryable by the caller.
// Transport failures against the token and key endpoints, timeouts and
// unavailable dependencies qualify. Nothing in this module retries on its
// own.
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    // caller-owned retry with backoff
//	}
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code {
	case CodeTokenRequest, CodeKeyFetch:
		return true
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL":
		return true
	default:
		return false
	}
}
