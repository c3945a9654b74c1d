package errors

// Code represents a machine-readable error code for categorizing errors.
// Error codes follow the pattern CATEGORY_XXX where CATEGORY is a short
// identifier (e.g., TOKEN, KEYS, IDT) and XXX is a three-digit numeric code.
//
// Codes are stable once assigned; callers may persist them in logs and
// alerts.
type Code string

const (
	// Validation errors (VAL_xxx) - HTTP 400
	// Used when configuration fails validation rules.

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationRange indicates a value is outside acceptable range.
	CodeValidationRange Code = "VAL_004"

	// Credential errors (CRED_xxx)

	// CodeCredentialParse indicates the service-account document is
	// malformed or lacks a required field.
	CodeCredentialParse Code = "CRED_001"

	// CodeCredentialKey indicates the private key could not be decoded.
	CodeCredentialKey Code = "CRED_002"

	// CodeSigning indicates the assertion could not be signed.
	CodeSigning Code = "SIGN_001"

	// Token exchange errors (TOKEN_xxx)

	// CodeTokenRequest indicates the token endpoint could not be reached
	// or answered with a non-2xx status.
	CodeTokenRequest Code = "TOKEN_001"

	// CodeTokenResponseParse indicates a 2xx token response body was
	// malformed or lacked required fields.
	CodeTokenResponseParse Code = "TOKEN_002"

	// Key set errors (KEYS_xxx)

	// CodeKeyFetch indicates the public key set could not be fetched or
	// decoded.
	CodeKeyFetch Code = "KEYS_001"

	// CodeKeyNotFound indicates the key id is absent from a freshly
	// fetched key set.
	CodeKeyNotFound Code = "KEYS_002"

	// CodeKeyExpired indicates the key's validity window does not contain
	// the verification instant.
	CodeKeyExpired Code = "KEYS_003"

	// ID token errors (IDT_xxx) - HTTP 401

	// CodeTokenMalformed indicates the ID token could not be decoded.
	CodeTokenMalformed Code = "IDT_001"

	// CodeUnsupportedAlgorithm indicates the header declares an algorithm
	// other than RS256.
	CodeUnsupportedAlgorithm Code = "IDT_002"

	// CodeInvalidSignature indicates the signature does not verify.
	CodeInvalidSignature Code = "IDT_003"

	// CodeExpiredToken indicates exp is not after the verification instant.
	CodeExpiredToken Code = "IDT_004"

	// CodeNotYetValid indicates iat or auth_time lies in the future.
	CodeNotYetValid Code = "IDT_005"

	// CodeWrongAudience indicates aud differs from the expected project.
	CodeWrongAudience Code = "IDT_006"

	// CodeWrongIssuer indicates iss differs from the expected issuer.
	CodeWrongIssuer Code = "IDT_007"

	// CodeMissingSubject indicates sub is empty.
	CodeMissingSubject Code = "IDT_008"

	// Internal errors (INT_xxx) - HTTP 500

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeUnavailable indicates a dependency is temporarily unavailable.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeTimeout indicates the caller's deadline expired.
	CodeTimeout Code = "TIMEOUT_001"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "TOKEN", "IDT").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
