package errors

// Code represents a machine-readable error code. Codes follow the pattern
// CATEGORY_NNN where CATEGORY is a short identifier (e.g., AUTH, CONFIG)
// and NNN is a three-digit number. Codes never change once assigned.
type Code string

// Error code categories:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Token verification errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	CONFIG_xxx  - Configuration errors (fatal, 500)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Cache unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Cache timeout (504 Gateway Timeout)
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeTokenVerificationFailed is the only verification code returned to
	// callers. It deliberately does not say which check failed.
	CodeTokenVerificationFailed Code = "AUTH_001"

	// CodeTokenMissing indicates no bearer token was presented.
	CodeTokenMissing Code = "AUTH_002"

	// CodeTokenMalformed indicates the token could not be parsed.
	CodeTokenMalformed Code = "AUTH_003"

	// CodeTokenInvalidSignature indicates the signature did not verify.
	CodeTokenInvalidSignature Code = "AUTH_004"

	// CodeTokenExpired indicates the token is past its expiry.
	CodeTokenExpired Code = "AUTH_005"

	// CodeTokenTypeMismatch indicates the token type differs from the one
	// the caller expected.
	CodeTokenTypeMismatch Code = "AUTH_006"

	// CodeTokenRevoked indicates the token id is blacklisted.
	CodeTokenRevoked Code = "AUTH_007"

	// CodeTokenInactive indicates the metadata record is absent or
	// deactivated.
	CodeTokenInactive Code = "AUTH_008"

	// CodeTokenIssuerMismatch indicates the token was issued by, or for,
	// another party: its issuer or audience is not the configured one.
	CodeTokenIssuerMismatch Code = "AUTH_009"

	// CodeAuthorizationDenied indicates none of the required permissions
	// are held.
	CodeAuthorizationDenied Code = "AUTHZ_001"

	// CodeConfiguration indicates a general configuration failure.
	CodeConfiguration Code = "CONFIG_001"

	// CodeConfigurationWeakSecret indicates a signing secret failed
	// strength validation.
	CodeConfigurationWeakSecret Code = "CONFIG_002"

	// CodeConfigurationDuplicateSecret indicates the access and refresh
	// secrets are identical.
	CodeConfigurationDuplicateSecret Code = "CONFIG_003"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeTokenGenerationFailed indicates signing or persisting a new
	// token failed.
	CodeTokenGenerationFailed Code = "INT_002"

	// CodeCacheUnavailable indicates the cache returned an error.
	CodeCacheUnavailable Code = "UNAVAIL_001"

	// CodeCacheTimeout indicates a cache call exceeded its deadline.
	CodeCacheTimeout Code = "TIMEOUT_001"

	// CodeStorageUnavailable indicates the audit database returned an
	// error.
	CodeStorageUnavailable Code = "UNAVAIL_002"

	// CodeStorageTimeout indicates an audit database call exceeded its
	// deadline or was canceled.
	CodeStorageTimeout Code = "TIMEOUT_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
