// Package errors provides the structured error type shared by every token
// package. Errors carry a machine-readable code, a human-readable message,
// an optional cause and optional details.
//
// # Error Categories
//
//   - Validation errors: malformed input to an API (400)
//   - Authentication errors: a token failed verification (401)
//   - Authorization errors: a verified identity lacks permissions (403)
//   - Configuration errors: invalid signing configuration, fatal at startup
//   - Internal errors: token generation and unexpected failures (500)
//   - Unavailable and timeout errors: the cache could not be reached
//
// # Verification failures
//
// Callers of token verification only ever see [CodeTokenVerificationFailed].
// The finer AUTH codes ([CodeTokenExpired], [CodeTokenInvalidSignature], ...)
// are produced internally so they can be logged, then collapsed into the
// generic error before crossing an API boundary.
//
// # Usage
//
//	err := errors.Configuration("access secret must be at least 32 characters")
//
//	if errors.IsFatal(err) {
//	    os.Exit(1)
//	}
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Error("operation failed", "code", e.Code, "message", e.Message)
//	}
package errors
