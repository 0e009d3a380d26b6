// Package token signs and verifies the HMAC JWTs that carry session claims.
//
// A [Codec] is built once at startup from a [SigningConfig]. Construction
// validates both secrets (length, denylist, distinctness) and fails with a
// configuration error, which callers must treat as fatal.
//
// # Token types
//
// Every token carries a "typ" claim. Access and purpose-scoped tokens
// ([TypeEmailVerification], [TypePasswordReset]) are signed with the access
// secret, refresh tokens with the refresh secret, so a refresh token never
// verifies as an access token even before the type check runs.
//
// # Verification
//
// [Codec.Verify] restricts the accepted algorithm to the configured one,
// checks issuer and audience exactly, checks expiry, then checks the type.
// Failures carry fine-grained AUTH codes for logging; callers facing a
// client collapse them into [sserr.VerificationFailed].
//
// # Logging
//
// Raw tokens never reach a log. Use [Fingerprint].
package token
