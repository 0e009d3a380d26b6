// Package secrets validates and generates the HMAC signing secrets used by
// the token codec.
//
// # Validation
//
// [Validate] applies a minimum length (32 characters by default) and a
// case-insensitive denylist of substrings that mark a secret as guessable
// ("secret", "password", "admin", "123", ...). Secrets with fewer than 16
// distinct characters pass but carry a warning.
//
// [ValidatePair] checks the access and refresh secrets together and also
// requires them to differ. Its failures are configuration errors, which
// abort startup:
//
//	if err := secrets.ValidatePair(cfg.AccessSecret, cfg.RefreshSecret); err != nil {
//	    return nil, err // CONFIG_xxx, fatal
//	}
//
// # Generation
//
// [GenerateSecret] and [GenerateTokenID] draw from crypto/rand and return
// lowercase hex.
//
// # Redaction
//
// [Secret] prints as "[REDACTED]" through fmt, slog and encoding so a
// configuration struct can be logged safely.
package secrets
