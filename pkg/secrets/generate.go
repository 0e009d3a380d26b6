package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenIDBytes is the number of random bytes behind every token id.
const tokenIDBytes = 32

// maxGenerateAttempts bounds the redraws GenerateSecret makes when a random
// hex string happens to contain a denylisted pattern such as "123".
const maxGenerateAttempts = 16

// GenerateSecret returns length random bytes from crypto/rand, hex encoded
// (2*length characters). The result always passes Validate, so length
// must be at least DefaultMinLength/2.
func GenerateSecret(length int) (string, error) {
	if length*2 < DefaultMinLength {
		return "", fmt.Errorf("secrets: length must be at least %d bytes, got %d", DefaultMinLength/2, length)
	}
	for range maxGenerateAttempts {
		s, err := randomHex(length)
		if err != nil {
			return "", err
		}
		if Validate(s, DefaultMinLength).Valid {
			return s, nil
		}
	}
	return "", fmt.Errorf("secrets: no valid secret after %d attempts", maxGenerateAttempts)
}

// GenerateTokenID returns a fresh 64-character hex token id.
func GenerateTokenID() (string, error) {
	return randomHex(tokenIDBytes)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("secrets: read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
