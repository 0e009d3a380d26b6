package secrets

import (
	"fmt"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
)

// DefaultMinLength is the minimum secret length applied when Validate is
// called with a non-positive minimum.
const DefaultMinLength = 32

// minUniqueChars is the distinct-character count below which a secret
// draws a warning.
const minUniqueChars = 16

// weakPatterns are rejected anywhere in the lowercase form of a secret.
var weakPatterns = []string{
	"secret",
	"password",
	"admin",
	"123",
	"test",
	"dev",
	"stricklysoft",
	"qwerty",
	"changeme",
	"default",
	"example",
}

// Result is the outcome of validating a single secret. Errors make the
// secret unusable; Warnings do not.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validate checks secret against minLength and the weak-pattern denylist.
// A minLength of zero or less means [DefaultMinLength].
func Validate(secret string, minLength int) Result {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}

	var res Result
	if len(secret) < minLength {
		res.Errors = append(res.Errors,
			fmt.Sprintf("secret must be at least %d characters, got %d", minLength, len(secret)))
	}

	lower := strings.ToLower(secret)
	for _, p := range weakPatterns {
		if strings.Contains(lower, p) {
			res.Errors = append(res.Errors, fmt.Sprintf("secret contains weak pattern %q", p))
		}
	}

	if n := uniqueChars(secret); n < minUniqueChars {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("secret has low entropy: %d distinct characters, want at least %d", n, minUniqueChars))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// ValidatePair validates the access and refresh secrets and requires them
// to differ. The returned error is a configuration error carrying every
// problem found in its details.
func ValidatePair(access, refresh Secret) error {
	if access.IsZero() || refresh.IsZero() {
		return sserr.New(sserr.CodeConfiguration, "secrets: access and refresh secrets are required")
	}

	var problems []string
	for _, s := range []struct {
		name   string
		secret Secret
	}{
		{"access", access},
		{"refresh", refresh},
	} {
		res := Validate(s.secret.Value(), DefaultMinLength)
		for _, e := range res.Errors {
			problems = append(problems, s.name+": "+e)
		}
	}
	if len(problems) > 0 {
		return sserr.Newf(sserr.CodeConfigurationWeakSecret,
			"secrets: signing secrets failed validation (%d problems)", len(problems)).
			WithDetail("problems", problems)
	}

	if access.Value() == refresh.Value() {
		return sserr.New(sserr.CodeConfigurationDuplicateSecret,
			"secrets: access and refresh secrets must be different")
	}
	return nil
}

// Warnings returns the non-fatal findings for both secrets, for logging at
// startup.
func Warnings(access, refresh Secret) []string {
	var out []string
	for _, w := range Validate(access.Value(), DefaultMinLength).Warnings {
		out = append(out, "access: "+w)
	}
	for _, w := range Validate(refresh.Value(), DefaultMinLength).Warnings {
		out = append(out, "refresh: "+w)
	}
	return out
}

func uniqueChars(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}
