package errors

import (
	"testing"
)

func TestCode_Category(t *testing.T) {
	tests := []struct {
		name string
		code Code
		want string
	}{
		{name: "validation", code: CodeValidation, want: "VAL"},
		{name: "verification failed", code: CodeTokenVerificationFailed, want: "AUTH"},
		{name: "token expired", code: CodeTokenExpired, want: "AUTH"},
		{name: "authorization denied", code: CodeAuthorizationDenied, want: "AUTHZ"},
		{name: "configuration", code: CodeConfigurationWeakSecret, want: "CONFIG"},
		{name: "generation failed", code: CodeTokenGenerationFailed, want: "INT"},
		{name: "cache unavailable", code: CodeCacheUnavailable, want: "UNAVAIL"},
		{name: "cache timeout", code: CodeCacheTimeout, want: "TIMEOUT"},
		{name: "storage unavailable", code: CodeStorageUnavailable, want: "UNAVAIL"},
		{name: "storage timeout", code: CodeStorageTimeout, want: "TIMEOUT"},
		{name: "no separator", code: Code("CUSTOM"), want: "CUSTOM"},
		{name: "empty", code: Code(""), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.code.Category(); got != tt.want {
				t.Errorf("Category() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCode_Unique(t *testing.T) {
	codes := []Code{
		CodeValidation, CodeValidationRequired, CodeValidationFormat,
		CodeTokenVerificationFailed, CodeTokenMissing, CodeTokenMalformed,
		CodeTokenInvalidSignature, CodeTokenExpired, CodeTokenTypeMismatch,
		CodeTokenRevoked, CodeTokenInactive, CodeTokenIssuerMismatch, CodeAuthorizationDenied,
		CodeConfiguration, CodeConfigurationWeakSecret, CodeConfigurationDuplicateSecret,
		CodeInternal, CodeTokenGenerationFailed, CodeCacheUnavailable, CodeCacheTimeout,
		CodeStorageUnavailable, CodeStorageTimeout,
	}
	seen := make(map[Code]bool, len(codes))
	for _, c := range codes {
		if seen[c] {
			t.Errorf("duplicate code %q", c)
		}
		seen[c] = true
	}
}
