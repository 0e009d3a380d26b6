// Package fixtures provides shared test data for the token packages, so
// tests across packages agree on identities, secrets and configuration.
package fixtures

import "time"

// Standard identity values used in issuance and middleware tests.
const (
	// UserID is the default subject for issued tokens.
	UserID = "user-7f3a9c"

	// AltUserID is a second user for isolation tests.
	AltUserID = "user-b41e02"

	// Email is the default email claim.
	Email = "ada@example.org"

	// Role is the default role claim.
	Role = "customer"

	// DeviceID is the default device identifier.
	DeviceID = "device-ios-01"

	// IP is the default client address.
	IP = "203.0.113.7"

	// UserAgent is the default client user agent.
	UserAgent = "tokens-test/1.0"
)

// Permissions returns the default permission set. A fresh slice is
// returned on every call.
func Permissions() []string {
	return []string{"read:orders", "write:orders"}
}

// Signing values. Both secrets pass secrets.Validate and differ.
const (
	AccessSecret  = "Zq8#vL2!pW9@xR4$mT7%nK1^bY6&cH3*"
	RefreshSecret = "Rf5*gB0)uE8(jS6_wA4+kP2=hD9~oI7?"
	Issuer        = "https://auth.stricklysoft.test"
	Audience      = "stricklysoft-api"
)

// Default lifetimes mirrored from the production defaults.
const (
	AccessTTL     = 15 * time.Minute
	RefreshTTL    = 7 * 24 * time.Hour
	RememberMeTTL = 30 * 24 * time.Hour
)

// Epoch is a fixed instant used to seed fake clocks.
var Epoch = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// Standard configuration values used in config loader tests.
const (
	// TestEnvPrefix is the default environment variable prefix.
	TestEnvPrefix = "TESTAPP"

	// TestConfigYAML is a minimal valid YAML configuration.
	TestConfigYAML = `issuer: https://auth.example.org
max_tokens_per_user: 3
access_ttl: 10m
`

	// TestConfigJSON is a minimal valid JSON configuration.
	TestConfigJSON = `{
  "issuer": "https://auth.example.org",
  "max_tokens_per_user": 3
}`
)
