package token

import (
	"time"

	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/secrets"
)

// Default lifetimes.
const (
	DefaultAccessTTL     = 15 * time.Minute
	DefaultRefreshTTL    = 7 * 24 * time.Hour
	DefaultRememberMeTTL = 30 * 24 * time.Hour
)

// DefaultAlgorithm is the HMAC algorithm used when none is configured.
const DefaultAlgorithm = "HS256"

// SigningConfig holds the secrets, lifetimes and registered claims used by
// a [Codec]. Load it once at startup; the codec keeps its own copy.
type SigningConfig struct {
	// AccessSecret signs access and purpose-scoped tokens.
	AccessSecret secrets.Secret `json:"-" yaml:"access_secret" env:"ACCESS_SECRET" required:"true"`

	// RefreshSecret signs refresh tokens. Must differ from AccessSecret.
	RefreshSecret secrets.Secret `json:"-" yaml:"refresh_secret" env:"REFRESH_SECRET" required:"true"`

	// AccessTTL is the lifetime of an access token. Defaults to 15m.
	AccessTTL time.Duration `json:"access_ttl" yaml:"access_ttl" env:"ACCESS_TTL" envDefault:"15m"`

	// RefreshTTL is the lifetime of a refresh token. Defaults to 7 days.
	RefreshTTL time.Duration `json:"refresh_ttl" yaml:"refresh_ttl" env:"REFRESH_TTL" envDefault:"168h"`

	// RememberMeTTL replaces AccessTTL when the caller asks to be
	// remembered. Defaults to 30 days.
	RememberMeTTL time.Duration `json:"remember_me_ttl" yaml:"remember_me_ttl" env:"REMEMBER_ME_TTL" envDefault:"720h"`

	// Issuer is the "iss" claim, checked exactly on verify.
	Issuer string `json:"issuer" yaml:"issuer" env:"ISSUER" required:"true"`

	// Audience is the "aud" claim, checked exactly on verify.
	Audience string `json:"audience" yaml:"audience" env:"AUDIENCE" required:"true"`

	// Algorithm is one of HS256, HS384, HS512. Defaults to HS256.
	Algorithm string `json:"algorithm" yaml:"algorithm" env:"ALGORITHM" envDefault:"HS256"`
}

// DefaultSigningConfig returns a config with default lifetimes and
// algorithm. Secrets, issuer and audience must still be set.
func DefaultSigningConfig() SigningConfig {
	return SigningConfig{
		AccessTTL:     DefaultAccessTTL,
		RefreshTTL:    DefaultRefreshTTL,
		RememberMeTTL: DefaultRememberMeTTL,
		Algorithm:     DefaultAlgorithm,
	}
}

// Validate checks secrets, lifetimes and registered claims. Every failure
// is a configuration error.
func (c *SigningConfig) Validate() error {
	if err := secrets.ValidatePair(c.AccessSecret, c.RefreshSecret); err != nil {
		return err
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.RememberMeTTL <= 0 {
		return sserr.New(sserr.CodeConfiguration, "token: access, refresh and remember-me TTLs must be positive")
	}
	if c.Issuer == "" || c.Audience == "" {
		return sserr.New(sserr.CodeConfiguration, "token: issuer and audience are required")
	}
	if _, ok := signingMethods[c.algorithm()]; !ok {
		return sserr.Newf(sserr.CodeConfiguration, "token: unsupported algorithm %q (use HS256, HS384 or HS512)", c.Algorithm)
	}
	return nil
}

// MaxLifetime is the longest any token signed under this config can live.
// Blacklist entries and metadata records use it as their TTL so they
// outlive every token they describe.
func (c *SigningConfig) MaxLifetime() time.Duration {
	return max(c.AccessTTL, c.RefreshTTL, c.RememberMeTTL)
}

func (c *SigningConfig) algorithm() string {
	if c.Algorithm == "" {
		return DefaultAlgorithm
	}
	return c.Algorithm
}
