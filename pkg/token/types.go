package token

import "time"

// Type identifies what a token may be used for.
type Type string

const (
	// TypeAccess authenticates API calls.
	TypeAccess Type = "access"

	// TypeRefresh is exchanged for a new token pair.
	TypeRefresh Type = "refresh"

	// TypeEmailVerification confirms ownership of an email address.
	TypeEmailVerification Type = "email_verification"

	// TypePasswordReset authorizes a single password change.
	TypePasswordReset Type = "password_reset"
)

// Valid reports whether t is one of the known token types.
func (t Type) Valid() bool {
	switch t {
	case TypeAccess, TypeRefresh, TypeEmailVerification, TypePasswordReset:
		return true
	default:
		return false
	}
}

// IsPurpose reports whether t is a single-purpose token type.
func (t Type) IsPurpose() bool {
	return t == TypeEmailVerification || t == TypePasswordReset
}

// String returns the claim value.
func (t Type) String() string { return string(t) }

// Claims is the identity and session payload of a token. Claims are
// immutable once signed; Sign returns a copy with the computed fields set.
type Claims struct {
	UserID      string   `json:"userId"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	SessionID   string   `json:"sessionId"`
	TokenID     string   `json:"tokenId"`
	DeviceID    string   `json:"deviceId,omitempty"`
	IP          string   `json:"ip,omitempty"`
	UserAgent   string   `json:"userAgent,omitempty"`
	Type        Type     `json:"type"`

	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Issuer    string    `json:"issuer,omitempty"`
	Audience  string    `json:"audience,omitempty"`
}

// HasAnyPermission reports whether the claims hold at least one of
// required. An empty required list is always satisfied.
func (c *Claims) HasAnyPermission(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		for _, p := range c.Permissions {
			if p == r {
				return true
			}
		}
	}
	return false
}

// Age returns how long ago the token was issued, relative to now.
func (c *Claims) Age(now time.Time) time.Duration {
	return now.Sub(c.IssuedAt)
}
