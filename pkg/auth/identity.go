// Package auth authenticates inbound requests with session tokens issued by
// the lifecycle manager.
//
// HTTP Middleware:
//
// [HTTPMiddleware] reads the Authorization header, which must be exactly
// "Bearer <token>", verifies the access token through a [Verifier] and
// attaches the caller's [Identity] to the request context. Failures are
// reported with a JSON envelope:
//
//	{"success": false, "error": {"code": "AUTHENTICATION_ERROR", "message": "..."}}
//
// The message never carries the reason a token was rejected; the reason is
// logged with the token's fingerprint instead.
//
// gRPC Interceptors:
//
// [UnaryServerInterceptor] and [StreamServerInterceptor] apply the same
// rules to the "authorization" metadata key and answer with
// codes.Unauthenticated or codes.PermissionDenied.
//
// Request Info:
//
// Before verifying, both adapters attach an [abuse.RequestInfo] (client
// address, user agent, method and path) to the context so the abuse
// detector's activity events describe the request that used the token.
package auth

import (
	"slices"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

// Identity is the authenticated caller handed to downstream handlers.
type Identity struct {
	UserID      string   `json:"userId"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	SessionID   string   `json:"sessionId"`
	DeviceID    string   `json:"deviceId,omitempty"`
	IP          string   `json:"ip,omitempty"`
	UserAgent   string   `json:"userAgent,omitempty"`
}

// IdentityFromClaims builds an Identity from verified claims. The
// permission slice is copied.
func IdentityFromClaims(c *token.Claims) Identity {
	return Identity{
		UserID:      c.UserID,
		Email:       c.Email,
		Role:        c.Role,
		Permissions: slices.Clone(c.Permissions),
		SessionID:   c.SessionID,
		DeviceID:    c.DeviceID,
		IP:          c.IP,
		UserAgent:   c.UserAgent,
	}
}

// HasPermission reports whether the identity holds perm.
func (i Identity) HasPermission(perm string) bool {
	return slices.Contains(i.Permissions, perm)
}

// HasAnyPermission reports whether the identity holds at least one of
// required. An empty required set is always satisfied.
func (i Identity) HasAnyPermission(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, p := range required {
		if i.HasPermission(p) {
			return true
		}
	}
	return false
}
