package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/abuse"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

// HeaderAuthorization is the header and gRPC metadata key carrying the
// bearer token. gRPC metadata keys are lower case; net/http canonicalizes.
const HeaderAuthorization = "authorization"

const bearerPrefix = "Bearer "

// Error envelope codes shared by the calling services.
const (
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
)

// Client-facing messages. They never carry the reason for a rejection.
const (
	msgTokenRequired     = "Access token required"
	msgInvalidToken      = "Invalid or expired token"
	msgInsufficientPerms = "Insufficient permissions"
)

// Verifier checks a token and returns its claims. *lifecycle.Manager
// satisfies it.
type Verifier interface {
	Verify(ctx context.Context, tokenStr string, typ token.Type) (*token.Claims, error)
}

// ExtractBearerToken returns the token from an Authorization value of the
// exact form "Bearer <token>". The prefix is case-sensitive, separated by
// one space, and the token must be non-empty without whitespace. Any
// other shape returns "".
func ExtractBearerToken(header string) string {
	tok, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || tok == "" || strings.ContainsAny(tok, " \t\r\n") {
		return ""
	}
	return tok
}

// ErrorBody is the error part of the failure envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the failure envelope written by the middleware.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// WriteError writes the JSON failure envelope with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorBody{Code: code, Message: message},
	})
}

// HTTPMiddleware returns an HTTP middleware that requires a valid access
// token.
//
// The middleware performs the following steps:
//  1. Extracts the bearer token from the Authorization header
//  2. Attaches an [abuse.RequestInfo] to the request context
//  3. Verifies the token as an access token through v
//  4. If required is non-empty, demands at least one of those permissions
//  5. Stores the resulting [Identity] in the request context
//
// A missing or malformed header yields 401 without calling v. A failed
// verification yields 401 and a warning log carrying the token's
// fingerprint, the path and the method. A permission mismatch yields 403.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.Handle("/orders", auth.HTTPMiddleware(manager, "read:orders")(ordersHandler))
func HTTPMiddleware(v Verifier, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if tok == "" {
				WriteError(w, http.StatusUnauthorized, CodeAuthentication, msgTokenRequired)
				return
			}

			ctx := abuse.ContextWithRequestInfo(r.Context(), requestInfo(r))
			claims, err := v.Verify(ctx, tok, token.TypeAccess)
			if err != nil {
				slog.WarnContext(ctx, "auth: token rejected",
					logAttrs(ctx,
						"token_fingerprint", token.Fingerprint(tok),
						"path", r.URL.Path,
						"method", r.Method,
					)...,
				)
				WriteError(w, http.StatusUnauthorized, CodeAuthentication, msgInvalidToken)
				return
			}

			id := IdentityFromClaims(claims)
			if !id.HasAnyPermission(required...) {
				slog.WarnContext(ctx, "auth: insufficient permissions",
					logAttrs(ctx,
						"user_id", id.UserID,
						"required", required,
						"path", r.URL.Path,
						"method", r.Method,
					)...,
				)
				WriteError(w, http.StatusForbidden, CodeAuthorization, msgInsufficientPerms)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, id)))
		})
	}
}

// OptionalHTTPMiddleware attaches an [Identity] when the request carries a
// valid access token and passes every request through. Handlers behind it
// check [IdentityFromContext] themselves.
func OptionalHTTPMiddleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			if tok == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := abuse.ContextWithRequestInfo(r.Context(), requestInfo(r))
			claims, err := v.Verify(ctx, tok, token.TypeAccess)
			if err != nil {
				slog.DebugContext(ctx, "auth: optional token ignored",
					logAttrs(ctx,
						"token_fingerprint", token.Fingerprint(tok),
						"path", r.URL.Path,
						"method", r.Method,
					)...,
				)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, IdentityFromClaims(claims))))
		})
	}
}

// requestInfo describes r for the abuse detector.
func requestInfo(r *http.Request) abuse.RequestInfo {
	return abuse.RequestInfo{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
