package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const (
	// identityKey stores the authenticated Identity in the context.
	identityKey contextKey = iota
)

// ContextWithIdentity returns a new context with the given Identity attached.
// The identity can later be retrieved with [IdentityFromContext].
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the Identity attached by the middleware.
//
// Example:
//
//	id, ok := auth.IdentityFromContext(r.Context())
//	if !ok {
//	    auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthentication, "Access token required")
//	    return
//	}
//	log.Info("request from", "user", id.UserID)
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// MustIdentityFromContext retrieves the Identity from the context, panicking
// if none is present. Use it only behind [HTTPMiddleware] or the gRPC
// interceptors.
func MustIdentityFromContext(ctx context.Context) Identity {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context; ensure authentication middleware is configured")
	}
	return id
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

// logAttrs returns the trace id attribute pair when a trace is active, so
// rejection logs can be joined with the request's spans.
func logAttrs(ctx context.Context, attrs ...any) []any {
	if id, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, "trace_id", id)
	}
	return attrs
}
