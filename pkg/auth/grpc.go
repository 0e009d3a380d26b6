package auth

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/StricklySoft/stricklysoft-tokens/pkg/abuse"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// requires a valid access token in the "authorization" metadata.
//
// Missing or malformed metadata and failed verification return
// codes.Unauthenticated; a permission mismatch returns
// codes.PermissionDenied. The status messages match the HTTP middleware's.
func UnaryServerInterceptor(v Verifier, required ...string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, v, info.FullMethod, required)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// performs the same checks as [UnaryServerInterceptor] and wraps the
// stream to carry the enriched context.
func StreamServerInterceptor(v Verifier, required ...string) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), v, info.FullMethod, required)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticateGRPC(ctx context.Context, v Verifier, method string, required []string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, msgTokenRequired)
	}
	values := md.Get(HeaderAuthorization)
	if len(values) == 0 {
		return ctx, status.Error(codes.Unauthenticated, msgTokenRequired)
	}
	tok := ExtractBearerToken(values[0])
	if tok == "" {
		return ctx, status.Error(codes.Unauthenticated, msgTokenRequired)
	}

	info := abuse.RequestInfo{Method: "GRPC", Path: method}
	if ua := md.Get("user-agent"); len(ua) > 0 {
		info.UserAgent = ua[0]
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		info.IP = p.Addr.String()
		if host, _, err := net.SplitHostPort(info.IP); err == nil {
			info.IP = host
		}
	}
	ctx = abuse.ContextWithRequestInfo(ctx, info)

	claims, err := v.Verify(ctx, tok, token.TypeAccess)
	if err != nil {
		slog.WarnContext(ctx, "auth: token rejected",
			logAttrs(ctx,
				"token_fingerprint", token.Fingerprint(tok),
				"path", method,
				"method", info.Method,
			)...,
		)
		return ctx, status.Error(codes.Unauthenticated, msgInvalidToken)
	}

	id := IdentityFromClaims(claims)
	if !id.HasAnyPermission(required...) {
		slog.WarnContext(ctx, "auth: insufficient permissions",
			logAttrs(ctx,
				"user_id", id.UserID,
				"required", required,
				"path", method,
			)...,
		)
		return ctx, status.Error(codes.PermissionDenied, msgInsufficientPerms)
	}
	return ContextWithIdentity(ctx, id), nil
}

// wrappedServerStream wraps a grpc.ServerStream to override its Context method.
// ServerStream.Context() returns the original stream context, which does not
// contain the identity added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context containing identity information.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
