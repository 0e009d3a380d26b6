package auth

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/StricklySoft/stricklysoft-tokens/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-tokens/pkg/errors"
	"github.com/StricklySoft/stricklysoft-tokens/pkg/token"
)

const testMethod = "/orders.v1.Orders/Get"

func incoming(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

// ---------------------------------------------------------------------------
// UnaryServerInterceptor
// ---------------------------------------------------------------------------

func TestUnaryServerInterceptor_ValidToken(t *testing.T) {
	t.Parallel()
	v := okVerifier()
	interceptor := UnaryServerInterceptor(v)

	ctx := incoming(HeaderAuthorization, "Bearer valid-token", "user-agent", "grpc-go/1.76")
	ctx = peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("198.51.100.3"), Port: 4000}})

	var captured context.Context
	handler := func(ctx context.Context, req any) (any, error) {
		captured = ctx
		return "response", nil
	}

	resp, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: testMethod}, handler)
	require.NoError(t, err)
	assert.Equal(t, "response", resp)

	id, ok := IdentityFromContext(captured)
	require.True(t, ok)
	assert.Equal(t, fixtures.UserID, id.UserID)
	assert.Equal(t, token.TypeAccess, v.typ)
	assert.Equal(t, "198.51.100.3", v.info.IP)
	assert.Equal(t, "grpc-go/1.76", v.info.UserAgent)
	assert.Equal(t, testMethod, v.info.Path)
}

func TestUnaryServerInterceptor_Rejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		ctx      context.Context
		verifier *mockVerifier
		required []string
		code     codes.Code
		message  string
		verified bool
	}{
		{"no metadata", context.Background(), okVerifier(), nil, codes.Unauthenticated, "Access token required", false},
		{"no authorization", incoming("other", "x"), okVerifier(), nil, codes.Unauthenticated, "Access token required", false},
		{"lower-case scheme", incoming(HeaderAuthorization, "bearer abc"), okVerifier(), nil, codes.Unauthenticated, "Access token required", false},
		{"verification fails", incoming(HeaderAuthorization, "Bearer abc"), &mockVerifier{err: sserr.VerificationFailed()}, nil, codes.Unauthenticated, "Invalid or expired token", true},
		{"no permission overlap", incoming(HeaderAuthorization, "Bearer abc"), okVerifier(), []string{"admin"}, codes.PermissionDenied, "Insufficient permissions", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := func(context.Context, any) (any, error) {
				t.Error("handler should not be called")
				return nil, nil
			}
			_, err := UnaryServerInterceptor(tt.verifier, tt.required...)(tt.ctx, "req", &grpc.UnaryServerInfo{FullMethod: testMethod}, handler)
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, st.Code())
			assert.Equal(t, tt.message, st.Message())
			assert.Equal(t, tt.verified, tt.verifier.Calls() > 0)
		})
	}
}

func TestUnaryServerInterceptor_RequiredPermissionHeld(t *testing.T) {
	t.Parallel()
	handler := func(context.Context, any) (any, error) { return "ok", nil }
	resp, err := UnaryServerInterceptor(okVerifier(), "write:orders")(
		incoming(HeaderAuthorization, "Bearer abc"), "req", &grpc.UnaryServerInfo{FullMethod: testMethod}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

// ---------------------------------------------------------------------------
// StreamServerInterceptor
// ---------------------------------------------------------------------------

// mockServerStream implements grpc.ServerStream for testing.
type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func TestStreamServerInterceptor_ValidToken(t *testing.T) {
	t.Parallel()
	interceptor := StreamServerInterceptor(okVerifier())
	ss := &mockServerStream{ctx: incoming(HeaderAuthorization, "Bearer valid-token")}

	var captured context.Context
	handler := func(srv any, stream grpc.ServerStream) error {
		captured = stream.Context()
		return nil
	}

	err := interceptor(nil, ss, &grpc.StreamServerInfo{FullMethod: testMethod}, handler)
	require.NoError(t, err)
	id, ok := IdentityFromContext(captured)
	require.True(t, ok)
	assert.Equal(t, fixtures.UserID, id.UserID)
}

func TestStreamServerInterceptor_InvalidToken(t *testing.T) {
	t.Parallel()
	interceptor := StreamServerInterceptor(&mockVerifier{err: sserr.VerificationFailed()})
	ss := &mockServerStream{ctx: incoming(HeaderAuthorization, "Bearer bad")}

	handler := func(any, grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	}
	err := interceptor(nil, ss, &grpc.StreamServerInfo{FullMethod: testMethod}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
