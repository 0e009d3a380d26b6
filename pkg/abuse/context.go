package abuse

import "context"

// RequestInfo describes the request a token was presented on. The HTTP
// middleware attaches it before verification so activity events carry it.
type RequestInfo struct {
	IP        string
	UserAgent string
	Method    string
	Path      string
}

type requestInfoKey struct{}

// ContextWithRequestInfo returns a copy of ctx carrying info.
func ContextWithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the RequestInfo attached to ctx.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}
