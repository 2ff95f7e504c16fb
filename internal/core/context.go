package core

import "context"

type contextKey string

const (
	ctxKeyOperatorIP contextKey = "operator_ip"
	ctxKeyUserAgent  contextKey = "operator_ua"
)

// ContextWithOperator records who is acting, for logs and the run history.
func ContextWithOperator(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyOperatorIP, ip)
	return context.WithValue(ctx, ctxKeyUserAgent, userAgent)
}

// OperatorIP returns the client IP stored by ContextWithOperator.
func OperatorIP(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOperatorIP).(string); ok {
		return v
	}
	return ""
}

// OperatorUserAgent returns the User-Agent stored by ContextWithOperator.
func OperatorUserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}
