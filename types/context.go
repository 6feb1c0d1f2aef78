package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID  contextKey = "trace_id"
	keyAccessID contextKey = "access_id"
	keyMemberID contextKey = "member_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithAccessID adds the caller's access id to context.
func WithAccessID(ctx context.Context, accessID string) context.Context {
	return context.WithValue(ctx, keyAccessID, accessID)
}

// AccessID extracts the caller's access id from context.
func AccessID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAccessID).(string)
	return v, ok && v != ""
}

// WithMemberID adds the calling federation member id to context.
func WithMemberID(ctx context.Context, memberID string) context.Context {
	return context.WithValue(ctx, keyMemberID, memberID)
}

// MemberID extracts the calling federation member id from context.
func MemberID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyMemberID).(string)
	return v, ok && v != ""
}
