package logging

import (
	"context"
)

// Context keys for common log fields.
type contextKey string

const (
	// ConnectionKey is the context key for the driver connection id.
	ConnectionKey contextKey = "connection"

	// SessionKey is the context key for the per-connection session uuid.
	SessionKey contextKey = "session"

	// MethodKey is the context key for the HTTP method being dispatched.
	MethodKey contextKey = "method"
)

// WithConnection adds the connection id and session uuid to the context.
func WithConnection(ctx context.Context, id uint64, session string) context.Context {
	ctx = context.WithValue(ctx, ConnectionKey, id)
	if session != "" {
		ctx = context.WithValue(ctx, SessionKey, session)
	}
	return ctx
}

// GetConnection retrieves the connection id from the context.
func GetConnection(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(ConnectionKey).(uint64)
	return id, ok
}

// GetSession retrieves the session uuid from the context.
func GetSession(ctx context.Context) string {
	if s, ok := ctx.Value(SessionKey).(string); ok {
		return s
	}
	return ""
}

// WithMethod adds the HTTP method to the context.
func WithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

// GetMethod retrieves the HTTP method from the context.
func GetMethod(ctx context.Context) string {
	if m, ok := ctx.Value(MethodKey).(string); ok {
		return m
	}
	return ""
}

// ContextAttrs returns key/value log arguments for the fields set on ctx, in
// a fixed order, followed by args.
func ContextAttrs(ctx context.Context, args ...any) []any {
	if ctx == nil {
		return args
	}
	fields := make([]any, 0, 6+len(args))
	if id, ok := GetConnection(ctx); ok {
		fields = append(fields, "connection", id)
	}
	if s := GetSession(ctx); s != "" {
		fields = append(fields, "session", s)
	}
	if m := GetMethod(ctx); m != "" {
		fields = append(fields, "method", m)
	}
	return append(fields, args...)
}
