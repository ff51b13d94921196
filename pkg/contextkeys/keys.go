// Package contextkeys holds the context keys shared across packages, so the
// producer and the consumers of a value agree on one key.
//
//	ctx = contextkeys.WithRequestID(ctx, id)
//	id := contextkeys.GetRequestID(ctx)
//
// Values whose types live in higher packages (the caller identity, the
// logger) are stored as interface{} and read back by the owning package.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey holds the *iam.Identity resolved by pkg/middleware from the
	// gateway headers. Read through iam.IdentityFromContext.
	IdentityKey Key = "identity"

	// RequestIDKey holds the X-Request-ID of the request. It is copied into
	// log lines and audit events.
	RequestIDKey Key = "request_id"

	// UserIDKey holds the caller's user id as a string, for log lines
	UserIDKey Key = "user_id"

	// LoggerKey holds an *observability.Logger
	LoggerKey Key = "logger"
)

func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

func stringValue(ctx context.Context, key Key) string {
	s, _ := ctx.Value(key).(string)
	return s
}
