package core

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID attaches the request ID used to correlate attempt logs with
// the inbound HTTP request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request ID attached to ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
