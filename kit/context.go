// Package kit holds the context keys shared across transports. The HTTP
// middleware stamps a trace ID per request; anything downstream of the
// request, including the websocket session it may upgrade into, reads it
// back for log correlation.
package kit

import "context"

type contextKey string

// TraceIDKey is the context key for the per-request trace ID.
const TraceIDKey contextKey = "kit_trace_id"

// WithTraceID returns a context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

// GetTraceID returns the trace ID from the context, or "" if none was set.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}
