package common

import "context"

type contextKey string

// Keys for the values this package stores in contexts.

const (
	requestIDKey  contextKey = "request_id"
	specimenIDKey contextKey = "specimen_id"
)

// WithRequestID tags the context with the ID of the RPC being served.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID, or "" when none was set.
func RequestIDFromContext(ctx context.Context) string {
	if rid, ok := ctx.Value(requestIDKey).(string); ok {
		return rid
	}
	return ""
}

// WithSpecimenID tags the context with the specimen being processed.
func WithSpecimenID(ctx context.Context, specimenID string) context.Context {
	return context.WithValue(ctx, specimenIDKey, specimenID)
}

// SpecimenIDFromContext returns the specimen ID, or "" when none was set.
func SpecimenIDFromContext(ctx context.Context) string {
	if sid, ok := ctx.Value(specimenIDKey).(string); ok {
		return sid
	}
	return ""
}
