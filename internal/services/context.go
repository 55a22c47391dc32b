package services

import "context"

type contextKey string

const (
	segmentIDKey contextKey = "segment_id"
	operationKey contextKey = "operation"
	requestIDKey contextKey = "request_id"
)

// WithSegmentID annotates context with the segment under review.
func WithSegmentID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, segmentIDKey, id)
}

// SegmentIDFromContext extracts the segment identifier if present.
func SegmentIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(segmentIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithOperation annotates context with the operator action being performed.
func WithOperation(ctx context.Context, op string) context.Context {
	if op == "" {
		return ctx
	}
	return context.WithValue(ctx, operationKey, op)
}

// OperationFromContext returns the operation name if present.
func OperationFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(operationKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
