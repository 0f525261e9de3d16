package util

import (
	"context"
	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns "" outside a request; background workers tag their
// own ids with SetRequestID.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestIDFrom keeps a caller-supplied id when it is a well-formed UUID
// and mints a fresh one otherwise.
func RequestIDFrom(incoming string) string {
	if incoming != "" {
		if u, err := uuid.Parse(incoming); err == nil {
			return u.String()
		}
	}
	return NewRequestID()
}
func NewRequestID() string {
	return uuid.New().String()
}
