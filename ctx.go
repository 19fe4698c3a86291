package community

import (
	"context"

	"github.com/google/uuid"
)

var requestIDCtxKey = &contextKey{"request_id"}

type contextKey struct {
	name string
}

// WithRequestID sets the request id sent as X-Request-ID by the gateway.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey, id)
}

// RequestIDFromContext finds the request id in the context.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(requestIDCtxKey).(string)
	return raw, ok && raw != ""
}

func requestID(ctx context.Context) string {
	if id, ok := RequestIDFromContext(ctx); ok {
		return id
	}
	return uuid.NewString()
}
