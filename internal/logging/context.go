package logging

import (
	"context"

	"go.uber.org/zap"
)

type requestCtxKey struct{}
type collectionCtxKey struct{}

// WithRequestID attaches a request id for log correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithCollection attaches the collection being operated on.
func WithCollection(ctx context.Context, collection string) context.Context {
	if collection == "" {
		return ctx
	}
	return context.WithValue(ctx, collectionCtxKey{}, collection)
}

// CollectionFromContext returns the collection id or "".
func CollectionFromContext(ctx context.Context) string {
	c, _ := ctx.Value(collectionCtxKey{}).(string)
	return c
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if collection := CollectionFromContext(ctx); collection != "" {
		fields = append(fields, zap.String("collection", collection))
	}
	return fields
}
