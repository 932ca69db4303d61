package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if id, ok := SessionIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("session.id", id))
	}
	if id, ok := DataSourceIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("data_source.id", id))
	}
	if id := ResponseIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("response.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}

	return fields
}

type sessionCtxKey struct{}
type dataSourceCtxKey struct{}
type responseCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// WithSessionID adds the chat session id to context.
func WithSessionID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext extracts the chat session id from context.
func SessionIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(sessionCtxKey{}).(int64)
	return id, ok
}

// WithDataSourceID adds the data source id to context.
func WithDataSourceID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, dataSourceCtxKey{}, id)
}

// DataSourceIDFromContext extracts the data source id from context.
func DataSourceIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(dataSourceCtxKey{}).(int64)
	return id, ok
}

// WithResponseID adds the chat response id to context.
func WithResponseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, responseCtxKey{}, id)
}

func ResponseIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(responseCtxKey{}).(string)
	return id
}

// WithRequestID adds the HTTP request id to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger if none is set.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
