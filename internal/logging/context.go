package logging

import (
	"context"
	"log/slog"
)

// ctxKey is an unexported type for context keys defined in this package.
type ctxKey string

const (
	loggerKey  ctxKey = "logger"
	traceIDKey ctxKey = "traceID"
	accountKey ctxKey = "account"
)

// WithLogger stores the provided logger on the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the operation-scoped logger or falls back to slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithTraceID stores a trace identifier on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if ctx == nil || traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext retrieves the trace identifier from the context.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithAccount tags the context, and its logger, with the account an operation
// runs on behalf of.
func WithAccount(ctx context.Context, account string) context.Context {
	if ctx == nil || account == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, accountKey, account)
	return WithLogger(ctx, FromContext(ctx).With(slog.String("account", account)))
}

// AccountFromContext retrieves the account tag from the context.
func AccountFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if account, ok := ctx.Value(accountKey).(string); ok {
		return account
	}
	return ""
}
