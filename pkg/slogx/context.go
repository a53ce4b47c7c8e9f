package slogx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithContext attaches logger to ctx for code further down the call.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger attached to ctx. Without one it returns a
// discarding logger, so library code never writes to the application's
// default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return Discard()
}

// WithAction tags the context logger with the action being sent.
func WithAction(ctx context.Context, action string) context.Context {
	return WithContext(ctx, FromContext(ctx).With("action", action))
}
