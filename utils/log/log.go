// Package log passes a zap logger through the context so that storage
// layers can enrich log lines without threading a logger through every
// call site.
package log

import (
	"context"

	"go.uber.org/zap"
)

type key int

const loggerKey key = iota

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger extracts a logger from the context. It returns nil if the
// context carries no logger.
func Logger(ctx context.Context) *zap.Logger {
	rawLogger := ctx.Value(loggerKey)

	if rawLogger == nil {
		return nil
	}

	logger, ok := rawLogger.(*zap.Logger)

	if !ok {
		return nil
	}

	return logger
}

// LoggerFromContext attempts to use a logger passed through the context.
// If no logger is passed through the context it uses the default logger
// and attaches it to the context. A nil defaultLogger falls back to a
// no-op logger.
func LoggerFromContext(ctx context.Context, defaultLogger *zap.Logger) (*zap.Logger, context.Context) {
	logger := Logger(ctx)

	if logger == nil {
		if defaultLogger == nil {
			defaultLogger = zap.NewNop()
		}

		logger = defaultLogger
		ctx = WithLogger(ctx, logger)
	}

	return logger, ctx
}
