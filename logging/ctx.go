package logging

import "context"

type contextKey string

const loggerKey contextKey = "logger"

// WithLogger returns a derived context with associated logger.
func WithLogger(ctx context.Context, l LoggerFactory) context.Context {
	if l == nil {
		l = getNullLogger
	}

	return context.WithValue(ctx, loggerKey, l)
}

// WithAdditionalLogger returns a context where all logging is emitted to the original logger plus the provided logger factory.
func WithAdditionalLogger(ctx context.Context, fact LoggerFactory) context.Context {
	originalLogFactory, ok := ctx.Value(loggerKey).(LoggerFactory)
	if !ok {
		return WithLogger(ctx, fact)
	}

	return WithLogger(ctx, func(module string) Logger {
		return Broadcast(originalLogFactory(module), fact(module))
	})
}
