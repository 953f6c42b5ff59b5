package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey int

// loggerKey is the context key for the logger.
const loggerKey contextKey = iota

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}

	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}

	return Default()
}

// Ctx returns a logger from the context or the default logger.
// This is a shorter alias for FromContext.
func Ctx(ctx context.Context) *zerolog.Logger {
	return FromContext(ctx)
}

// WithField adds a single field to the logger in the context.
func WithField(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, &logger)
}

// WithRepository adds target repository context to the logger.
func WithRepository(ctx context.Context, repository string) context.Context {
	return WithField(ctx, "repository", repository)
}

// WithCategory adds template category context to the logger.
func WithCategory(ctx context.Context, category string) context.Context {
	return WithField(ctx, "category", category)
}

// WithTrigger adds the trigger's source reference to the logger, passed
// through for correlation only.
func WithTrigger(ctx context.Context, sourceReference string) context.Context {
	return WithField(ctx, "source_ref", sourceReference)
}
