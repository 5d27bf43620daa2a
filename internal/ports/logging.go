package ports

import (
	"context"

	"github.com/google/uuid"
)

// Logger is the structured logging contract used throughout the tracer. All
// calls take key/value pairs, must be safe for concurrent use, and should
// automatically enrich entries with a run id when one is present in context.
// Common fields include:
//   - run_id (the owning pipeline's run id)
//   - component (eventbus, transport, flusher, ...)
//   - key (a step's dot-joined path)
//   - attempt / batch_size (transport retry bookkeeping)
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, msg string, fields ...interface{})
	Error(ctx context.Context, msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

type runIDKey struct{}

// WithRunID attaches a pipeline run id to the context so that logs emitted
// anywhere beneath it (event listeners, transport retries) can be correlated
// back to the run that produced them.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext extracts a run id from context, returning an empty string
// when none has been set.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewRunID produces a fresh run identifier for pipelines constructed without
// an explicit one.
func NewRunID() string {
	return uuid.NewString()
}
