package tracing

import "context"

// RunStatus is the terminal (or running) status reported to a Transport's
// FinishRun call.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Transport is the sink for pipeline lifecycle events. Implementations must
// be idempotent from the caller's point of view: Pipeline never retries a
// call itself, so any retry policy belongs to the Transport. Each method
// either returns nil or a TransportError; batched implementations may
// instead queue the event and return nil immediately.
type Transport interface {
	InitiateRun(ctx context.Context, meta *PipelineMeta) error
	FinishRun(ctx context.Context, meta *PipelineMeta, status RunStatus) error
	InitiateStep(ctx context.Context, runID string, step *StepMeta) error
	FinishStep(ctx context.Context, runID string, step *StepMeta) error
}
