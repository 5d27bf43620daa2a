package tracing

import (
	"context"
	"fmt"

	"github.com/lokwkin/steps-track-go/internal/logging"
	"github.com/lokwkin/steps-track-go/internal/ports"
	stepserrors "github.com/lokwkin/steps-track-go/pkg/errors"
)

// AutoSaveMode controls whether and how a Pipeline forwards lifecycle
// events to its Transport.
type AutoSaveMode string

const (
	// AutoSaveOff performs no transport calls.
	AutoSaveOff AutoSaveMode = "off"
	// AutoSaveFinish reports the entire run in one FinishRun call once
	// Track completes.
	AutoSaveFinish AutoSaveMode = "finish"
	// AutoSaveRealTime additionally reports each step's start/complete as
	// it happens, and reports the run's start before invoking the user
	// function.
	AutoSaveRealTime AutoSaveMode = "real_time"
)

// PipelineOptions configures a Pipeline. Transport is required whenever
// AutoSave is anything other than AutoSaveOff.
type PipelineOptions struct {
	RunID     string       `validate:"omitempty"`
	Key       string       `validate:"omitempty"`
	AutoSave  AutoSaveMode `validate:"required,auto_save_mode"`
	Transport Transport    `validate:"-"`
	Logger    ports.Logger `validate:"-"`
}

// PipelineOption mutates PipelineOptions.
type PipelineOption func(*PipelineOptions)

// WithRunID sets an explicit run id instead of generating a fresh UUID.
func WithRunID(runID string) PipelineOption {
	return func(o *PipelineOptions) { o.RunID = runID }
}

// WithPipelineKey overrides the root step's local key, independent of its
// display name, the same way StepOption's WithKey does for a child Step.
// Named distinctly from WithKey since both options live in this package.
func WithPipelineKey(key string) PipelineOption {
	return func(o *PipelineOptions) { o.Key = key }
}

// WithAutoSave sets the autoSave mode.
func WithAutoSave(mode AutoSaveMode) PipelineOption {
	return func(o *PipelineOptions) { o.AutoSave = mode }
}

// WithTransport sets the transport lifecycle events are forwarded to.
func WithTransport(t Transport) PipelineOption {
	return func(o *PipelineOptions) { o.Transport = t }
}

// WithLogger overrides the pipeline's logger; defaults to a no-op logger.
func WithLogger(l ports.Logger) PipelineOption {
	return func(o *PipelineOptions) { o.Logger = l }
}

// Pipeline is the root Step of one run: it adds a run id and, depending on
// AutoSave, drives a Transport with that run's lifecycle events.
type Pipeline struct {
	*Step

	runID     string
	autoSave  AutoSaveMode
	transport Transport
	logger    ports.Logger
}

// NewPipeline constructs a Pipeline named name. It returns a ValidationError
// if AutoSave is set to anything other than AutoSaveOff without a
// Transport, or if AutoSave is not one of the recognised modes.
func NewPipeline(name string, opts ...PipelineOption) (*Pipeline, error) {
	options := PipelineOptions{AutoSave: AutoSaveOff}
	for _, opt := range opts {
		opt(&options)
	}

	if options.RunID == "" {
		options.RunID = ports.NewRunID()
	}
	if options.Logger == nil {
		options.Logger = logging.NewNoOpLogger()
	}

	if err := validatorInstance().Struct(&options); err != nil {
		return nil, stepserrors.NewValidationError("autoSave", err.Error(), err)
	}
	if options.AutoSave != AutoSaveOff && options.Transport == nil {
		return nil, stepserrors.NewValidationError("transport", fmt.Sprintf("transport is required when autoSave is %q", options.AutoSave), nil)
	}

	var rootOpts []StepOption
	if options.Key != "" {
		rootOpts = append(rootOpts, WithKey(options.Key))
	}
	root := newStep(name, nil, rootOpts, options.Logger)
	p := &Pipeline{
		Step:      root,
		runID:     options.RunID,
		autoSave:  options.AutoSave,
		transport: options.Transport,
		logger:    options.Logger,
	}

	if p.autoSave == AutoSaveRealTime {
		p.subscribeRealTime()
	}

	return p, nil
}

func (p *Pipeline) subscribeRealTime() {
	p.On(EventStepStart, func(ctx context.Context, args ...any) {
		key, _ := args[0].(string)
		step := p.findByKey(key)
		if step == nil {
			return
		}
		if err := p.transport.InitiateStep(ctx, p.runID, step.GetStepMeta()); err != nil {
			p.logger.Warn(ctx, "failed to report step start", "key", key, "error", err)
		}
	})
	p.On(EventStepComplete, func(ctx context.Context, args ...any) {
		key, _ := args[0].(string)
		step := p.findByKey(key)
		if step == nil {
			return
		}
		if err := p.transport.FinishStep(ctx, p.runID, step.GetStepMeta()); err != nil {
			p.logger.Warn(ctx, "failed to report step finish", "key", key, "error", err)
		}
	})
}

func (p *Pipeline) findByKey(key string) *Step {
	if p.Step.key == key {
		return p.Step
	}
	var search func(s *Step) *Step
	search = func(s *Step) *Step {
		s.mu.Lock()
		children := make([]*Step, len(s.children))
		copy(children, s.children)
		s.mu.Unlock()
		for _, child := range children {
			if child.key == key {
				return child
			}
			if found := search(child); found != nil {
				return found
			}
		}
		return nil
	}
	return search(p.Step)
}

// GetRunID returns the pipeline's run id.
func (p *Pipeline) GetRunID() string {
	return p.runID
}

// OutputPipelineMeta returns the pipeline's full metadata, including the
// flattened pre-order traversal of the entire tree.
func (p *Pipeline) OutputPipelineMeta() *PipelineMeta {
	return &PipelineMeta{
		StepMeta:   *p.GetStepMeta(),
		LogVersion: 1,
		RunID:      p.runID,
		Steps:      p.OutputFlattened(),
	}
}

// Track runs fn against the pipeline root, driving the configured Transport
// according to AutoSave. It returns fn's error unchanged.
func (p *Pipeline) Track(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx = ports.WithRunID(ctx, p.runID)

	if p.autoSave == AutoSaveRealTime {
		if err := p.transport.InitiateRun(ctx, p.OutputPipelineMeta()); err != nil {
			p.logger.Warn(ctx, "failed to report run start", "error", err)
		}
	}

	err := p.Step.Track(ctx, fn)

	if p.autoSave == AutoSaveRealTime || p.autoSave == AutoSaveFinish {
		status := RunStatusCompleted
		if err != nil {
			status = RunStatusFailed
		}
		if reportErr := p.transport.FinishRun(ctx, p.OutputPipelineMeta(), status); reportErr != nil {
			p.logger.Warn(ctx, "failed to report run finish", "error", reportErr)
		}
	}

	return err
}
