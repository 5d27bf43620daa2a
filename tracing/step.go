package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokwkin/steps-track-go/internal/logging"
	"github.com/lokwkin/steps-track-go/internal/ports"
	stepserrors "github.com/lokwkin/steps-track-go/pkg/errors"
)

// StepOptions configures a single Step or Pipeline construction. Key lets a
// caller override the local key used in the dot-joined path; it defaults
// to the step's Name.
type StepOptions struct {
	Key string
}

// StepOption mutates StepOptions; functional options keep Step/Pipeline
// constructors and the step(name, fn, opts...) call extensible without
// breaking existing call sites.
type StepOption func(*StepOptions)

// WithKey overrides the local key segment of a step, independent of its
// display Name.
func WithKey(key string) StepOption {
	return func(o *StepOptions) { o.Key = key }
}

// Step is a node in the execution tree. It owns its children, its records,
// its timing, and a local EventBus that bubbles events to its parent's bus.
// A Step is safe for concurrent use: children spawned by user code running
// in parallel goroutines may mutate disjoint subtrees without contention,
// but any single Step's own fields are guarded by mu.
type Step struct {
	mu sync.Mutex

	name     string
	localKey string
	key      string
	parent   *Step
	children []*Step

	records *Records
	time    TimeMeta
	result  any
	errMeta *ErrorMeta
	done    bool

	bus    *EventBus
	logger ports.Logger
}

// newStep constructs a Step. parent may be nil for a pipeline root.
func newStep(name string, parent *Step, opts []StepOption, logger ports.Logger) *Step {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	options := StepOptions{Key: name}
	for _, opt := range opts {
		opt(&options)
	}

	key := options.Key
	var parentBus *EventBus
	if parent != nil {
		key = parent.key + "." + options.Key
		parentBus = parent.bus
	}

	return &Step{
		name:     name,
		localKey: options.Key,
		key:      key,
		parent:   parent,
		records:  NewRecords(),
		bus:      NewEventBus(parentBus, logger),
		logger:   logger,
	}
}

// NewStep constructs a standalone, parentless Step. Most callers obtain
// steps through Pipeline or by calling Step on an existing one; this
// constructor exists for embedding a step tree without a Pipeline's run
// identity or transport.
func NewStep(name string, opts ...StepOption) *Step {
	return newStep(name, nil, opts, logging.NewNoOpLogger())
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// GetName returns the step's local display name.
func (s *Step) GetName() string {
	return s.name
}

// GetKey returns the step's dot-joined path from the root.
func (s *Step) GetKey() string {
	return s.key
}

// GetRecords returns the step's records.
func (s *Step) GetRecords() *Records {
	return s.records
}

// On registers a listener for event on this step's bus; by virtue of
// bubbling, a listener registered here also observes events emitted
// anywhere in this step's subtree.
func (s *Step) On(event EventName, listener Listener) {
	s.bus.On(event, listener)
}

// GetStepMeta returns a snapshot of this step's current state. Safe to call
// while the step is still running; Time.EndTs will be nil in that case.
func (s *Step) GetStepMeta() *StepMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepMetaLocked()
}

func (s *Step) stepMetaLocked() *StepMeta {
	meta := &StepMeta{
		Name:    s.name,
		Key:     s.key,
		Time:    s.time,
		Records: s.records.Clone(),
	}
	if s.done {
		meta.Result = s.result
		meta.Error = s.errMeta
	}
	return meta
}

// Record inserts or overwrites key in the step's records and emits
// step-record. Calling Record after the step has already emitted
// step-complete is permitted (late listener-driven writes) but logged.
func (s *Step) Record(ctx context.Context, key string, value any) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done {
		s.logger.Warn(ctx, "record called on a completed step", "key", s.key, "record_key", key)
	}

	s.records.Set(key, value)
	s.bus.Emit(ctx, EventStepRecord, s.key, key, value)
}

// Step creates a child step named name, runs fn against it, and returns
// fn's result. It emits step-start before invoking fn and step-success (or
// step-error) followed by step-complete once fn returns. A panic or error
// from fn is recorded as a UserError on the child and re-raised (re-panicked
// or returned) to the caller; the child is never reaped, even on failure.
func (s *Step) Step(ctx context.Context, name string, fn func(ctx context.Context, step *Step) (any, error), opts ...StepOption) (any, error) {
	child := newStep(name, s, opts, s.logger)

	s.mu.Lock()
	s.children = append(s.children, child)
	s.mu.Unlock()

	return child.run(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx, child)
	})
}

// Track behaves like the body of Step applied to self instead of a new
// child: it measures the root's own timing and emits its own
// success/error/complete events. It returns the error from fn unchanged (if
// any); the step is fully populated regardless of outcome.
func (s *Step) Track(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := s.run(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *Step) run(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	s.mu.Lock()
	s.time.StartTs = nowMs()
	s.mu.Unlock()

	s.bus.Emit(ctx, EventStepStart, s.key)

	defer func() {
		if r := recover(); r != nil {
			s.finish(ctx, nil, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	value, runErr := fn(ctx)
	s.finish(ctx, value, runErr)
	return value, runErr
}

func (s *Step) finish(ctx context.Context, value any, err error) {
	endTs := nowMs()

	s.mu.Lock()
	s.time.EndTs = &endTs
	usage := endTs - s.time.StartTs
	s.time.TimeUsageMs = &usage
	s.done = true
	if err != nil {
		userErr := stepserrors.NewUserError(err)
		s.errMeta = &ErrorMeta{Name: errorName(userErr), Message: err.Error()}
	} else {
		s.result = value
	}
	s.mu.Unlock()

	if err != nil {
		s.bus.Emit(ctx, EventStepError, s.key, err)
	} else {
		s.bus.Emit(ctx, EventStepSuccess, s.key, value)
	}
	s.bus.Emit(ctx, EventStepComplete, s.key)
}

func errorName(err error) string {
	if userErr, ok := err.(*stepserrors.UserError); ok {
		return userErr.Name
	}
	return "Error"
}

// OutputNested materialises the subtree rooted at this step as a recursive
// value, each node carrying an ordered substeps array in insertion order.
func (s *Step) OutputNested() *StepMetaTree {
	s.mu.Lock()
	meta := s.stepMetaLocked()
	children := make([]*Step, len(s.children))
	copy(children, s.children)
	s.mu.Unlock()

	tree := &StepMetaTree{StepMeta: *meta}
	for _, child := range children {
		tree.Substeps = append(tree.Substeps, child.OutputNested())
	}
	return tree
}

// OutputFlattened returns the pre-order traversal of this step's subtree:
// this step first, then each child's flattening in insertion order.
func (s *Step) OutputFlattened() []*StepMeta {
	s.mu.Lock()
	meta := s.stepMetaLocked()
	children := make([]*Step, len(s.children))
	copy(children, s.children)
	s.mu.Unlock()

	flattened := []*StepMeta{meta}
	for _, child := range children {
		flattened = append(flattened, child.OutputFlattened()...)
	}
	return flattened
}
