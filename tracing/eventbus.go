package tracing

import (
	"context"
	"sync"

	"github.com/lokwkin/steps-track-go/internal/logging"
	"github.com/lokwkin/steps-track-go/internal/ports"
)

// EventName identifies one of the five lifecycle events a Step can emit.
type EventName string

const (
	EventStepStart    EventName = "step-start"
	EventStepSuccess  EventName = "step-success"
	EventStepError    EventName = "step-error"
	EventStepRecord   EventName = "step-record"
	EventStepComplete EventName = "step-complete"
)

// Listener receives a lifecycle event. The first argument is always the
// originating step's key, so a listener registered on an ancestor can tell
// where in the subtree the event was produced.
type Listener func(ctx context.Context, args ...any)

// dispatchJob is one queued (event, args) pair awaiting delivery to a single
// node's listeners.
type dispatchJob struct {
	ctx   context.Context
	event EventName
	args  []any
}

// EventBus is a per-node listener registry that bubbles every emitted event
// up through a chain of parent buses. Emit never runs listeners on the
// caller's own goroutine: each node queues the dispatch and drains it on a
// dedicated background goroutine, so emitting an event never blocks the
// step that raised it on its own (or an ancestor's) listener work.
// Registration order is preserved, and a single node's queued events are
// delivered one at a time, in the order they were emitted.
type EventBus struct {
	mu        sync.Mutex
	listeners map[EventName][]Listener
	parent    *EventBus
	logger    ports.Logger

	queue    []dispatchJob
	draining bool
}

// NewEventBus constructs an EventBus optionally chained to a parent. A nil
// parent marks the root of a tree (normally the Pipeline's own bus).
func NewEventBus(parent *EventBus, logger ports.Logger) *EventBus {
	if logger == nil {
		logger = noopLogger
	}
	return &EventBus{
		listeners: make(map[EventName][]Listener),
		parent:    parent,
		logger:    logger,
	}
}

// On registers listener for event, appended after any already registered
// for the same event on this node.
func (b *EventBus) On(event EventName, listener Listener) {
	if b == nil || listener == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], listener)
}

// Emit queues event for delivery to this node's listeners and forwards it to
// the parent bus the same way; it returns as soon as both are queued,
// without waiting for any listener to actually run. The first element of
// args must be the originating step's key.
func (b *EventBus) Emit(ctx context.Context, event EventName, args ...any) {
	if b == nil {
		return
	}
	b.enqueue(dispatchJob{ctx: ctx, event: event, args: args})
	if b.parent != nil {
		b.parent.Emit(ctx, event, args...)
	}
}

// enqueue appends job to this node's queue and, if no drain goroutine is
// currently running for this node, starts one. At most one drain goroutine
// runs per node at a time, so listeners for a single node never run
// concurrently with each other and always see jobs in enqueue order.
func (b *EventBus) enqueue(job dispatchJob) {
	b.mu.Lock()
	b.queue = append(b.queue, job)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	go b.drain()
}

func (b *EventBus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		job := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.dispatchLocal(job.ctx, job.event, job.args...)
	}
}

func (b *EventBus) dispatchLocal(ctx context.Context, event EventName, args ...any) {
	b.mu.Lock()
	listeners := make([]Listener, len(b.listeners[event]))
	copy(listeners, b.listeners[event])
	b.mu.Unlock()

	for _, listener := range listeners {
		b.invokeSafely(ctx, listener, event, args...)
	}
}

func (b *EventBus) invokeSafely(ctx context.Context, listener Listener, event EventName, args ...any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn(ctx, "event listener panicked", "event", string(event), "panic", r)
		}
	}()
	listener(ctx, args...)
}

var noopLogger = logging.NewNoOpLogger()
