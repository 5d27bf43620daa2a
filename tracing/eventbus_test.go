package tracing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventuallyWait/eventuallyTick bound how long tests wait for the
// background drain goroutine to deliver a queued event before failing.
const (
	eventuallyWait = 500 * time.Millisecond
	eventuallyTick = time.Millisecond
)

func TestEventBusDispatchesInRegistrationOrder(t *testing.T) {
	bus := NewEventBus(nil, nil)
	var mu sync.Mutex
	var order []string

	bus.On(EventStepStart, func(ctx context.Context, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "first")
	})
	bus.On(EventStepStart, func(ctx context.Context, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "second")
	})

	bus.Emit(context.Background(), EventStepStart, "k")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, eventuallyWait, eventuallyTick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventBusBubblesToParent(t *testing.T) {
	parent := NewEventBus(nil, nil)
	child := NewEventBus(parent, nil)

	var mu sync.Mutex
	var seenOnParent []string
	parent.On(EventStepSuccess, func(ctx context.Context, args ...any) {
		key, _ := args[0].(string)
		mu.Lock()
		defer mu.Unlock()
		seenOnParent = append(seenOnParent, key)
	})

	child.Emit(context.Background(), EventStepSuccess, "child.key", "result")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seenOnParent) == 1
	}, eventuallyWait, eventuallyTick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "child.key", seenOnParent[0])
}

func TestEventBusIsolatesPanickingListener(t *testing.T) {
	bus := NewEventBus(nil, nil)
	var mu sync.Mutex
	var secondCalled bool

	bus.On(EventStepRecord, func(ctx context.Context, args ...any) {
		panic("boom")
	})
	bus.On(EventStepRecord, func(ctx context.Context, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		secondCalled = true
	})

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), EventStepRecord, "k", "field", "value")
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondCalled
	}, eventuallyWait, eventuallyTick)
}

func TestEventBusOnlyBubblesSameEvent(t *testing.T) {
	parent := NewEventBus(nil, nil)
	child := NewEventBus(parent, nil)

	var mu sync.Mutex
	var calls int
	parent.On(EventStepError, func(ctx context.Context, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	child.Emit(context.Background(), EventStepSuccess, "k", "r")

	// Give the (correctly absent) dispatch a chance to happen before
	// asserting it never does.
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}
