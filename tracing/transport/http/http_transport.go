package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lokwkin/steps-track-go/internal/logging"
	"github.com/lokwkin/steps-track-go/internal/ports"
	stepserrors "github.com/lokwkin/steps-track-go/pkg/errors"
	"github.com/lokwkin/steps-track-go/tracing"
)

const (
	pathPipelineStart  = "api/ingestion/pipeline/start"
	pathPipelineFinish = "api/ingestion/pipeline/finish"
	pathStepStart      = "api/ingestion/step/start"
	pathStepFinish     = "api/ingestion/step/finish"
	pathBatch          = "api/ingestion/batch"
)

// batchEvent is one entry of the array body POSTed to the batch endpoint.
// Fields unused by a given Type/Operation pair are omitted.
type batchEvent struct {
	Type      string                `json:"type"`
	Operation string                `json:"operation"`
	Meta      *tracing.PipelineMeta `json:"meta,omitempty"`
	Status    tracing.RunStatus     `json:"status,omitempty"`
	RunID     string                `json:"runId,omitempty"`
	Step      *tracing.StepMeta     `json:"step,omitempty"`
}

// HttpTransport implements tracing.Transport by POSTing JSON payloads to an
// ingestion API, either immediately (non-batched) or via an in-memory FIFO
// queue drained by a periodic background flusher (batched, the default).
type HttpTransport struct {
	opts   Options
	logger ports.Logger
	client *http.Client

	mu       sync.Mutex
	cache    []batchEvent
	flushing bool

	stopOnce sync.Once
	stopCh   chan struct{}
	flushWg  sync.WaitGroup
}

var _ tracing.Transport = (*HttpTransport)(nil)

// NewHttpTransport constructs an HttpTransport against baseURL, applying
// functional overrides on top of the documented defaults
// (batched, flushIntervalSeconds=5, maxBatchSize=50, maxRetries=3,
// retryBackoffMs=500). It returns a ValidationError if baseURL is empty or
// malformed.
func NewHttpTransport(baseURL string, opts ...Option) (*HttpTransport, error) {
	options := defaultOptions(baseURL)
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.validate(); err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	t := &HttpTransport{
		opts:   options,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
		stopCh: make(chan struct{}),
	}

	if t.opts.BatchLogs {
		t.flushWg.Add(1)
		go t.flushLoop()
	}

	return t, nil
}

func (t *HttpTransport) flushLoop() {
	defer t.flushWg.Done()
	interval := time.Duration(t.opts.FlushIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.flush(context.Background())
		}
	}
}

// InitiateRun implements tracing.Transport.
func (t *HttpTransport) InitiateRun(ctx context.Context, meta *tracing.PipelineMeta) error {
	event := batchEvent{Type: "pipeline", Operation: "start", Meta: meta}
	if !t.opts.BatchLogs {
		return t.post(ctx, "initiate run", pathPipelineStart, meta)
	}
	return t.enqueue(ctx, event)
}

// FinishRun implements tracing.Transport.
func (t *HttpTransport) FinishRun(ctx context.Context, meta *tracing.PipelineMeta, status tracing.RunStatus) error {
	event := batchEvent{Type: "pipeline", Operation: "finish", Meta: meta, Status: status}
	if !t.opts.BatchLogs {
		return t.post(ctx, "finish run", pathPipelineFinish, map[string]any{
			"pipelineMeta": meta,
			"status":       status,
		})
	}
	return t.enqueue(ctx, event)
}

// InitiateStep implements tracing.Transport.
func (t *HttpTransport) InitiateStep(ctx context.Context, runID string, step *tracing.StepMeta) error {
	event := batchEvent{Type: "step", Operation: "start", RunID: runID, Step: step}
	if !t.opts.BatchLogs {
		return t.post(ctx, "initiate step", pathStepStart, map[string]any{
			"runId": runID,
			"step":  step,
		})
	}
	return t.enqueue(ctx, event)
}

// FinishStep implements tracing.Transport.
func (t *HttpTransport) FinishStep(ctx context.Context, runID string, step *tracing.StepMeta) error {
	event := batchEvent{Type: "step", Operation: "finish", RunID: runID, Step: step}
	if !t.opts.BatchLogs {
		return t.post(ctx, "finish step", pathStepFinish, map[string]any{
			"runId": runID,
			"step":  step,
		})
	}
	return t.enqueue(ctx, event)
}

func (t *HttpTransport) enqueue(ctx context.Context, event batchEvent) error {
	t.mu.Lock()
	t.cache = append(t.cache, event)
	size := len(t.cache)
	t.mu.Unlock()

	if size >= t.opts.MaxBatchSize {
		// Tracked by flushWg so FlushAndStop can't return while this
		// max-batch-triggered flush is still in flight; without it,
		// FlushAndStop's own final flush could see flushing==true (set by
		// this goroutine) and return immediately without draining.
		t.flushWg.Add(1)
		go func() {
			defer t.flushWg.Done()
			t.flush(ctx)
		}()
	}
	return nil
}

// flush drains the current cache and POSTs it to the batch endpoint,
// retrying with doubling backoff on failure. At most one flush runs at a
// time; a concurrent call finds flushing already true and returns without
// touching the cache. Anything appended meanwhile stays cached until the next
// flush (periodic tick, max-batch trigger, or FlushAndStop).
func (t *HttpTransport) flush(ctx context.Context) {
	t.mu.Lock()
	if t.flushing || len(t.cache) == 0 {
		t.mu.Unlock()
		return
	}
	t.flushing = true
	batch := t.cache
	t.cache = nil
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.flushing = false
		t.mu.Unlock()
	}()

	if err := t.postBatchWithRetry(ctx, batch); err != nil {
		t.logger.Warn(ctx, "dropping batch after exhausting retries", "batch_size", len(batch), "error", err)
		return
	}
}

func (t *HttpTransport) postBatchWithRetry(ctx context.Context, batch []batchEvent) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	attempt := 0
	operation := func() error {
		attempt++
		postErr := t.doPost(ctx, pathBatch, body)
		if postErr != nil && t.opts.Debug {
			t.logger.Debug(ctx, "batch post attempt failed", "attempt", attempt, "error", postErr)
		}
		return postErr
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(t.opts.RetryBackoffMs) * time.Millisecond
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	err = backoff.Retry(operation, backoff.WithMaxRetries(eb, uint64(t.opts.MaxRetries)))
	if err != nil {
		// re-prepend the dropped batch's events to the front of the cache
		// is intentionally skipped here: maxRetries has been exhausted, so
		// the batch is dropped per the at-least-once delivery contract.
		return stepserrors.NewTransportDrop(len(batch), attempt, err)
	}
	return nil
}

func (t *HttpTransport) post(ctx context.Context, operation, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := t.doPost(ctx, path, body); err != nil {
		return stepserrors.NewTransportError(operation, statusCodeOf(err), err)
	}
	return nil
}

type httpStatusError struct {
	statusCode int
	err        error
}

func (e *httpStatusError) Error() string { return e.err.Error() }
func (e *httpStatusError) Unwrap() error { return e.err }

func statusCodeOf(err error) int {
	if statusErr, ok := err.(*httpStatusError); ok {
		return statusErr.statusCode
	}
	return 0
}

func (t *HttpTransport) doPost(ctx context.Context, path string, body []byte) error {
	url := t.opts.BaseURL
	if len(url) > 0 && url[len(url)-1] != '/' {
		url += "/"
	}
	url += path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &httpStatusError{
			statusCode: resp.StatusCode,
			err:        fmt.Errorf("ingestion endpoint %s returned status %d", path, resp.StatusCode),
		}
	}
	return nil
}

// FlushAndStop stops the periodic flusher, waits for every in-flight flush
// (periodic or max-batch-triggered) to finish, then performs one final flush
// to drain anything appended since. Safe to call multiple times. Callers
// should stop issuing Transport calls before calling FlushAndStop; a call
// racing with this one is not guaranteed to be drained.
func (t *HttpTransport) FlushAndStop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		if t.opts.BatchLogs {
			close(t.stopCh)
		}
	})
	t.flushWg.Wait()
	t.flush(ctx)
	return nil
}
