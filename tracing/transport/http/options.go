// Package http implements tracing.Transport against an HTTP ingestion API,
// either POSTing one request per lifecycle event or batching them into a
// periodically-flushed queue with retry.
package http

import (
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/lokwkin/steps-track-go/internal/ports"
	stepserrors "github.com/lokwkin/steps-track-go/pkg/errors"
)

// Options configures an HttpTransport. Zero-value Options is never used
// directly; NewHttpTransport seeds the documented defaults before applying
// functional overrides.
type Options struct {
	BaseURL              string `validate:"required,url"`
	BatchLogs            bool
	FlushIntervalSeconds int `validate:"gte=0"`
	MaxBatchSize         int `validate:"gte=1"`
	MaxRetries           int `validate:"gte=0"`
	RetryBackoffMs       int `validate:"gte=0"`
	Debug                bool
	Logger               ports.Logger `validate:"-"`
}

func defaultOptions(baseURL string) Options {
	return Options{
		BaseURL:              baseURL,
		BatchLogs:            true,
		FlushIntervalSeconds: 5,
		MaxBatchSize:         50,
		MaxRetries:           3,
		RetryBackoffMs:       500,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithBatchLogs selects batched (true) or one-request-per-event (false)
// delivery.
func WithBatchLogs(enabled bool) Option {
	return func(o *Options) { o.BatchLogs = enabled }
}

// WithFlushInterval sets how often the background flusher wakes in batched
// mode.
func WithFlushInterval(seconds int) Option {
	return func(o *Options) { o.FlushIntervalSeconds = seconds }
}

// WithMaxBatchSize sets the cache size that triggers an immediate flush.
func WithMaxBatchSize(n int) Option {
	return func(o *Options) { o.MaxBatchSize = n }
}

// WithMaxRetries bounds how many times a failed batch is retried before
// being dropped.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithRetryBackoff sets the initial retry delay, doubled per attempt.
func WithRetryBackoff(ms int) Option {
	return func(o *Options) { o.RetryBackoffMs = ms }
}

// WithDebug enables verbose operational logging; it never affects delivery
// semantics.
func WithDebug(enabled bool) Option {
	return func(o *Options) { o.Debug = enabled }
}

// WithLogger overrides the transport's logger; defaults to a no-op logger.
func WithLogger(l ports.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

func (o *Options) validate() error {
	if err := validatorInstance().Struct(o); err != nil {
		return stepserrors.NewValidationError("baseUrl", err.Error(), err)
	}
	return nil
}
