// Package errors defines the typed error taxonomy surfaced by the tracer.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ValidationError reports invalid configuration discovered at construction
// time, e.g. autoSave set to anything other than "off" without a transport.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserError wraps a panic or error raised by the function passed to Step or
// Track. Name/Message mirror what gets recorded on the StepMeta's error
// field and shipped to the transport.
type UserError struct {
	Name    string
	Message string
	Err     error
}

// NewUserError captures an arbitrary error returned by user code as a
// UserError, preserving it for errors.Unwrap/errors.As.
func NewUserError(err error) error {
	if err == nil {
		return nil
	}
	name := "Error"
	var existing *UserError
	if stderrors.As(err, &existing) {
		name = existing.Name
	}
	return &UserError{Name: name, Message: err.Error(), Err: err}
}

func (e *UserError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes the original error returned by user code.
func (e *UserError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError represents a single failed HTTP call made by a Transport
// implementation. In non-batched mode it surfaces synchronously to the
// caller; in batched mode it is swallowed by the retry policy and never
// reaches user code.
type TransportError struct {
	Operation  string
	StatusCode int
	Err        error
}

// NewTransportError constructs a TransportError for the named operation.
func NewTransportError(operation string, statusCode int, err error) error {
	return &TransportError{Operation: operation, StatusCode: statusCode, Err: err}
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("failed to %s: http status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

// Unwrap exposes the underlying transport failure.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportDrop indicates a batch exceeded maxRetries and was discarded.
// It never reaches user code; it exists only to be logged.
type TransportDrop struct {
	BatchSize int
	Attempts  int
	Err       error
}

// NewTransportDrop constructs a TransportDrop describing a discarded batch.
func NewTransportDrop(batchSize, attempts int, err error) error {
	return &TransportDrop{BatchSize: batchSize, Attempts: attempts, Err: err}
}

func (e *TransportDrop) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("dropped batch of %d event(s) after %d attempt(s): %v", e.BatchSize, e.Attempts, e.Err)
}

// Unwrap exposes the last retry's underlying error.
func (e *TransportDrop) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
