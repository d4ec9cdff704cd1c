package batchz

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrSinkClosed is returned when writing to an input sink that has been
	// closed.
	ErrSinkClosed = errors.New("batchz: input sink closed")

	// ErrQueueFull is returned when the input queue has no room and the write
	// is not allowed to wait.
	ErrQueueFull = errors.New("batchz: input queue full")

	// ErrEngineStopped is returned when writing to an engine whose
	// accumulator has already exited.
	ErrEngineStopped = errors.New("batchz: engine stopped")

	// ErrFlushPanic wraps a panic recovered from a flush function.
	ErrFlushPanic = errors.New("batchz: flush function panicked")
)

// ConfigurationError reports an invalid tunable. An engine is never created
// from a configuration that fails validation.
type ConfigurationError struct {
	// Field is the offending Config field, empty when the failure is not
	// tied to one field (for example a YAML syntax error).
	Field string

	// Value is the rejected value.
	Value any

	// Err is the underlying cause.
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("batchz: invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("batchz: invalid configuration: %s=%v: %v", e.Field, e.Value, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// LifecycleError reports an illegal start or stop sequence. It is fatal to
// the call, not to the engine.
type LifecycleError struct {
	// Op is the attempted operation ("run", "start", "stop").
	Op string

	// State is the lifecycle state the engine was in.
	State string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("batchz: cannot %s engine in state %s", e.Op, e.State)
}

// FlushError describes a batch whose flush function failed. It is delivered
// on the error sink; the engine keeps running.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type FlushError struct {
	// Err is the error returned (or panic recovered) from the flush function.
	Err error

	// Engine is the name of the engine that produced the error.
	Engine string

	// BatchID identifies the batch in logs.
	BatchID string

	// Trigger records what caused the flush.
	Trigger FlushTrigger

	// BatchSize is the number of items in the failed batch.
	BatchSize int

	// Attempt is the engine-wide sequence number of the flush attempt,
	// starting at 1.
	Attempt uint64

	// Timestamp records when the flush failed.
	Timestamp time.Time
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("batchz[%s]: flush %d (%s, batch %s, %d items) failed: %v",
		e.Engine, e.Attempt, e.Trigger, e.BatchID, e.BatchSize, e.Err)
}

// Unwrap returns the underlying error, enabling error wrapping chains.
func (e *FlushError) Unwrap() error {
	return e.Err
}
