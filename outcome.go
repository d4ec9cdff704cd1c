package batchz

import "time"

// FlushOutcome is the result of one flush attempt. It is handed to the
// engine's observers and then discarded.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type FlushOutcome[T any] struct {
	// Items is the batch that was passed to the flush function.
	Items []T

	// Err is nil on success, otherwise a *FlushError.
	Err error

	// Trigger records what caused the flush.
	Trigger FlushTrigger

	// BatchID identifies the batch in logs and errors.
	BatchID string

	// Attempt is the engine-wide flush sequence number, starting at 1.
	Attempt uint64

	// Duration is how long the flush function ran.
	Duration time.Duration

	finished time.Time
}

// IsError returns true if the flush failed.
func (o FlushOutcome[T]) IsError() bool {
	return o.Err != nil
}

// IsSuccess returns true if the flush succeeded.
func (o FlushOutcome[T]) IsSuccess() bool {
	return o.Err == nil
}

// Size returns the number of items in the batch.
func (o FlushOutcome[T]) Size() int {
	return len(o.Items)
}
