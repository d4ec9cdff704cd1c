// Package batchz provides a generic, in-process batch accumulation engine.
//
// Producers write items through a bounded input sink. A single accumulator
// goroutine groups them into batches and hands each batch to a user supplied
// flush function, either when the batch reaches its size limit or when the
// flush interval expires, whichever comes first. Flush failures are delivered
// asynchronously on an error sink and never stop the engine.
//
// Two grouping strategies are provided:
//   - Standard keeps every item in arrival order
//   - Dedupe keeps only the most recent item per key (last write wins)
//
// Basic usage:
//
//	engine, err := batchz.NewStandard[Event](
//		batchz.NewConfig().WithBatchSizeLimit(100).WithFlushInterval(time.Second),
//		func(ctx context.Context, batch []Event) error {
//			return db.BulkInsert(ctx, batch)
//		},
//	)
//	if err != nil {
//		return err
//	}
//
//	errs := engine.Errors(16)
//	go func() {
//		for err := range errs {
//			log.Printf("flush failed: %v", err)
//		}
//	}()
//
//	handle, _ := engine.Start(ctx)
//	for _, e := range events {
//		_ = engine.Input().Write(ctx, e)
//	}
//	_ = engine.Stop(ctx)
//	_ = handle.Wait()
package batchz

import (
	"context"
)

// FlushFunc processes one completed batch. It is called from the accumulator
// goroutine, one batch at a time. The batch slice is owned by the callee.
//
// A returned error is reported on the engine's error sink; the batch is not
// retried.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// Strategy is the container logic that decides how items accumulate into a
// pending batch. Implementations are used from a single goroutine and need no
// locking.
type Strategy[T any] interface {
	// Add places an item into the pending batch.
	Add(item T)

	// Len returns the number of items the batch would deliver if drained now.
	Len() int

	// IsFull reports whether the pending batch has reached limit.
	IsFull(limit int) bool

	// IsEmpty reports whether the pending batch holds nothing.
	IsEmpty() bool

	// Drain returns the pending items and resets the batch to empty.
	Drain() []T

	// Name returns a descriptive name for the strategy, useful for logging.
	Name() string
}

// State is the accumulator's position in its state machine.
type State int32

const (
	// StateIdle means no items are pending.
	StateIdle State = iota
	// StateAccumulating means at least one item is pending.
	StateAccumulating
	// StateFlushing means a batch has been handed to the flush function.
	StateFlushing
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FlushTrigger records what caused a flush.
type FlushTrigger string

const (
	// TriggerSize is a flush caused by the batch reaching its size limit.
	TriggerSize FlushTrigger = "size"
	// TriggerInterval is a flush caused by the flush timer.
	TriggerInterval FlushTrigger = "interval"
	// TriggerClose is the final flush after the input sink closed.
	TriggerClose FlushTrigger = "close"
)
