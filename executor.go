package batchz

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// executor runs the flush function for one batch at a time. The accumulator
// hands each outcome back through report, which routes it to metrics, the log
// and the error sink. It is only used from the accumulator goroutine.
type executor[T any] struct {
	flush    FlushFunc[T]
	metrics  *Metrics
	errs     *errorSink
	clock    Clock
	logger   zerolog.Logger
	newID    func() string
	name     string
	attempts uint64
}

// execute calls the flush function synchronously. The batch is gone after
// this returns whatever the outcome; there is no retry. A failure is carried
// in the outcome as a *FlushError.
func (x *executor[T]) execute(ctx context.Context, items []T, trigger FlushTrigger) FlushOutcome[T] {
	x.attempts++
	outcome := FlushOutcome[T]{
		Items:   items,
		Trigger: trigger,
		BatchID: x.newID(),
		Attempt: x.attempts,
	}

	start := x.clock.Now()
	err := x.call(ctx, items)
	outcome.finished = x.clock.Now()
	outcome.Duration = outcome.finished.Sub(start)

	if err != nil {
		outcome.Err = &FlushError{
			Err:       err,
			Engine:    x.name,
			BatchID:   outcome.BatchID,
			Trigger:   trigger,
			BatchSize: len(items),
			Attempt:   outcome.Attempt,
			Timestamp: outcome.finished,
		}
	}
	return outcome
}

// report records the outcome and, for a failure, publishes it on the error
// sink. A full sink blocks until a reader catches up or ctx is canceled.
// Without an open sink the failure is logged.
func (x *executor[T]) report(ctx context.Context, outcome FlushOutcome[T]) {
	x.metrics.recordOutcome(outcome.Size(), outcome.IsError(), outcome.finished)

	if outcome.IsSuccess() {
		x.logger.Debug().
			Str("batch_id", outcome.BatchID).
			Uint64("attempt", outcome.Attempt).
			Str("trigger", string(outcome.Trigger)).
			Int("size", outcome.Size()).
			Dur("duration", outcome.Duration).
			Msg("batch flushed")
		return
	}

	ch := x.errs.get()
	if ch == nil {
		x.logFailure(outcome, "batch flush failed")
		return
	}

	select {
	case ch <- outcome.Err:
	case <-ctx.Done():
		x.logFailure(outcome, "batch flush failed; error sink not drained before cancellation")
	}
}

func (x *executor[T]) call(ctx context.Context, items []T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrFlushPanic, "%v", r)
		}
	}()
	return x.flush(ctx, items)
}

func (x *executor[T]) logFailure(outcome FlushOutcome[T], msg string) {
	cause := outcome.Err
	var flushErr *FlushError
	if errors.As(cause, &flushErr) {
		cause = flushErr.Err
	}
	x.logger.Error().
		Err(cause).
		Str("batch_id", outcome.BatchID).
		Uint64("attempt", outcome.Attempt).
		Str("trigger", string(outcome.Trigger)).
		Int("size", outcome.Size()).
		Dur("duration", outcome.Duration).
		Msg(msg)
}
