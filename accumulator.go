package batchz

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// accumulator is the single goroutine that owns the pending batch. It reacts
// to arrivals, the size limit, the flush timer, end of input and
// cancellation. Only one flush is ever in flight.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type accumulator[T any] struct {
	strategy Strategy[T]
	exec     *executor[T]
	metrics  *Metrics
	state    *atomic.Int32
	clock    Clock
	logger   zerolog.Logger
	limit    int
	interval time.Duration
}

// run consumes in until it is closed and drained, or until ctx is canceled.
// A clean shutdown returns nil after one final flush of any pending items.
// Cancellation discards the pending batch and returns ctx.Err().
func (a *accumulator[T]) run(ctx context.Context, in <-chan T) error {
	timer := a.clock.NewTimer(a.interval)
	stopTimer(timer)
	defer timer.Stop()

	for {
		// Cancellation wins over items that are already queued.
		if ctx.Err() != nil {
			return a.abort(ctx)
		}

		select {
		case <-ctx.Done():
			return a.abort(ctx)

		case item, ok := <-in:
			if !ok {
				if !a.strategy.IsEmpty() {
					stopTimer(timer)
					a.flush(ctx, TriggerClose)
				}
				return nil
			}

			wasEmpty := a.strategy.IsEmpty()
			a.strategy.Add(item)
			a.setState(StateAccumulating)

			if a.strategy.IsFull(a.limit) {
				stopTimer(timer)
				a.flush(ctx, TriggerSize)
				continue
			}

			if wasEmpty {
				timer.Reset(a.interval)
			}

		case <-timer.C():
			if a.strategy.IsEmpty() {
				continue
			}
			a.flush(ctx, TriggerInterval)
		}
	}
}

func (a *accumulator[T]) flush(ctx context.Context, trigger FlushTrigger) {
	a.setState(StateFlushing)
	outcome := a.exec.execute(ctx, a.strategy.Drain(), trigger)
	a.exec.report(ctx, outcome)
	a.setState(StateIdle)
}

func (a *accumulator[T]) abort(ctx context.Context) error {
	if n := a.strategy.Len(); n > 0 {
		a.strategy.Drain()
		a.metrics.recordDropped(n)
		a.logger.Warn().
			Int("discarded", n).
			Msg("engine canceled with pending batch; items discarded")
	}
	return ctx.Err()
}

func (a *accumulator[T]) setState(s State) {
	a.state.Store(int32(s))
}

// stopTimer stops t and drains a fire that raced with the stop, so a stale
// tick cannot flush the next batch early.
func stopTimer(t Timer) {
	if !t.Stop() {
		select {
		case <-t.C():
		default:
		}
	}
}
