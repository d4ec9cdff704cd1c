// Package testing provides test utilities for batchz.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	batchz "github.com/zoobzio/batchz"
)

// Recorder is a flush function that keeps a copy of every batch it receives.
// It can be made to fail through FailWith.
type Recorder[T any] struct {
	mu      sync.Mutex
	batches [][]T
	fail    func(batch []T) error
	signal  chan struct{}
}

// NewRecorder creates an empty Recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{signal: make(chan struct{}, 1024)}
}

// FailWith makes the recorder return fn(batch) for every subsequent flush.
// Failed batches are still recorded.
func (r *Recorder[T]) FailWith(fn func(batch []T) error) *Recorder[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fn
	return r
}

// Flush implements batchz.FlushFunc.
func (r *Recorder[T]) Flush(_ context.Context, batch []T) error {
	copied := make([]T, len(batch))
	copy(copied, batch)

	r.mu.Lock()
	r.batches = append(r.batches, copied)
	fail := r.fail
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}

	if fail != nil {
		return fail(copied)
	}
	return nil
}

// Func returns the recorder as a batchz.FlushFunc.
func (r *Recorder[T]) Func() batchz.FlushFunc[T] {
	return r.Flush
}

// Batches returns a copy of the batches received so far, in call order.
func (r *Recorder[T]) Batches() [][]T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]T, len(r.batches))
	copy(out, r.batches)
	return out
}

// Items returns all received items concatenated in call order.
func (r *Recorder[T]) Items() []T {
	return Flatten(r.Batches())
}

// Count returns the number of flushes received.
func (r *Recorder[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// WaitForBatches waits until at least n batches were received or the timeout
// expires, and returns the batches seen.
func (r *Recorder[T]) WaitForBatches(t *testing.T, n int, timeout time.Duration) [][]T {
	t.Helper()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for r.Count() < n {
		select {
		case <-r.signal:
		case <-timer.C:
			t.Errorf("timed out waiting for %d batches, got %d", n, r.Count())
			return r.Batches()
		}
	}
	return r.Batches()
}

// Flatten concatenates batches in order.
func Flatten[T any](batches [][]T) []T {
	var out []T
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

// Sequence returns the integers [0, n).
func Sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// WriteAll writes every value to the sink and fails the test on the first
// error.
func WriteAll[T any](t *testing.T, sink *batchz.InputSink[T], values []T) {
	t.Helper()

	ctx := context.Background()
	for _, v := range values {
		if err := sink.Write(ctx, v); err != nil {
			t.Fatalf("write %v: %v", v, err)
		}
	}
}

// CollectErrorsWithTimeout drains an error sink until it closes or the
// timeout expires.
func CollectErrorsWithTimeout(t *testing.T, ch <-chan error, timeout time.Duration) []error {
	t.Helper()

	var errs []error
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case err, ok := <-ch:
			if !ok {
				return errs
			}
			errs = append(errs, err)
		case <-timer.C:
			return errs
		}
	}
}

// AssertBatchSizes verifies the size of every batch.
func AssertBatchSizes[T any](t *testing.T, batches [][]T, expected ...int) {
	t.Helper()

	if len(batches) != len(expected) {
		t.Errorf("expected %d batches, got %d: %v", len(expected), len(batches), batches)
		return
	}
	for i, want := range expected {
		if len(batches[i]) != want {
			t.Errorf("batch %d: expected size %d, got %d", i, want, len(batches[i]))
		}
	}
}

// AssertExactlyOnce verifies that got holds every element of want exactly
// once, in any order.
func AssertExactlyOnce[T comparable](t *testing.T, got, want []T) {
	t.Helper()

	counts := make(map[T]int, len(want))
	for _, v := range got {
		counts[v]++
	}
	if len(got) != len(want) {
		t.Errorf("expected %d items, got %d", len(want), len(got))
	}
	for _, v := range want {
		if counts[v] != 1 {
			t.Errorf("item %v seen %d times, expected once", v, counts[v])
		}
	}
}
