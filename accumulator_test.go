package batchz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
)

// batchLog records flushed batches for accumulator tests.
type batchLog[T any] struct {
	mu      sync.Mutex
	batches [][]T
	flushed chan []T
}

func newBatchLog[T any]() *batchLog[T] {
	return &batchLog[T]{flushed: make(chan []T, 100)}
}

func (l *batchLog[T]) flush(_ context.Context, batch []T) error {
	l.mu.Lock()
	l.batches = append(l.batches, batch)
	l.mu.Unlock()
	l.flushed <- batch
	return nil
}

func (l *batchLog[T]) snapshot() [][]T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]T, len(l.batches))
	copy(out, l.batches)
	return out
}

func newTestAccumulator[T any](strategy Strategy[T], limit int, interval time.Duration, clock Clock, flush FlushFunc[T]) *accumulator[T] {
	metrics := &Metrics{}
	return &accumulator[T]{
		strategy: strategy,
		exec: &executor[T]{
			flush:   flush,
			metrics: metrics,
			errs:    &errorSink{},
			clock:   clock,
			logger:  zerolog.Nop(),
			newID:   func() string { return "id" },
			name:    "test",
		},
		metrics:  metrics,
		state:    &atomic.Int32{},
		clock:    clock,
		logger:   zerolog.Nop(),
		limit:    limit,
		interval: interval,
	}
}

// advanceUntilFlush advances the fake clock one interval at a time until a
// batch arrives. The loop may arm its timer slightly after the test has
// handed over an item, so a single Advance can land before the timer exists.
func advanceUntilFlush[T any](t *testing.T, clock *clockz.FakeClock, interval time.Duration, flushed <-chan []T) []T {
	t.Helper()

	for i := 0; i < 100; i++ {
		clock.Advance(interval)
		clock.BlockUntilReady()
		select {
		case batch := <-flushed:
			return batch
		case <-time.After(5 * time.Millisecond):
		}
	}
	t.Fatal("timed out waiting for time-triggered flush")
	return nil
}

func TestAccumulator_SingleItem_SizeOnly(t *testing.T) {
	clock := clockz.NewFakeClock()
	log := newBatchLog[int]()
	acc := newTestAccumulator[int](NewStandardStrategy[int](1), 1, time.Hour, clock, log.flush)

	in := make(chan int, 1)
	in <- 42
	close(in)

	if err := acc.run(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batches := log.snapshot()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if len(batches[0]) != 1 || batches[0][0] != 42 {
		t.Errorf("expected [42], got %v", batches[0])
	}
}

func TestAccumulator_SingleItem_FlushOnClose(t *testing.T) {
	clock := clockz.NewFakeClock()
	log := newBatchLog[int]()
	acc := newTestAccumulator[int](NewStandardStrategy[int](10), 10, 100*time.Millisecond, clock, log.flush)

	in := make(chan int, 1)
	in <- 42
	close(in)

	if err := acc.run(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batches := log.snapshot()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch on close, got %d", len(batches))
	}
	if batches[0][0] != 42 {
		t.Errorf("expected batch[0] = 42, got %d", batches[0][0])
	}
}

func TestAccumulator_MultipleItems_SizeLimit(t *testing.T) {
	clock := clockz.NewFakeClock()
	log := newBatchLog[int]()
	acc := newTestAccumulator[int](NewStandardStrategy[int](3), 3, 100*time.Millisecond, clock, log.flush)

	in := make(chan int, 5)
	for _, v := range []int{1, 2, 3, 4, 5} {
		in <- v
	}
	close(in)

	if err := acc.run(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batches := log.snapshot()
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d: %v", len(batches), batches)
	}

	expected := [][]int{{1, 2, 3}, {4, 5}}
	for b, want := range expected {
		if len(batches[b]) != len(want) {
			t.Errorf("batch %d: expected %v, got %v", b, want, batches[b])
			continue
		}
		for i := range want {
			if batches[b][i] != want[i] {
				t.Errorf("expected batch%d[%d] = %d, got %d", b, i, want[i], batches[b][i])
			}
		}
	}
}

func TestAccumulator_CloseWithEmptyBatch(t *testing.T) {
	clock := clockz.NewFakeClock()
	log := newBatchLog[int]()
	acc := newTestAccumulator[int](NewStandardStrategy[int](2), 2, 100*time.Millisecond, clock, log.flush)

	in := make(chan int, 2)
	in <- 1
	in <- 2
	close(in)

	if err := acc.run(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := len(log.snapshot()); n != 1 {
		t.Errorf("expected exactly the size-triggered flush, got %d batches", n)
	}
}

func TestAccumulator_TimeBasedBatching(t *testing.T) {
	clock := clockz.NewFakeClock()
	log := newBatchLog[int]()
	interval := 100 * time.Millisecond
	acc := newTestAccumulator[int](NewStandardStrategy[int](10), 10, interval, clock, log.flush)

	in := make(chan int)
	done := make(chan error, 1)
	go func() { done <- acc.run(context.Background(), in) }()

	in <- 1
	in <- 2

	select {
	case batch := <-log.flushed:
		t.Fatalf("unexpected immediate batch: %v", batch)
	default:
	}

	batch := advanceUntilFlush(t, clock, interval, log.flushed)
	if len(batch) != 2 || batch[0] != 1 || batch[1] != 2 {
		t.Errorf("expected batch [1, 2], got %v", batch)
	}

	close(in)
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n := len(log.snapshot()); n != 1 {
		t.Errorf("close after a timer flush should not flush again, got %d batches", n)
	}
}

func TestAccumulator_TimerDoesNotFlushEmptyBatch(t *testing.T) {
	clock := clockz.NewFakeClock()
	log := newBatchLog[int]()
	interval := 50 * time.Millisecond
	acc := newTestAccumulator[int](NewStandardStrategy[int](10), 10, interval, clock, log.flush)

	in := make(chan int)
	done := make(chan error, 1)
	go func() { done <- acc.run(context.Background(), in) }()

	for i := 0; i < 5; i++ {
		clock.Advance(interval)
		clock.BlockUntilReady()
	}
	time.Sleep(10 * time.Millisecond)

	if n := len(log.snapshot()); n != 0 {
		t.Errorf("expected no flushes of an empty batch, got %d", n)
	}

	close(in)
	<-done
}

func TestAccumulator_SizeFlushResetsTimer(t *testing.T) {
	clock := clockz.NewFakeClock()
	log := newBatchLog[int]()
	interval := 100 * time.Millisecond
	acc := newTestAccumulator[int](NewStandardStrategy[int](2), 2, interval, clock, log.flush)

	in := make(chan int)
	done := make(chan error, 1)
	go func() { done <- acc.run(context.Background(), in) }()

	in <- 1
	in <- 2
	first := <-log.flushed
	if len(first) != 2 {
		t.Fatalf("expected size flush of 2, got %v", first)
	}

	// The stopped timer must not fire for the now empty batch.
	clock.Advance(interval)
	clock.BlockUntilReady()
	time.Sleep(10 * time.Millisecond)
	if n := len(log.snapshot()); n != 1 {
		t.Errorf("expected no extra flush after size flush, got %d batches", n)
	}

	in <- 3
	batch := advanceUntilFlush(t, clock, interval, log.flushed)
	if len(batch) != 1 || batch[0] != 3 {
		t.Errorf("expected [3], got %v", batch)
	}

	close(in)
	<-done
}

func TestAccumulator_DedupeByKey(t *testing.T) {
	clock := clockz.NewFakeClock()
	log := newBatchLog[int]()
	strategy := NewDedupeStrategy(func(n int) int { return n % 3 }, 10)
	acc := newTestAccumulator[int](strategy, 10, time.Hour, clock, log.flush)

	in := make(chan int, 4)
	for _, v := range []int{1, 4, 2, 7} {
		in <- v
	}
	close(in)

	if err := acc.run(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batches := log.snapshot()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	got := map[int]bool{}
	for _, v := range batches[0] {
		got[v] = true
	}
	if len(batches[0]) != 2 || !got[7] || !got[2] {
		t.Errorf("expected {7, 2}, got %v", batches[0])
	}
}

func TestAccumulator_CancelDiscardsPending(t *testing.T) {
	clock := clockz.NewFakeClock()
	log := newBatchLog[int]()
	acc := newTestAccumulator[int](NewStandardStrategy[int](10), 10, time.Hour, clock, log.flush)

	in := make(chan int)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- acc.run(ctx, in) }()

	in <- 1
	in <- 2
	in <- 3
	cancel()

	err := <-done
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if n := len(log.snapshot()); n != 0 {
		t.Errorf("expected pending batch to be discarded, got %d flushes", n)
	}
	if dropped := acc.metrics.Snapshot().ItemsDropped; dropped != 3 {
		t.Errorf("expected 3 dropped items, got %d", dropped)
	}
}

func TestAccumulator_StateTransitions(t *testing.T) {
	clock := clockz.NewFakeClock()
	release := make(chan struct{})
	entered := make(chan struct{})
	acc := newTestAccumulator[int](NewStandardStrategy[int](2), 2, time.Hour, clock, func(context.Context, []int) error {
		close(entered)
		<-release
		return nil
	})

	in := make(chan int)
	done := make(chan error, 1)
	go func() { done <- acc.run(context.Background(), in) }()

	if got := State(acc.state.Load()); got != StateIdle {
		t.Errorf("expected idle, got %s", got)
	}

	in <- 1
	in <- 2
	<-entered
	if got := State(acc.state.Load()); got != StateFlushing {
		t.Errorf("expected flushing during flush, got %s", got)
	}
	close(release)

	close(in)
	<-done
	if got := State(acc.state.Load()); got != StateIdle {
		t.Errorf("expected idle after flush, got %s", got)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:         "idle",
		StateAccumulating: "accumulating",
		StateFlushing:     "flushing",
		StateStopped:      "stopped",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestAccumulator_ReportsOutcome(t *testing.T) {
	clock := clockz.NewFakeClock()
	acc := newTestAccumulator[int](NewStandardStrategy[int](2), 2, time.Hour, clock, func(_ context.Context, batch []int) error {
		if batch[0] == 3 {
			return errors.New("rejected by downstream")
		}
		return nil
	})
	errs := acc.exec.errs.open(1)

	in := make(chan int, 4)
	for _, v := range []int{1, 2, 3, 4} {
		in <- v
	}
	close(in)

	if err := acc.run(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := acc.metrics.Snapshot()
	if snap.BatchesFlushed != 1 || snap.ItemsAccepted != 2 {
		t.Errorf("expected one accepted batch of 2, got %+v", snap)
	}
	if snap.FlushErrors != 1 || snap.ItemsFailed != 2 {
		t.Errorf("expected one failed batch of 2, got %+v", snap)
	}

	var flushErr *FlushError
	select {
	case err := <-errs:
		if !errors.As(err, &flushErr) || flushErr.BatchSize != 2 || flushErr.Attempt != 2 {
			t.Errorf("unexpected published error %v", err)
		}
	default:
		t.Fatal("expected the failed outcome on the error sink")
	}
}

func TestAccumulator_FlushingUntilOutcomeReported(t *testing.T) {
	clock := clockz.NewFakeClock()
	acc := newTestAccumulator[int](NewStandardStrategy[int](1), 1, time.Hour, clock, func(context.Context, []int) error {
		return errors.New("fail")
	})
	errs := acc.exec.errs.open(0)

	in := make(chan int, 1)
	in <- 1
	close(in)

	done := make(chan error, 1)
	go func() { done <- acc.run(context.Background(), in) }()

	// The undrained sink holds the accumulator inside report.
	time.Sleep(20 * time.Millisecond)
	if got := State(acc.state.Load()); got != StateFlushing {
		t.Errorf("expected flushing while the outcome is pending, got %s", got)
	}

	<-errs
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got := State(acc.state.Load()); got != StateIdle {
		t.Errorf("expected idle after report, got %s", got)
	}
}
