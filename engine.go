package batchz

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	lifecycleCreated int32 = iota
	lifecycleRunning
	lifecycleStopped
)

func lifecycleName(v int32) string {
	switch v {
	case lifecycleCreated:
		return "created"
	case lifecycleRunning:
		return "running"
	case lifecycleStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Engine accumulates items written to its input sink into batches and hands
// each batch to a flush function. An engine runs once: after it stops, create
// a new one.
//
// Cancellation (Cancel, or canceling the context given to Run or Start)
// discards the pending batch and anything still queued; those items are
// counted in MetricsSnapshot.ItemsDropped. Use Stop for a graceful shutdown
// that flushes everything.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type Engine[T any] struct {
	config  Config
	name    string
	logger  zerolog.Logger
	metrics Metrics
	input   *InputSink[T]
	errs    errorSink
	acc     *accumulator[T]

	state     atomic.Int32
	lifecycle atomic.Int32

	exited chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	err       error
	canceled  bool
	cancelRun context.CancelFunc
}

// New creates an engine with the given strategy. The configuration is
// validated and copied; an invalid configuration yields a *ConfigurationError.
func New[T any](config Config, strategy Strategy[T], flush FlushFunc[T], opts ...Option) (*Engine[T], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, &ConfigurationError{Field: "Strategy", Err: errors.New("strategy is required")}
	}
	if flush == nil {
		return nil, &ConfigurationError{Field: "FlushFunc", Err: errors.New("flush function is required")}
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With().
		Str("component", "batchz").
		Str("engine", o.name).
		Str("strategy", strategy.Name()).
		Logger()

	for _, w := range config.Warnings() {
		logger.Warn().Str("config", config.String()).Msg(w)
	}

	e := &Engine[T]{
		config: config,
		name:   o.name,
		logger: logger,
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.input = newInputSink[T](config.QueueCapacity, config.WriteMode, e.exited, &e.metrics)
	e.acc = &accumulator[T]{
		strategy: strategy,
		exec: &executor[T]{
			flush:   flush,
			metrics: &e.metrics,
			errs:    &e.errs,
			clock:   o.clock,
			logger:  logger,
			newID:   o.newID,
			name:    o.name,
		},
		metrics:  &e.metrics,
		state:    &e.state,
		clock:    o.clock,
		logger:   logger,
		limit:    int(config.BatchSizeLimit),
		interval: config.FlushInterval,
	}
	return e, nil
}

// NewStandard creates an engine that flushes items in arrival order.
func NewStandard[T any](config Config, flush FlushFunc[T], opts ...Option) (*Engine[T], error) {
	return New[T](config, NewStandardStrategy[T](int(config.BatchSizeLimit)), flush, opts...)
}

// NewDedupe creates an engine that keeps only the latest item per key in each
// batch. Batches hold at most BatchSizeLimit distinct keys; the order of
// items within a flushed batch is not guaranteed.
func NewDedupe[T any, K comparable](config Config, keyFunc func(T) K, flush FlushFunc[T], opts ...Option) (*Engine[T], error) {
	if keyFunc == nil {
		return nil, &ConfigurationError{Field: "KeyFunc", Err: errors.New("key function is required")}
	}
	return New[T](config, NewDedupeStrategy(keyFunc, int(config.BatchSizeLimit)), flush, opts...)
}

// Name returns the engine name.
func (e *Engine[T]) Name() string {
	return e.name
}

// Config returns the engine's copy of its configuration.
func (e *Engine[T]) Config() Config {
	return e.config
}

// Input returns the producer-facing sink.
func (e *Engine[T]) Input() *InputSink[T] {
	return e.input
}

// Errors opens the error sink with the given buffer size and returns it.
// Later calls return the same channel and ignore size. The channel is closed
// when the engine stops.
//
// The caller must drain the channel for the lifetime of the engine: a full
// error sink blocks the accumulator. If Errors is never called, flush
// failures are logged instead.
func (e *Engine[T]) Errors(size int) <-chan error {
	return e.errs.open(size)
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine[T]) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// State returns the accumulator state.
func (e *Engine[T]) State() State {
	return State(e.state.Load())
}

// Done is closed once the engine has fully stopped.
func (e *Engine[T]) Done() <-chan struct{} {
	return e.done
}

// Err returns the terminal error after Done is closed: nil for a graceful
// shutdown, the cancellation cause otherwise.
func (e *Engine[T]) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Run executes the accumulator on the calling goroutine. It blocks until the
// input sink is closed and the final flush completes (returning nil), or
// until ctx is canceled or Cancel is called (returning the cancellation
// error).
func (e *Engine[T]) Run(ctx context.Context) error {
	runCtx, err := e.begin(ctx, "run")
	if err != nil {
		return err
	}
	return e.loop(runCtx)
}

// Start runs the accumulator on a background goroutine and returns a handle
// to await or cancel it.
func (e *Engine[T]) Start(ctx context.Context) (*Handle, error) {
	runCtx, err := e.begin(ctx, "start")
	if err != nil {
		return nil, err
	}

	h := newHandle(e.done, e.Cancel)
	h.group.Go(func() error {
		return e.loop(runCtx)
	})
	return h, nil
}

// Stop closes the input sink and waits for the final flush. It returns the
// engine's terminal error, or ctx.Err() if ctx ends first. Stopping an engine
// that was never started is a *LifecycleError; stopping a stopped engine is a
// no-op.
func (e *Engine[T]) Stop(ctx context.Context) error {
	if v := e.lifecycle.Load(); v == lifecycleCreated {
		return &LifecycleError{Op: "stop", State: lifecycleName(v)}
	}

	_ = e.input.Close()

	select {
	case <-e.done:
		return e.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the engine. The accumulator stops accepting items at once,
// finishes a flush already in progress, discards the pending batch and
// exits. Cancel before start makes the next Run or Start return immediately.
func (e *Engine[T]) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.canceled = true
	if e.cancelRun != nil {
		e.cancelRun()
	}
}

func (e *Engine[T]) begin(ctx context.Context, op string) (context.Context, error) {
	if !e.lifecycle.CompareAndSwap(lifecycleCreated, lifecycleRunning) {
		return nil, &LifecycleError{Op: op, State: lifecycleName(e.lifecycle.Load())}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelRun = cancel
	if e.canceled {
		cancel()
	}
	e.mu.Unlock()

	e.logger.Info().Str("mode", op).Str("config", e.config.String()).Msg("engine started")
	return runCtx, nil
}

func (e *Engine[T]) loop(ctx context.Context) error {
	err := e.acc.run(ctx, e.input.queue)
	e.finish(err)
	return err
}

func (e *Engine[T]) finish(err error) {
	e.state.Store(int32(StateStopped))
	close(e.exited)

	if leftover := e.input.discard(); leftover > 0 {
		e.metrics.recordDropped(leftover)
		e.logger.Warn().Int("discarded", leftover).Msg("queued items discarded on cancellation")
	}
	e.errs.close()

	e.mu.Lock()
	e.err = err
	e.cancelRun()
	e.mu.Unlock()

	e.lifecycle.Store(lifecycleStopped)

	snap := e.metrics.Snapshot()
	event := e.logger.Info()
	if err != nil {
		event = e.logger.Warn().Err(err)
	}
	event.
		Uint64("batches_flushed", snap.BatchesFlushed).
		Uint64("items_accepted", snap.ItemsAccepted).
		Uint64("items_dropped", snap.ItemsDropped).
		Uint64("flush_errors", snap.FlushErrors).
		Msg("engine stopped")

	close(e.done)
}
