package batchz

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// InputSink is the producer side of an engine. It is safe for concurrent use
// by any number of goroutines. Closing it signals end of input; the engine
// then flushes whatever is pending and stops.
//
// Every producer of one engine sees the same backpressure behavior, selected
// by Config.WriteMode.
type InputSink[T any] struct {
	queue   chan T
	exited  <-chan struct{}
	metrics *Metrics
	mode    WriteMode

	// closing is closed by Close before it takes mu, so writers blocked on
	// a full queue give up and release their read lock.
	closing     chan struct{}
	closingOnce sync.Once

	// mu is held shared by writers for the duration of a send and
	// exclusively by Close, so the queue is never closed under a sender.
	mu          sync.RWMutex
	closed      bool
	queueClosed bool
}

func newInputSink[T any](capacity uint32, mode WriteMode, exited <-chan struct{}, metrics *Metrics) *InputSink[T] {
	return &InputSink[T]{
		queue:   make(chan T, capacity),
		exited:  exited,
		metrics: metrics,
		mode:    mode,
		closing: make(chan struct{}),
	}
}

// Write enqueues item. In block mode it waits for room, for ctx, or for the
// engine to stop. In reject mode a full queue fails immediately with
// ErrQueueFull and the item is counted as dropped.
//
// Write returns ErrSinkClosed after Close, including for a writer that was
// blocked when Close was called, and ErrEngineStopped once the engine has
// exited.
func (s *InputSink[T]) Write(ctx context.Context, item T) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLocked(); err != nil {
		return err
	}
	if s.mode == WriteReject {
		return s.offerLocked(item)
	}

	select {
	case s.queue <- item:
		s.metrics.recordReceived()
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "batchz: write canceled")
	case <-s.closing:
		return ErrSinkClosed
	case <-s.exited:
		return ErrEngineStopped
	}
}

// TryWrite enqueues item without waiting, regardless of the write mode.
func (s *InputSink[T]) TryWrite(item T) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLocked(); err != nil {
		return err
	}
	return s.offerLocked(item)
}

// Close signals end of input. It is idempotent. Writers blocked in Write
// are released with ErrSinkClosed, so Close does not wait on a full queue.
func (s *InputSink[T]) Close() error {
	s.closingOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if !s.queueClosed {
		s.queueClosed = true
		close(s.queue)
	}
	return nil
}

// Len returns the number of items waiting in the queue.
func (s *InputSink[T]) Len() int {
	return len(s.queue)
}

// Cap returns the queue capacity.
func (s *InputSink[T]) Cap() int {
	return cap(s.queue)
}

func (s *InputSink[T]) checkLocked() error {
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case <-s.exited:
		return ErrEngineStopped
	default:
		return nil
	}
}

func (s *InputSink[T]) offerLocked(item T) error {
	select {
	case s.queue <- item:
		s.metrics.recordReceived()
		return nil
	default:
		s.metrics.recordDropped(1)
		return ErrQueueFull
	}
}

// discard closes the sink after the accumulator has exited and returns the
// number of items left in the queue. Callers must close exited first so that
// blocked writers release the lock.
func (s *InputSink[T]) discard() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if !s.queueClosed {
		s.queueClosed = true
		close(s.queue)
	}

	n := 0
	for range s.queue {
		n++
	}
	return n
}

// errorSink holds the engine's error channel. It may be opened at any time
// before the engine stops and is closed by the engine on exit.
type errorSink struct {
	mu     sync.Mutex
	ch     chan error
	closed bool
}

func (s *errorSink) open(size int) <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil {
		return s.ch
	}
	if size < 0 {
		size = 0
	}
	s.ch = make(chan error, size)
	if s.closed {
		close(s.ch)
	}
	return s.ch
}

// get returns the channel to publish on, or nil if none was opened.
func (s *errorSink) get() chan error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.ch
}

func (s *errorSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.ch != nil {
		close(s.ch)
	}
}
