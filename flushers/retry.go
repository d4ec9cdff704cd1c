package flushers

import (
	"context"
	crand "crypto/rand"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"

	batchz "github.com/zoobzio/batchz"
)

// Retrier wraps a flush function and retries failed flushes with exponential
// backoff. The engine itself never retries; wrap the flush function when the
// destination has transient failures.
//
// Example:
//
//	flush := flushers.NewRetry(flushers.Kafka(producer, "events", enc), batchz.RealClock).
//		MaxAttempts(5).
//		BaseDelay(200 * time.Millisecond).
//		Func()
//
// Each batch is retried as a whole. Delays are capped by MaxDelay and, with
// jitter on, randomized between 50% and 100% of the computed value.
type Retrier[T any] struct { //nolint:govet // logical field grouping preferred over memory optimization
	flush       batchz.FlushFunc[T]
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	withJitter  bool
	retryable   func(err error, attempt int) bool
	clock       batchz.Clock
}

// NewRetry creates a Retrier with 3 attempts, a 100ms base delay, a 30s cap,
// jitter on, and IsRetryable as the error classifier.
func NewRetry[T any](flush batchz.FlushFunc[T], clock batchz.Clock) *Retrier[T] {
	return &Retrier[T]{
		flush:       flush,
		clock:       clock,
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    30 * time.Second,
		withJitter:  true,
		retryable:   func(err error, _ int) bool { return IsRetryable(err) },
	}
}

// MaxAttempts sets the total number of tries, including the first.
func (r *Retrier[T]) MaxAttempts(attempts int) *Retrier[T] {
	if attempts < 1 {
		attempts = 1
	}
	r.maxAttempts = attempts
	return r
}

// BaseDelay sets the delay before the first retry; it doubles afterwards.
func (r *Retrier[T]) BaseDelay(delay time.Duration) *Retrier[T] {
	if delay < 0 {
		delay = 0
	}
	r.baseDelay = delay
	return r
}

// MaxDelay caps the backoff.
func (r *Retrier[T]) MaxDelay(delay time.Duration) *Retrier[T] {
	if delay < 0 {
		delay = 0
	}
	r.maxDelay = delay
	return r
}

// WithJitter enables or disables delay randomization.
func (r *Retrier[T]) WithJitter(enabled bool) *Retrier[T] {
	r.withJitter = enabled
	return r
}

// OnError replaces the error classifier. It receives the error and the
// 1-based attempt that produced it and reports whether to try again.
func (r *Retrier[T]) OnError(fn func(err error, attempt int) bool) *Retrier[T] {
	if fn != nil {
		r.retryable = fn
	}
	return r
}

// Func returns the retrying flush function.
func (r *Retrier[T]) Func() batchz.FlushFunc[T] {
	return r.Flush
}

// Flush calls the wrapped flush function until it succeeds, the classifier
// declines, attempts run out, or ctx ends. The last flush error is returned,
// annotated with the number of attempts. If ctx ends during a backoff the
// returned error wraps ctx.Err() and names the last flush error.
func (r *Retrier[T]) Flush(ctx context.Context, batch []T) error {
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-r.clock.After(r.calculateDelay(attempt - 1)):
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "retry abandoned after %d attempts, last error: %v", attempt-1, lastErr)
			}
		}

		lastErr = r.flush(ctx, batch)
		if lastErr == nil {
			return nil
		}
		if !r.retryable(lastErr, attempt) {
			return errors.Wrapf(lastErr, "not retryable after %d attempts", attempt)
		}
	}

	return errors.Wrapf(lastErr, "gave up after %d attempts", r.maxAttempts)
}

// calculateDelay returns baseDelay * 2^(retry-1), capped and optionally
// jittered.
func (r *Retrier[T]) calculateDelay(retry int) time.Duration {
	delay := float64(r.baseDelay) * math.Pow(2, float64(retry-1))
	if delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}

	if r.withJitter {
		n, err := crand.Int(crand.Reader, big.NewInt(500))
		if err != nil {
			n = big.NewInt(250)
		}
		delay *= 0.5 + float64(n.Int64())/1000.0
	}

	return time.Duration(delay)
}

// IsRetryable classifies an error by its message. Cancellation is never
// retryable; common transient network and throttling failures are; known
// permanent failures are not; anything else is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout", "connection refused", "connection reset", "network",
		"temporary", "unavailable", "rate limit", "too many requests",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	for _, pattern := range []string{
		"authentication failed", "unauthorized", "forbidden",
		"not found", "invalid", "malformed",
	} {
		if strings.Contains(msg, pattern) {
			return false
		}
	}
	return true
}
