package batchz

import (
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a point-in-time copy of an engine's counters.
//
//nolint:govet // fieldalignment: struct layout optimized for readability
type MetricsSnapshot struct {
	// ItemsReceived counts items accepted into the input queue.
	ItemsReceived uint64
	// ItemsAccepted counts items delivered in successfully flushed batches.
	ItemsAccepted uint64
	// BatchesFlushed counts successful flushes.
	BatchesFlushed uint64
	// ItemsDropped counts items rejected by a full queue or discarded on
	// cancellation.
	ItemsDropped uint64
	// FlushErrors counts failed flushes.
	FlushErrors uint64
	// ItemsFailed counts items delivered in failed batches.
	ItemsFailed uint64
	// LastFlush is the time of the most recent flush attempt, zero if none.
	LastFlush time.Time
}

// Metrics holds the engine counters. Writers are the input sink, the
// accumulator and the flush executor; readers use Snapshot.
type Metrics struct {
	itemsReceived  atomic.Uint64
	itemsAccepted  atomic.Uint64
	batchesFlushed atomic.Uint64
	itemsDropped   atomic.Uint64
	flushErrors    atomic.Uint64
	itemsFailed    atomic.Uint64
	lastFlush      atomicTime
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ItemsReceived:  m.itemsReceived.Load(),
		ItemsAccepted:  m.itemsAccepted.Load(),
		BatchesFlushed: m.batchesFlushed.Load(),
		ItemsDropped:   m.itemsDropped.Load(),
		FlushErrors:    m.flushErrors.Load(),
		ItemsFailed:    m.itemsFailed.Load(),
		LastFlush:      m.lastFlush.Load(),
	}
}

func (m *Metrics) recordReceived() {
	m.itemsReceived.Add(1)
}

func (m *Metrics) recordDropped(n int) {
	if n > 0 {
		m.itemsDropped.Add(uint64(n))
	}
}

func (m *Metrics) recordOutcome(size int, failed bool, at time.Time) {
	m.lastFlush.Store(at)
	if failed {
		m.flushErrors.Add(1)
		m.itemsFailed.Add(uint64(size))
		return
	}
	m.batchesFlushed.Add(1)
	m.itemsAccepted.Add(uint64(size))
}

// atomicTime stores a time.Time as Unix nanoseconds.
type atomicTime struct {
	nanos atomic.Int64
}

func (at *atomicTime) Store(t time.Time) {
	at.nanos.Store(t.UnixNano())
}

// Load returns the zero time if nothing was stored.
func (at *atomicTime) Load() time.Time {
	nanos := at.nanos.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
