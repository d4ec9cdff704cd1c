package batchz

// Dedupe keeps at most one item per key in the pending batch. A later item
// with the same key replaces the earlier one (last write wins). The batch size
// is the number of distinct keys.
//
// Drain makes no ordering promise. The current implementation returns items
// in the order their keys were first seen within the batch, but callers must
// not rely on it.
type Dedupe[T any, K comparable] struct {
	keyFunc func(T) K
	items   map[K]T
	order   []K
	name    string
}

// NewDedupeStrategy creates a deduplicating strategy.
// The keyFunc extracts a comparable key from each item.
//
// When to use:
//   - Collapse bursts of updates to the same entity into one write
//   - Keep only the latest reading per sensor between flushes
//   - Coalesce cache invalidations by key
//
// Example:
//
//	// Keep the newest position per vehicle
//	strategy := batchz.NewDedupeStrategy(func(p Position) string {
//		return p.VehicleID
//	}, 100)
func NewDedupeStrategy[T any, K comparable](keyFunc func(T) K, capacity int) *Dedupe[T, K] {
	if capacity < 0 {
		capacity = 0
	}
	return &Dedupe[T, K]{
		keyFunc: keyFunc,
		items:   make(map[K]T, capacity),
		order:   make([]K, 0, capacity),
		name:    "dedupe",
	}
}

// Add stores item under its key, overwriting any previous item for that key.
func (d *Dedupe[T, K]) Add(item T) {
	key := d.keyFunc(item)
	if _, exists := d.items[key]; !exists {
		d.order = append(d.order, key)
	}
	d.items[key] = item
}

// Len returns the number of distinct keys pending.
func (d *Dedupe[T, K]) Len() int {
	return len(d.items)
}

// IsFull reports whether at least limit distinct keys are pending.
func (d *Dedupe[T, K]) IsFull(limit int) bool {
	return len(d.items) >= limit
}

// IsEmpty reports whether no keys are pending.
func (d *Dedupe[T, K]) IsEmpty() bool {
	return len(d.items) == 0
}

// Drain returns one item per key and resets the batch.
func (d *Dedupe[T, K]) Drain() []T {
	batch := make([]T, 0, len(d.order))
	for _, key := range d.order {
		batch = append(batch, d.items[key])
	}

	capacity := cap(d.order)
	d.items = make(map[K]T, capacity)
	d.order = make([]K, 0, capacity)
	return batch
}

func (d *Dedupe[T, K]) Name() string {
	return d.name
}
