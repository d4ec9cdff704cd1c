package batchz

// Standard accumulates items in arrival order. Drain returns them unchanged.
type Standard[T any] struct {
	items    []T
	capacity int
}

// NewStandardStrategy creates an order-preserving strategy. capacity is a
// preallocation hint, typically the batch size limit.
func NewStandardStrategy[T any](capacity int) *Standard[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Standard[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Add appends item to the tail of the batch.
func (s *Standard[T]) Add(item T) {
	s.items = append(s.items, item)
}

// Len returns the number of pending items.
func (s *Standard[T]) Len() int {
	return len(s.items)
}

// IsFull reports whether at least limit items are pending.
func (s *Standard[T]) IsFull(limit int) bool {
	return len(s.items) >= limit
}

// IsEmpty reports whether no items are pending.
func (s *Standard[T]) IsEmpty() bool {
	return len(s.items) == 0
}

// Drain hands over the pending slice and starts a fresh one, so the caller
// may keep the returned slice.
func (s *Standard[T]) Drain() []T {
	batch := s.items
	s.items = make([]T, 0, s.capacity)
	return batch
}

func (*Standard[T]) Name() string {
	return "standard"
}
