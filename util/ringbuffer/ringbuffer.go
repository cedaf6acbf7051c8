// Package ringbuffer provides a bounded buffer that evicts its oldest entries in batches.
package ringbuffer

// Buffer holds at most Cap items. When full, a push first drops the oldest margin items in one
// move so the backing array is reused and eviction cost is amortized. Buffer is not safe for
// concurrent use.
type Buffer[T any] struct {
	items    []T
	capacity int
	margin   int
}

// New creates a buffer. margin is clamped to [1, capacity].
func New[T any](capacity, margin int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}

	if margin < 1 {
		margin = 1
	}

	if margin > capacity {
		margin = capacity
	}

	return &Buffer[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		margin:   margin,
	}
}

// Push appends v and returns the number of items evicted to make room.
func (b *Buffer[T]) Push(v T) int {
	evicted := 0

	if len(b.items) >= b.capacity {
		evicted = b.margin
		n := copy(b.items, b.items[b.margin:])

		clear(b.items[n:])
		b.items = b.items[:n]
	}

	b.items = append(b.items, v)

	return evicted
}

func (b *Buffer[T]) Len() int {
	return len(b.items)
}

func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Items returns a copy of the buffered items, oldest first.
func (b *Buffer[T]) Items() []T {
	return append([]T(nil), b.items...)
}

// Tail returns a copy of the newest n items, oldest first.
func (b *Buffer[T]) Tail(n int) []T {
	n = max(0, min(n, len(b.items)))

	return append([]T(nil), b.items[len(b.items)-n:]...)
}

func (b *Buffer[T]) Last() (T, bool) {
	if len(b.items) == 0 {
		var zero T
		return zero, false
	}

	return b.items[len(b.items)-1], true
}

func (b *Buffer[T]) Reset() {
	clear(b.items)
	b.items = b.items[:0]
}
