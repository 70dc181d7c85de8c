package events

// Ring is a fixed-capacity FIFO ring buffer. Appending beyond capacity
// overwrites the oldest element silently; overflow is not an error anywhere
// in the runtime.
type Ring[T any] struct {
	buf   []T
	head  int // index of oldest element
	count int
}

// NewRing creates a ring with the given capacity. Capacity must be positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append adds v, evicting the oldest element when full.
func (r *Ring[T]) Append(v T) {
	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = v
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns elements oldest-first as a fresh slice.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Recent returns up to limit elements newest-first.
func (r *Ring[T]) Recent(limit int) []T {
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]T, limit)
	for i := 0; i < limit; i++ {
		// newest element sits at head+count-1
		idx := (r.head + r.count - 1 - i) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}
