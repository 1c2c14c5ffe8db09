// Package ringbuf provides a bounded ring that keeps the most recent values
// pushed into it. When full, a push overwrites the oldest value.
//
// A Ring is not safe for concurrent use; callers own it under their own lock
// (the per-symbol state mutex in live mode).
package ringbuf

// Ring is a fixed-capacity overwrite ring.
// Capacity is rounded up to a power of two for bitwise modulo, but Len never
// exceeds the requested limit.
type Ring[T any] struct {
	buf   []T
	mask  uint64
	limit uint64
	head  uint64 // next write position
	tail  uint64 // oldest retained value

	evicted uint64
}

// New creates a ring retaining at most limit values. Minimum limit is 1.
func New[T any](limit int) *Ring[T] {
	if limit < 1 {
		limit = 1
	}
	size := nextPow2(limit)
	return &Ring[T]{
		buf:   make([]T, size),
		mask:  uint64(size - 1),
		limit: uint64(limit),
	}
}

// Push appends v, evicting the oldest value if the ring is at its limit.
func (r *Ring[T]) Push(v T) {
	if r.head-r.tail >= r.limit {
		var zero T
		r.buf[r.tail&r.mask] = zero
		r.tail++
		r.evicted++
	}
	r.buf[r.head&r.mask] = v
	r.head++
}

// Last returns the most recent value.
func (r *Ring[T]) Last() (T, bool) {
	if r.head == r.tail {
		var zero T
		return zero, false
	}
	return r.buf[(r.head-1)&r.mask], true
}

// Values returns a copy of the retained values, oldest first.
func (r *Ring[T]) Values() []T {
	out := make([]T, 0, r.head-r.tail)
	for i := r.tail; i < r.head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// Since returns a copy of the trailing values for which keep reports true,
// oldest first. Scanning stops at the first value (from newest backwards)
// that keep rejects, so values must be ordered by the kept key.
func (r *Ring[T]) Since(keep func(T) bool) []T {
	start := r.head
	for start > r.tail && keep(r.buf[(start-1)&r.mask]) {
		start--
	}
	out := make([]T, 0, r.head-start)
	for i := start; i < r.head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// Len returns the number of retained values.
func (r *Ring[T]) Len() int { return int(r.head - r.tail) }

// Cap returns the retention limit.
func (r *Ring[T]) Cap() int { return int(r.limit) }

// Evicted returns how many values were overwritten since creation.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// Reset drops every retained value.
func (r *Ring[T]) Reset() {
	clear(r.buf)
	r.head, r.tail = 0, 0
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
