package ring

import "sync/atomic"

// Ring is a lock-free SPSC ring buffer: one producer at a time, one
// consumer. The lifecycle manager serializes completion-notification
// enqueues under its own mutex; the strategy/risk drain loop is the
// single consumer. Padding keeps head and tail on separate cache lines.
type Ring[T any] struct {
	head  uint64
	_pad1 [56]byte
	tail  uint64
	_pad2 [56]byte
	buf   []T
	mask  uint64
}

func New[T any](size uint64) *Ring[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("ring: size must be a power of two")
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// Enqueue appends v; it returns false when the ring is full and the
// producer must drop or retry.
func (r *Ring[T]) Enqueue(v T) bool {
	h := r.head
	t := atomic.LoadUint64(&r.tail)
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = v
	atomic.StoreUint64(&r.head, h+1)
	return true
}

// Dequeue removes the oldest element; ok is false when the ring is empty.
func (r *Ring[T]) Dequeue() (v T, ok bool) {
	t := r.tail
	h := atomic.LoadUint64(&r.head)
	if t == h {
		return v, false
	}
	v = r.buf[t&r.mask]
	var zero T
	r.buf[t&r.mask] = zero
	atomic.StoreUint64(&r.tail, t+1)
	return v, true
}

// Len reports how many elements are currently buffered.
func (r *Ring[T]) Len() int {
	return int(atomic.LoadUint64(&r.head) - atomic.LoadUint64(&r.tail))
}
