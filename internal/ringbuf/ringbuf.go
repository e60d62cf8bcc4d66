// Package ringbuf provides a lock-free single-producer single-consumer ring
// buffer. The kline stream reader pushes bar updates; the live feed drains
// them on its polling goroutine.
package ringbuf

import "sync/atomic"

const cacheLine = 64

// Ring is a lock-free SPSC ring buffer. Capacity is a power of two.
type Ring[T any] struct {
	buf  []T
	mask uint64

	// Producer and consumer indices live on separate cache lines.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	overflow atomic.Uint64
}

// New creates a ring with capacity rounded up to the next power of two,
// minimum 2.
func New[T any](capacity int) *Ring[T] {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring[T]{buf: make([]T, n), mask: uint64(n - 1)}
}

// Push appends v. It returns false without writing when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		return false
	}
	r.buf[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// Pop removes the oldest value. ok is false when the ring is empty.
func (r *Ring[T]) Pop() (v T, ok bool) {
	tail := r.tail.Load()
	if tail >= r.head.Load() {
		return v, false
	}
	v = r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return v, true
}

// Drain pops every available value into fn and returns how many there were.
func (r *Ring[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := r.Pop()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}

// Len returns the number of buffered values.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Overflow returns the number of rejected pushes.
func (r *Ring[T]) Overflow() uint64 {
	return r.overflow.Load()
}

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
