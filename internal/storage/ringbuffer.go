package storage

import "sync"

// RingBuffer is a generic thread-safe ring buffer that stores a fixed number of items.
// When the buffer is full, adding a new item overwrites the oldest item and
// hands it back to the caller so dependent indexes can be pruned.
type RingBuffer[T any] struct {
	sync.RWMutex
	items    []T
	capacity int
	head     int // next write position
	size     int // current number of items
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
// The capacity must be greater than zero.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be greater than zero")
	}

	return &RingBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add inserts an item into the ring buffer. If the buffer was full, the
// overwritten oldest item is returned with evicted set to true.
func (rb *RingBuffer[T]) Add(item T) (old T, evicted bool) {
	rb.Lock()
	defer rb.Unlock()

	if rb.size == rb.capacity {
		old, evicted = rb.items[rb.head], true
	}
	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	}
	return old, evicted
}

// GetAll returns all items in chronological order (oldest to newest).
// The returned slice is a copy and safe to modify.
func (rb *RingBuffer[T]) GetAll() []T {
	rb.RLock()
	defer rb.RUnlock()

	if rb.size == 0 {
		return nil
	}

	result := make([]T, rb.size)

	if rb.size < rb.capacity {
		// Haven't wrapped yet - items are at beginning of buffer
		copy(result, rb.items[:rb.size])
	} else {
		// Buffer has wrapped - head points to oldest item
		n := copy(result, rb.items[rb.head:])
		copy(result[n:], rb.items[:rb.head])
	}

	return result
}

// GetRecent returns the N most recent items in chronological order.
// If N is greater than the current size, all items are returned.
func (rb *RingBuffer[T]) GetRecent(n int) []T {
	all := rb.GetAll()
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// Size returns the current number of items in the buffer.
func (rb *RingBuffer[T]) Size() int {
	rb.RLock()
	defer rb.RUnlock()
	return rb.size
}

// Capacity returns the maximum capacity of the buffer.
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// Clear removes all items from the buffer.
func (rb *RingBuffer[T]) Clear() {
	rb.Lock()
	defer rb.Unlock()
	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.size = 0
	rb.head = 0
}
