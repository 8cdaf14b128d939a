package router

import "sync"

// growNumerator/growDenominator set the fill fraction at which the ring
// doubles. Growing before the ring is full keeps Send non-blocking under
// burst load; a frame is never dropped between the feed and a consumer.
const (
	growNumerator   = 7
	growDenominator = 10
)

// GrowableBuffer is an unbounded MPSC-friendly ring buffer. Send never
// blocks and never drops; the ring doubles once it passes the grow
// fraction. Receive blocks until an item arrives or Close is called.
type GrowableBuffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	read   int
	write  int
	count  int
	closed bool

	totalIn  int64
	totalOut int64
	resizes  int
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &GrowableBuffer[T]{ring: make([]T, initialCapacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send enqueues one item, growing the ring first if the fill fraction
// would be crossed. Returns false only after Close.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := len(b.ring) * growNumerator / growDenominator
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.growLocked()
	}

	b.ring[b.write] = item
	b.write = (b.write + 1) % len(b.ring)
	b.count++
	b.totalIn++

	b.cond.Signal()
	return true
}

// Receive dequeues one item, blocking until one is available. After
// Close it drains the remaining items, then reports false.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.popLocked(), true
}

// TryReceive dequeues one item without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.popLocked(), true
}

// DrainTo dequeues up to max items in one lock acquisition. max <= 0
// drains everything. Returns nil when empty.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.popLocked()
	}
	return out
}

// Close wakes all blocked receivers. Items already enqueued remain
// receivable; further Sends are refused.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of buffered items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current ring capacity.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// BufferStats is a point-in-time counter snapshot.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64 // Items enqueued since creation
	TotalSent     int64 // Items dequeued since creation
	ResizeCount   int
}

// Stats returns a copy of the counters.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      len(b.ring),
		TotalReceived: b.totalIn,
		TotalSent:     b.totalOut,
		ResizeCount:   b.resizes,
	}
}

// popLocked removes the oldest item. Caller holds b.mu and has checked
// count > 0.
func (b *GrowableBuffer[T]) popLocked() T {
	item := b.ring[b.read]
	var zero T
	b.ring[b.read] = zero
	b.read = (b.read + 1) % len(b.ring)
	b.count--
	b.totalOut++
	return item
}

// growLocked doubles the ring, unwrapping the live window to the front.
// Caller holds b.mu.
func (b *GrowableBuffer[T]) growLocked() {
	next := make([]T, len(b.ring)*2)
	if b.count > 0 {
		if b.read < b.write {
			copy(next, b.ring[b.read:b.write])
		} else {
			n := copy(next, b.ring[b.read:])
			copy(next[n:], b.ring[:b.write])
		}
	}
	b.ring = next
	b.read = 0
	b.write = b.count
	b.resizes++
}
