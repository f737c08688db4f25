// Package queue provides a generic, thread-safe bounded FIFO ring used for
// requests queued while a transport is disconnected.
//
// The queue is deliberately bounded: an unbounded offline queue hides
// connectivity problems from callers until memory runs out. Overflow behavior
// is configurable — Reject refuses the newest item, DropOldest evicts the
// oldest to make room. Both report the affected item through an optional
// eviction callback so its owner can fail it properly.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/alsocoders/sockress/errors"
)

// OverflowPolicy defines how the queue behaves when it reaches capacity.
type OverflowPolicy int

const (
	// Reject refuses new items when the queue is full.
	Reject OverflowPolicy = iota

	// DropOldest evicts the oldest item to make room for new items.
	DropOldest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Reject:
		return "Reject"
	case DropOldest:
		return "DropOldest"
	default:
		return "Unknown"
	}
}

// EvictCallback is called with every item removed without being popped:
// overflow evictions, rejected pushes, and items discarded by Drain on close.
type EvictCallback[T any] func(item T)

// Option configures queue behavior.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy  OverflowPolicy
	onEvict EvictCallback[T]
}

// WithOverflowPolicy sets the overflow behavior. Defaults to Reject.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithEvictCallback sets a callback invoked for evicted or rejected items.
func WithEvictCallback[T any](cb EvictCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.onEvict = cb
	}
}

// Ring is a fixed-capacity FIFO queue backed by a circular slice.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool
	opts     options[T]

	// Counters for observability
	pushes    atomic.Int64
	pops      atomic.Int64
	evictions atomic.Int64
}

// New creates a bounded FIFO ring with the given capacity.
// A capacity below 1 is clamped to 1.
func New[T any](capacity int, opts ...Option[T]) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}

	q := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&q.opts)
		}
	}
	return q
}

// Push adds an item to the tail of the queue. When the queue is full the
// overflow policy decides: Reject returns ErrQueueFull (and reports the new
// item to the eviction callback), DropOldest evicts the head entry.
func (q *Ring[T]) Push(item T) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Ring", "Push", "queue closed")
	}

	var evicted *T
	if q.size == q.capacity {
		switch q.opts.policy {
		case Reject:
			q.evictions.Add(1)
			q.mu.Unlock()
			if q.opts.onEvict != nil {
				q.opts.onEvict(item)
			}
			return errors.ErrQueueFull

		case DropOldest:
			old := q.items[q.tail]
			evicted = &old
			var zero T
			q.items[q.tail] = zero
			q.tail = (q.tail + 1) % q.capacity
			q.size--
			q.evictions.Add(1)
		}
	}

	q.items[q.head] = item
	q.head = (q.head + 1) % q.capacity
	q.size++
	q.pushes.Add(1)
	q.mu.Unlock()

	// Callback runs outside the lock so it may touch the queue again.
	if evicted != nil && q.opts.onEvict != nil {
		q.opts.onEvict(*evicted)
	}
	return nil
}

// Pop removes and returns the oldest item.
// Returns the zero value and false when the queue is empty.
func (q *Ring[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.tail]
	q.items[q.tail] = zero // release for GC
	q.tail = (q.tail + 1) % q.capacity
	q.size--
	q.pops.Add(1)
	return item, true
}

// Drain removes and returns all queued items in FIFO order.
// Used to flush queued requests when a connection opens, and to collect
// items for rejection when the owner shuts down.
func (q *Ring[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}

	out := make([]T, 0, q.size)
	var zero T
	for q.size > 0 {
		out = append(out, q.items[q.tail])
		q.items[q.tail] = zero
		q.tail = (q.tail + 1) % q.capacity
		q.size--
	}
	q.pops.Add(int64(len(out)))
	return out
}

// Len returns the current number of queued items.
func (q *Ring[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the fixed capacity of the queue.
func (q *Ring[T]) Cap() int {
	return q.capacity
}

// Evictions returns the total number of evicted or rejected items.
func (q *Ring[T]) Evictions() int64 {
	return q.evictions.Load()
}

// Close marks the queue closed. Further pushes fail; queued items remain
// available to Pop and Drain so the owner can fail them individually.
func (q *Ring[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
