// Package bufferqueue provides a closable, blocking FIFO used to hand values
// (timestamps, images) between producer and consumer goroutines.
//
// Semantics:
//   - Update never blocks; values arriving after Close are handed to the
//     unused-value processor instead of being queued.
//   - GetNext blocks until a value arrives, the queue is closed, or the
//     context is done.
//   - Close drains every queued value through the processor and wakes all
//     blocked readers with ErrClosed.
package bufferqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed signals that no more values will ever be available.
var ErrClosed = errors.New("bufferqueue: closed")

// Reader is the consumer side of a queue.
type Reader[T any] interface {
	// GetNext removes and returns the next value, blocking until one is
	// available. Returns ErrClosed once the queue is closed and empty, or
	// ctx.Err() if ctx is done first.
	GetNext(ctx context.Context) (T, error)

	// PeekNext returns the next value without removing it.
	PeekNext() (T, bool)

	// DiscardNext removes the next value, if any, and hands it to the
	// unused-value processor.
	DiscardNext()

	// IsClosed reports whether the queue has been closed.
	IsClosed() bool

	// Close closes the queue.
	Close()
}

// Controller is the producer side of a queue.
type Controller[T any] interface {
	// Update appends a value. If the queue is closed, the value is
	// processed as unused instead.
	Update(value T)

	// IsClosed reports whether the queue has been closed.
	IsClosed() bool

	// Close closes the queue.
	Close()
}

// Queue is an unbounded FIFO implementing both Reader and Controller.
//
// Thread-safety: all methods safe for concurrent use.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // closed and replaced whenever state changes

	unused func(T)
}

var (
	_ Reader[int]     = (*Queue[int])(nil)
	_ Controller[int] = (*Queue[int])(nil)
)

// New creates a queue. unused, if non-nil, receives every value that is
// discarded or left over at Close instead of being read. For images this is
// typically a function that closes the image.
func New[T any](unused func(T)) *Queue[T] {
	if unused == nil {
		unused = func(T) {}
	}
	return &Queue[T]{
		signal: make(chan struct{}),
		unused: unused,
	}
}

// wakeLocked releases every goroutine parked on the current signal.
func (q *Queue[T]) wakeLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Update implements Controller.
func (q *Queue[T]) Update(value T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.unused(value)
		return
	}
	q.items = append(q.items, value)
	q.wakeLocked()
	q.mu.Unlock()
}

// GetNext implements Reader.
func (q *Queue[T]) GetNext(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// PeekNext implements Reader.
func (q *Queue[T]) PeekNext() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// DiscardNext implements Reader.
func (q *Queue[T]) DiscardNext() {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	var zero T
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.mu.Unlock()

	q.unused(v)
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsClosed implements Reader and Controller.
func (q *Queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close implements Reader and Controller. Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	remaining := q.items
	q.items = nil
	q.wakeLocked()
	q.mu.Unlock()

	for _, v := range remaining {
		q.unused(v)
	}
}
