// Package async provides a one-shot, settable result that can be awaited
// with a context.
package async

import (
	"context"
	"sync"
)

// Future is a value that becomes available exactly once.
//
// The zero value is not usable; construct with NewFuture or Completed.
// Thread-safety: all methods are safe for concurrent use.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture returns an unset future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future that is already set to (value, err).
func Completed[T any](value T, err error) *Future[T] {
	f := NewFuture[T]()
	f.complete(value, err)
	return f
}

// Set completes the future with a value. Returns false if it was already set.
func (f *Future[T]) Set(value T) bool {
	return f.complete(value, nil)
}

// Fail completes the future with an error. Returns false if it was already set.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(value T, err error) bool {
	set := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		set = true
	})
	return set
}

// Done is closed once the future has been set.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has been set.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future is set or ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
