// Package observable provides thread-safe values that notify listeners when
// they change.
package observable

import (
	"sort"
	"sync"
)

// Observable is a value which can be read at any time and which notifies
// registered callbacks after it changes.
type Observable[T any] interface {
	// Get returns the current value.
	Get() T

	// AddCallback registers fn to run after each change. The returned
	// function unregisters it. Callbacks run on the goroutine that made the
	// change, never while an internal lock is held.
	AddCallback(fn func()) (remove func())
}

// callbacks is a registry shared by the Observable implementations.
type callbacks struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (c *callbacks) add(fn func()) func() {
	c.mu.Lock()
	if c.fns == nil {
		c.fns = make(map[int]func())
	}
	id := c.next
	c.next++
	c.fns[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.fns, id)
		c.mu.Unlock()
	}
}

// snapshot returns callbacks in registration order.
func (c *callbacks) snapshot() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int, 0, len(c.fns))
	for id := range c.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.fns[id])
	}
	return fns
}

func (c *callbacks) notify() {
	for _, fn := range c.snapshot() {
		fn()
	}
}

// State is a settable Observable. Update only notifies when the value
// actually changes.
type State[T comparable] struct {
	mu    sync.Mutex
	value T
	cbs   callbacks
}

// NewState creates a State holding initial.
func NewState[T comparable](initial T) *State[T] {
	return &State[T]{value: initial}
}

// Get implements Observable.
func (s *State[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Update stores v and notifies callbacks if it differs from the previous value.
func (s *State[T]) Update(v T) {
	s.mu.Lock()
	changed := s.value != v
	s.value = v
	s.mu.Unlock()

	if changed {
		s.cbs.notify()
	}
}

// AddCallback implements Observable.
func (s *State[T]) AddCallback(fn func()) func() {
	return s.cbs.add(fn)
}

// Sum is an Observable whose value is the sum of its inputs. It is computed
// on demand; a change to any input notifies Sum's callbacks.
type Sum struct {
	inputs []Observable[int]
	cbs    callbacks
}

// NewSum creates a Sum over inputs.
func NewSum(inputs ...Observable[int]) *Sum {
	s := &Sum{inputs: inputs}
	for _, in := range inputs {
		in.AddCallback(s.cbs.notify)
	}
	return s
}

// Get implements Observable.
func (s *Sum) Get() int {
	total := 0
	for _, in := range s.inputs {
		total += in.Get()
	}
	return total
}

// AddCallback implements Observable.
func (s *Sum) AddCallback(fn func()) func() {
	return s.cbs.add(fn)
}

// Computed is an Observable whose value is produced by fn on every Get. The
// owner of the underlying state calls Notify after changing it.
type Computed[T any] struct {
	fn  func() T
	cbs callbacks
}

// NewComputed creates a Computed over fn.
func NewComputed[T any](fn func() T) *Computed[T] {
	return &Computed[T]{fn: fn}
}

// Get implements Observable.
func (c *Computed[T]) Get() T { return c.fn() }

// AddCallback implements Observable.
func (c *Computed[T]) AddCallback(fn func()) func() {
	return c.cbs.add(fn)
}

// Notify runs all callbacks. Must not be called with a lock that fn takes.
func (c *Computed[T]) Notify() {
	c.cbs.notify()
}

// Func adapts a function to a read-only Observable with no change
// notifications. Useful for values owned by code that has no callback hook.
type Func[T any] func() T

// Get implements Observable.
func (f Func[T]) Get() T { return f() }

// AddCallback implements Observable; Func never notifies.
func (f Func[T]) AddCallback(func()) func() { return func() {} }
