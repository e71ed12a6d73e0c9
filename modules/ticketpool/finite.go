package ticketpool

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/e7canasta/orion-frameshare/modules/observable"
)

// FinitePool is a root pool holding a fixed number of tickets.
//
// Waiters are served strictly in arrival order. While any waiter is blocked,
// TryAcquire refuses and the available count reads 0, so single-ticket
// grabbers cannot starve a bulk request.
//
// Thread-safety: all methods safe for concurrent use.
type FinitePool struct {
	capacity int

	mu      sync.Mutex
	tickets int
	closed  bool
	waiters list.List // of *waiter

	count *observable.Computed[int]
}

// waiter is a blocked Acquire. ready is closed once the request is granted
// or the pool is closed.
type waiter struct {
	n       int
	ready   chan struct{}
	granted bool
}

var _ Pool = (*FinitePool)(nil)

// NewFinitePool creates a pool with capacity tickets. Panics if capacity < 0.
func NewFinitePool(capacity int) *FinitePool {
	if capacity < 0 {
		panic(fmt.Sprintf("ticketpool: negative capacity %d", capacity))
	}
	p := &FinitePool{capacity: capacity, tickets: capacity}
	p.count = observable.NewComputed(p.available)
	return p
}

// Capacity returns the total number of tickets.
func (p *FinitePool) Capacity() int { return p.capacity }

func (p *FinitePool) available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.waiters.Len() > 0 {
		return 0
	}
	return p.tickets
}

// Acquire implements Pool.
func (p *FinitePool) Acquire(ctx context.Context, n int) ([]Ticket, error) {
	if n < 0 || n > p.capacity {
		return nil, invalidRequest(n, p.capacity)
	}
	if n == 0 {
		return []Ticket{}, nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.waiters.Len() == 0 && p.tickets >= n {
		p.tickets -= n
		p.mu.Unlock()
		p.count.Notify()
		return p.issue(n), nil
	}
	w := &waiter{n: n, ready: make(chan struct{})}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()
	p.count.Notify()

	select {
	case <-w.ready:
	case <-ctx.Done():
	}

	p.mu.Lock()
	switch {
	case w.granted:
		p.mu.Unlock()
		p.count.Notify()
		return p.issue(n), nil
	case p.closed:
		p.mu.Unlock()
		return nil, ErrClosed
	default:
		p.waiters.Remove(elem)
		p.grantLocked()
		p.mu.Unlock()
		p.count.Notify()
		return nil, ctx.Err()
	}
}

// grantLocked hands tickets to waiters in order while the head can be
// satisfied.
func (p *FinitePool) grantLocked() {
	for e := p.waiters.Front(); e != nil; e = p.waiters.Front() {
		w := e.Value.(*waiter)
		if w.n > p.tickets {
			return
		}
		p.tickets -= w.n
		w.granted = true
		close(w.ready)
		p.waiters.Remove(e)
	}
}

func (p *FinitePool) issue(n int) []Ticket {
	out := make([]Ticket, n)
	for i := range out {
		out[i] = newTicket(p.release)
	}
	return out
}

func (p *FinitePool) release() {
	p.mu.Lock()
	p.tickets++
	p.grantLocked()
	p.mu.Unlock()
	p.count.Notify()
}

// TryAcquire implements Provider.
func (p *FinitePool) TryAcquire() Ticket {
	p.mu.Lock()
	if p.closed || p.waiters.Len() > 0 || p.tickets < 1 {
		p.mu.Unlock()
		return nil
	}
	p.tickets--
	p.mu.Unlock()
	p.count.Notify()
	return newTicket(p.release)
}

// CanAcquire implements Pool.
func (p *FinitePool) CanAcquire(n int) bool {
	return n >= 0 && n <= p.available()
}

// AvailableTicketCount implements Pool.
func (p *FinitePool) AvailableTicketCount() observable.Observable[int] {
	return p.count
}

// Close wakes all waiters with ErrClosed and refuses further requests.
// Outstanding tickets may still be closed afterwards. Idempotent.
func (p *FinitePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		close(e.Value.(*waiter).ready)
	}
	p.waiters.Init()
	p.mu.Unlock()
	p.count.Notify()
}
