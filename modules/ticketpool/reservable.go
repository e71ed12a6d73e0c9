package ticketpool

import (
	"container/list"
	"context"
	"sync"

	"github.com/e7canasta/orion-frameshare/modules/observable"
)

// ReservablePool holds capacity leased ahead of time from a parent pool.
//
// Capacity is the number of tickets that may be held from this pool at
// once (idle + outstanding). ReserveCapacity grows it by leasing from the
// parent; ReleaseCapacity shrinks it and returns tickets to the parent as
// soon as holders give them back.
//
// Tickets handed out wrap parent tickets. Closing one puts the parent
// ticket back in the local pool while under capacity, otherwise closes it
// so it returns to the parent.
//
// Thread-safety: all methods safe for concurrent use.
type ReservablePool struct {
	parent Pool

	mu          sync.Mutex
	capacity    int
	idle        []Ticket // parent tickets not handed out
	outstanding int
	closed      bool
	waiters     list.List // of *reservationWaiter

	count *observable.Computed[int]
}

type reservationWaiter struct {
	n       int
	ready   chan struct{}
	tickets []Ticket
	aborted bool
}

var _ Pool = (*ReservablePool)(nil)

// NewReservablePool creates an empty pool over parent.
func NewReservablePool(parent Pool) *ReservablePool {
	p := &ReservablePool{parent: parent}
	p.count = observable.NewComputed(p.available)
	return p
}

func (p *ReservablePool) available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiters.Len() > 0 {
		return 0
	}
	return len(p.idle)
}

// Capacity returns the current reserved capacity.
func (p *ReservablePool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// ReserveCapacity leases n more tickets from the parent, blocking until
// they are available.
func (p *ReservablePool) ReserveCapacity(ctx context.Context, n int) error {
	tickets, err := p.parent.Acquire(ctx, n)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		CloseAll(tickets)
		return ErrClosed
	}
	p.capacity += n
	p.idle = append(p.idle, tickets...)
	p.grantLocked()
	p.mu.Unlock()
	p.count.Notify()
	return nil
}

// ReleaseCapacity shrinks capacity by n (clamped to the current capacity).
// Idle tickets above the new capacity go back to the parent immediately;
// outstanding ones go back when closed. Waiters asking for more than the
// new capacity fail with ErrNoCapacity.
func (p *ReservablePool) ReleaseCapacity(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	toParent := p.shrinkLocked(n)
	p.mu.Unlock()

	CloseAll(toParent)
	p.count.Notify()
}

func (p *ReservablePool) shrinkLocked(n int) []Ticket {
	n = min(n, p.capacity)
	p.capacity -= n

	excess := len(p.idle) + p.outstanding - p.capacity
	excess = max(0, min(excess, len(p.idle)))
	toParent := make([]Ticket, excess)
	copy(toParent, p.idle[len(p.idle)-excess:])
	p.idle = p.idle[:len(p.idle)-excess]

	for e := p.waiters.Front(); e != nil; {
		next := e.Next()
		w := e.Value.(*reservationWaiter)
		if w.n > p.capacity {
			w.aborted = true
			close(w.ready)
			p.waiters.Remove(e)
		}
		e = next
	}
	p.grantLocked()
	return toParent
}

// Close releases all capacity back to the parent and fails current and
// future requests with ErrClosed. Idempotent.
func (p *ReservablePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	toParent := p.shrinkLocked(p.capacity)
	p.mu.Unlock()

	CloseAll(toParent)
	p.count.Notify()
}

// Acquire implements Pool.
func (p *ReservablePool) Acquire(ctx context.Context, n int) ([]Ticket, error) {
	if n < 0 {
		return nil, invalidRequest(n, p.Capacity())
	}
	if n == 0 {
		return []Ticket{}, nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if n > p.capacity {
		c := p.capacity
		p.mu.Unlock()
		return nil, invalidRequest(n, c)
	}
	if p.waiters.Len() == 0 && len(p.idle) >= n {
		tickets := p.takeLocked(n)
		p.mu.Unlock()
		p.count.Notify()
		return p.wrap(tickets), nil
	}
	w := &reservationWaiter{n: n, ready: make(chan struct{})}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()
	p.count.Notify()

	select {
	case <-w.ready:
	case <-ctx.Done():
	}

	p.mu.Lock()
	switch {
	case w.tickets != nil:
		p.mu.Unlock()
		p.count.Notify()
		return p.wrap(w.tickets), nil
	case w.aborted:
		closed, c := p.closed, p.capacity
		p.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, invalidRequest(n, c)
	default:
		p.waiters.Remove(elem)
		p.grantLocked()
		p.mu.Unlock()
		p.count.Notify()
		return nil, ctx.Err()
	}
}

func (p *ReservablePool) takeLocked(n int) []Ticket {
	tickets := make([]Ticket, n)
	copy(tickets, p.idle[:n])
	p.idle = p.idle[n:]
	p.outstanding += n
	return tickets
}

func (p *ReservablePool) grantLocked() {
	for e := p.waiters.Front(); e != nil; e = p.waiters.Front() {
		w := e.Value.(*reservationWaiter)
		if w.n > len(p.idle) {
			return
		}
		w.tickets = p.takeLocked(w.n)
		close(w.ready)
		p.waiters.Remove(e)
	}
}

func (p *ReservablePool) wrap(parents []Ticket) []Ticket {
	out := make([]Ticket, len(parents))
	for i, parent := range parents {
		out[i] = newTicket(func() { p.giveBack(parent) })
	}
	return out
}

// giveBack receives a closed wrapped ticket.
func (p *ReservablePool) giveBack(parent Ticket) {
	p.mu.Lock()
	p.outstanding--
	toParent := len(p.idle)+p.outstanding >= p.capacity
	if !toParent {
		p.idle = append(p.idle, parent)
		p.grantLocked()
	}
	p.mu.Unlock()

	if toParent {
		parent.Close()
	}
	p.count.Notify()
}

// TryAcquire implements Provider.
func (p *ReservablePool) TryAcquire() Ticket {
	p.mu.Lock()
	if p.closed || len(p.idle) == 0 || p.waiters.Len() > 0 {
		p.mu.Unlock()
		return nil
	}
	tickets := p.takeLocked(1)
	p.mu.Unlock()
	p.count.Notify()
	return p.wrap(tickets)[0]
}

// CanAcquire implements Pool.
func (p *ReservablePool) CanAcquire(n int) bool {
	return n >= 0 && n <= p.available()
}

// AvailableTicketCount implements Pool.
func (p *ReservablePool) AvailableTicketCount() observable.Observable[int] {
	return p.count
}
