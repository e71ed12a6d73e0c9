// Package ticketpool implements capacity accounting for scarce image buffers.
//
// A Ticket represents one buffer slot. Pools hand tickets out and get them
// back when the holder closes them. Pools compose: a ReservablePool leases
// from a parent, a Prioritizer splits one pool into a high-priority lane
// and a reclaimable low-priority lane, and a ring buffer (package
// ringbuffer) is itself a pool whose buffered images can be drained.
//
// Counts published through AvailableTicketCount are observables so that a
// Counter can aggregate them across nested pools.
package ticketpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/e7canasta/orion-frameshare/modules/observable"
)

var (
	// ErrNoCapacity is returned by Acquire when the request can never be
	// satisfied.
	ErrNoCapacity = errors.New("ticketpool: no capacity available")

	// ErrClosed is returned to waiters of a pool that has been closed.
	// errors.Is(ErrClosed, ErrNoCapacity) holds.
	ErrClosed = fmt.Errorf("%w: pool closed", ErrNoCapacity)
)

// Ticket is one unit of capacity. Close returns it to its pool and is
// idempotent.
type Ticket interface {
	Close()
}

// Provider hands out single tickets without blocking.
type Provider interface {
	// TryAcquire returns a ticket, or nil if none is immediately available.
	TryAcquire() Ticket
}

// Pool is a Provider that also supports blocking bulk allocation.
type Pool interface {
	Provider

	// Acquire blocks until exactly n tickets can be handed out together.
	// Returns ErrNoCapacity if n can never be satisfied, ErrClosed if the
	// pool closes while waiting, or ctx.Err(). On error no tickets are held.
	Acquire(ctx context.Context, n int) ([]Ticket, error)

	// CanAcquire reports whether n tickets look available right now. Advisory.
	CanAcquire(n int) bool

	// AvailableTicketCount is the number of tickets readily available.
	AvailableTicketCount() observable.Observable[int]
}

// CloseAll closes every ticket.
func CloseAll(tickets []Ticket) {
	for _, t := range tickets {
		t.Close()
	}
}

// ticket runs release exactly once.
type ticket struct {
	closed  atomic.Bool
	release func()
}

func newTicket(release func()) *ticket {
	return &ticket{release: release}
}

func (t *ticket) Close() {
	if t.closed.CompareAndSwap(false, true) {
		t.release()
	}
}

func invalidRequest(n, capacity int) error {
	return fmt.Errorf("%w: requested %d tickets, capacity %d", ErrNoCapacity, n, capacity)
}
