package ticketpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-frameshare/modules/observable"
)

// LowPriorityHolder is a consumer of low-priority tickets that can give
// them back on demand, such as a ZSL ring buffer.
type LowPriorityHolder interface {
	// ReleaseLowPriorityTickets releases every ticket that can be released
	// immediately.
	ReleaseLowPriorityTickets()

	// ReleasableTicketCount is the number of tickets that
	// ReleaseLowPriorityTickets would free.
	ReleasableTicketCount() observable.Observable[int]
}

// Prioritizer splits a root pool into a high-priority lane and a reclaimable
// low-priority lane.
//
// Every high-priority request first flushes all low-priority holders, then
// goes to the root pool. While a high-priority Acquire is blocked, the
// low-priority lane refuses TryAcquire so that it cannot re-claim the
// capacity being waited on. Flushing everything rather than the minimum
// needed trades buffered low-priority images for simpler accounting.
//
// Holders are attached after construction with SetLowPriorityHolder, since
// a holder usually leases from LowPriority().
type Prioritizer struct {
	root Pool

	mu      sync.Mutex
	holders []LowPriorityHolder

	highWaiters atomic.Int32
	highCount   *Counter

	high *highPriorityPool
	low  *lowPriorityPool
}

// NewPrioritizer creates a prioritizer over root.
func NewPrioritizer(root Pool) *Prioritizer {
	p := &Prioritizer{
		root:      root,
		highCount: NewCounter(root.AvailableTicketCount()),
	}
	p.high = &highPriorityPool{p: p}
	p.low = &lowPriorityPool{p: p}
	return p
}

// SetLowPriorityHolder registers a holder to flush on high-priority
// requests. Its releasable count adds to the high-priority available count.
func (p *Prioritizer) SetLowPriorityHolder(h LowPriorityHolder) {
	p.mu.Lock()
	p.holders = append(p.holders, h)
	p.mu.Unlock()
	p.highCount.AddInput(h.ReleasableTicketCount())
}

// HighPriority returns the preempting lane.
func (p *Prioritizer) HighPriority() Pool { return p.high }

// LowPriority returns the reclaimable lane.
func (p *Prioritizer) LowPriority() Pool { return p.low }

// HighPriorityWaiters returns the number of blocked high-priority Acquire
// calls.
func (p *Prioritizer) HighPriorityWaiters() int { return int(p.highWaiters.Load()) }

func (p *Prioritizer) releaseLowPriority() {
	p.mu.Lock()
	holders := append([]LowPriorityHolder(nil), p.holders...)
	p.mu.Unlock()

	for _, h := range holders {
		h.ReleaseLowPriorityTickets()
	}
}

type highPriorityPool struct {
	p *Prioritizer
}

func (h *highPriorityPool) Acquire(ctx context.Context, n int) ([]Ticket, error) {
	h.p.highWaiters.Add(1)
	defer h.p.highWaiters.Add(-1)

	h.p.releaseLowPriority()
	return h.p.root.Acquire(ctx, n)
}

func (h *highPriorityPool) TryAcquire() Ticket {
	h.p.releaseLowPriority()
	return h.p.root.TryAcquire()
}

func (h *highPriorityPool) CanAcquire(n int) bool {
	return n >= 0 && n <= h.p.highCount.Get()
}

func (h *highPriorityPool) AvailableTicketCount() observable.Observable[int] {
	return h.p.highCount
}

type lowPriorityPool struct {
	p *Prioritizer
}

func (l *lowPriorityPool) Acquire(ctx context.Context, n int) ([]Ticket, error) {
	return l.p.root.Acquire(ctx, n)
}

func (l *lowPriorityPool) TryAcquire() Ticket {
	if l.p.highWaiters.Load() > 0 {
		return nil
	}
	return l.p.root.TryAcquire()
}

func (l *lowPriorityPool) CanAcquire(n int) bool {
	return l.p.highWaiters.Load() == 0 && l.p.root.CanAcquire(n)
}

func (l *lowPriorityPool) AvailableTicketCount() observable.Observable[int] {
	return l.p.root.AvailableTicketCount()
}
