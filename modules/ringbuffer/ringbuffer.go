// Package ringbuffer implements a bounded image queue whose capacity is the
// number of tickets it can lease from a parent pool.
//
// The buffer grows by one slot per arriving image when the parent has a
// spare ticket, and otherwise recycles the slot of its oldest image. Because
// every buffered image holds a ticket that can be handed back, the buffer is
// also a ticketpool.Pool: draining it frees capacity for someone else.
package ringbuffer

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/observable"
	"github.com/e7canasta/orion-frameshare/modules/ticketpool"
)

// DynamicRingBuffer buffers the most recent images that fit in the tickets
// leasable from its parent.
//
// Thread-safety: all methods safe for concurrent use. Images returned by
// GetNext belong to the caller and keep their ticket until closed.
type DynamicRingBuffer struct {
	parent ticketpool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	entries []*ticketedImage // oldest first
	maxSize int
	closed  bool
	signal  chan struct{} // closed and replaced on every state change

	drainWaiters atomic.Int32

	occupancy *observable.Computed[int] // len(entries), read under mu
	available *ticketpool.Counter

	stats counters
}

var (
	_ ticketpool.Pool                          = (*DynamicRingBuffer)(nil)
	_ ticketpool.LowPriorityHolder             = (*DynamicRingBuffer)(nil)
	_ bufferqueue.Reader[imageproxy.Proxy]     = (*DynamicRingBuffer)(nil)
	_ bufferqueue.Controller[imageproxy.Proxy] = (*DynamicRingBuffer)(nil)
)

// Option configures a DynamicRingBuffer.
type Option func(*DynamicRingBuffer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *DynamicRingBuffer) { b.logger = logger }
}

// WithMaxSize sets the initial size ceiling. Defaults to unbounded.
func WithMaxSize(n int) Option {
	return func(b *DynamicRingBuffer) { b.maxSize = n }
}

// New creates a ring buffer leasing from parent.
func New(parent ticketpool.Pool, opts ...Option) *DynamicRingBuffer {
	b := &DynamicRingBuffer{
		parent:  parent,
		logger:  slog.Default(),
		maxSize: math.MaxInt,
		signal:  make(chan struct{}),
	}
	b.occupancy = observable.NewComputed(b.Len)
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "ringbuffer")
	b.available = ticketpool.NewCounter(b.occupancy, parent.AvailableTicketCount())
	return b
}

// Update admits an arriving image.
//
// Algorithm:
//  1. Freeze the available-ticket counter
//  2. Lease one ticket from the parent
//  3. On failure, discard the oldest image (returning its ticket) and
//     lease once more
//  4. Store the image with its ticket, or close it if there is none
//  5. Discard oldest images until occupancy is within the size ceiling
//  6. Unfreeze the counter
//
// Leasing is skipped entirely while a drain (Acquire/TryAcquire on the
// buffer) is in progress.
func (b *DynamicRingBuffer) Update(img imageproxy.Proxy) {
	b.available.Freeze()
	defer b.available.Unfreeze()

	b.stats.received.Add(1)

	var ticket ticketpool.Ticket
	if b.drainWaiters.Load() == 0 && !b.IsClosed() {
		ticket = b.parent.TryAcquire()
		if ticket == nil && b.discardOldest() {
			ticket = b.parent.TryAcquire()
		}
	}
	if ticket == nil {
		b.stats.dropped.Add(1)
		b.logger.Debug("no ticket for image, dropping", "timestamp", img.Timestamp())
		img.Close()
		return
	}

	entry := &ticketedImage{Forwarding: imageproxy.Forwarding{Inner: img}, ticket: ticket}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		entry.Close()
		return
	}
	b.entries = append(b.entries, entry)
	evicted := b.trimLocked()
	b.wakeLocked()
	b.mu.Unlock()

	b.stats.stored.Add(1)
	b.closeEvicted(evicted)
	b.occupancy.Notify()
}

// trimLocked removes the oldest entries above the size ceiling.
func (b *DynamicRingBuffer) trimLocked() []*ticketedImage {
	excess := len(b.entries) - b.maxSize
	if excess <= 0 {
		return nil
	}
	evicted := append([]*ticketedImage(nil), b.entries[:excess]...)
	clear(b.entries[:excess])
	b.entries = b.entries[excess:]
	return evicted
}

func (b *DynamicRingBuffer) closeEvicted(evicted []*ticketedImage) {
	for _, e := range evicted {
		b.stats.evicted.Add(1)
		e.Close()
	}
}

func (b *DynamicRingBuffer) wakeLocked() {
	close(b.signal)
	b.signal = make(chan struct{})
}

// popOldest removes the oldest entry, or returns nil.
func (b *DynamicRingBuffer) popOldest() *ticketedImage {
	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return nil
	}
	e := b.entries[0]
	b.entries[0] = nil
	b.entries = b.entries[1:]
	b.wakeLocked()
	b.mu.Unlock()

	b.occupancy.Notify()
	return e
}

func (b *DynamicRingBuffer) discardOldest() bool {
	e := b.popOldest()
	if e == nil {
		return false
	}
	b.stats.evicted.Add(1)
	e.Close()
	return true
}

// discardAll closes every buffered image, returning all tickets.
func (b *DynamicRingBuffer) discardAll() {
	b.available.Freeze()
	defer b.available.Unfreeze()

	b.mu.Lock()
	evicted := b.entries
	b.entries = nil
	b.wakeLocked()
	b.mu.Unlock()

	b.closeEvicted(evicted)
	b.occupancy.Notify()
}

// SetMaxSize changes the size ceiling, discarding the oldest images if the
// buffer is now over it.
func (b *DynamicRingBuffer) SetMaxSize(n int) {
	b.available.Freeze()
	defer b.available.Unfreeze()

	b.mu.Lock()
	b.maxSize = max(0, n)
	evicted := b.trimLocked()
	b.mu.Unlock()

	b.closeEvicted(evicted)
	b.occupancy.Notify()
}

// Len returns the number of buffered images.
func (b *DynamicRingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// GetNext removes and returns the oldest image, blocking until one arrives.
// Returns bufferqueue.ErrClosed once closed, or ctx.Err().
func (b *DynamicRingBuffer) GetNext(ctx context.Context) (imageproxy.Proxy, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, bufferqueue.ErrClosed
		}
		if len(b.entries) > 0 {
			b.mu.Unlock()
			if e := b.popOldest(); e != nil {
				return e, nil
			}
			continue
		}
		signal := b.signal
		b.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PeekNext returns the oldest image without removing it. The image remains
// owned by the buffer.
func (b *DynamicRingBuffer) PeekNext() (imageproxy.Proxy, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil, false
	}
	return b.entries[0], true
}

// DiscardNext closes the oldest image, if any.
func (b *DynamicRingBuffer) DiscardNext() {
	b.available.Freeze()
	defer b.available.Unfreeze()
	b.discardOldest()
}

// IsClosed reports whether Close has been called.
func (b *DynamicRingBuffer) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close discards all buffered images and wakes readers with
// bufferqueue.ErrClosed. Images arriving later are closed. Idempotent.
func (b *DynamicRingBuffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.discardAll()
}

// TryAcquire drains the buffer and then leases one ticket from the parent.
func (b *DynamicRingBuffer) TryAcquire() ticketpool.Ticket {
	b.drainWaiters.Add(1)
	defer b.drainWaiters.Add(-1)

	b.discardAll()
	return b.parent.TryAcquire()
}

// Acquire drains the buffer and then forwards to the parent. Incoming images
// are not buffered while it waits.
func (b *DynamicRingBuffer) Acquire(ctx context.Context, n int) ([]ticketpool.Ticket, error) {
	b.drainWaiters.Add(1)
	defer b.drainWaiters.Add(-1)

	b.discardAll()
	return b.parent.Acquire(ctx, n)
}

// CanAcquire reports whether n tickets are free or reclaimable.
func (b *DynamicRingBuffer) CanAcquire(n int) bool {
	return n >= 0 && n <= b.available.Get()
}

// AvailableTicketCount is buffered images plus the parent's free tickets.
func (b *DynamicRingBuffer) AvailableTicketCount() observable.Observable[int] {
	return b.available
}

// ReleaseLowPriorityTickets discards every buffered image.
func (b *DynamicRingBuffer) ReleaseLowPriorityTickets() {
	b.discardAll()
}

// ReleasableTicketCount is the number of buffered images.
func (b *DynamicRingBuffer) ReleasableTicketCount() observable.Observable[int] {
	return b.occupancy
}

// ticketedImage is a buffered image and the ticket paying for its slot.
// Closing it closes the image, then returns the ticket.
type ticketedImage struct {
	imageproxy.Forwarding
	ticket ticketpool.Ticket
	closed atomic.Bool
}

func (t *ticketedImage) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.Inner.Close()
	t.ticket.Close()
}
