package sharedreader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/imagedistributor"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/ticketpool"
)

// ImageStream is a bounded queue of captured images backed by capacity
// reserved on the high-priority lane.
//
// An image routed to the stream is admitted only if a ticket is free, so
// the stream never holds more than its capacity; extra images are closed.
// Closing an admitted image returns its ticket to the stream.
//
// The capacity is reserved on the first Bind (or an explicit Allocate) and
// reused by later binds, so one stream can serve many capture requests.
type ImageStream struct {
	reader   *Reader
	capacity int
	tickets  *ticketpool.ReservablePool
	queue    *bufferqueue.Queue[imageproxy.Proxy]

	allocMu   sync.Mutex
	allocated bool

	admitted atomic.Uint64
	dropped  atomic.Uint64
}

var (
	_ bufferqueue.Reader[imageproxy.Proxy]     = (*ImageStream)(nil)
	_ bufferqueue.Controller[imageproxy.Proxy] = (*ticketFilter)(nil)
)

// CreateStream creates an unallocated stream holding at most capacity
// images. On a closed reader the stream is returned already closed.
func (r *Reader) CreateStream(capacity int) *ImageStream {
	s := &ImageStream{
		reader:   r,
		capacity: capacity,
		tickets:  ticketpool.NewReservablePool(r.prioritizer.HighPriority()),
		queue:    bufferqueue.New(func(img imageproxy.Proxy) { img.Close() }),
	}
	if !r.register(s) {
		s.Close()
	}
	return s
}

// CreatePreallocatedStream creates a stream and blocks until its capacity
// is reserved.
func (r *Reader) CreatePreallocatedStream(ctx context.Context, capacity int) (*ImageStream, error) {
	s := r.CreateStream(capacity)
	if err := s.Allocate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Capacity returns the maximum number of images the stream holds.
func (s *ImageStream) Capacity() int { return s.capacity }

// Allocate reserves the stream's capacity, blocking until it is available.
// Later calls return immediately.
func (s *ImageStream) Allocate(ctx context.Context) error {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	if s.allocated {
		return nil
	}
	if s.queue.IsClosed() {
		return fmt.Errorf("sharedreader: allocate: %w", ticketpool.ErrClosed)
	}
	if err := s.tickets.ReserveCapacity(ctx, s.capacity); err != nil {
		return fmt.Errorf("sharedreader: allocate %d images: %w", s.capacity, err)
	}
	s.allocated = true
	return nil
}

// Bind allocates the stream if needed and routes images whose timestamps
// appear on timestamps into it. Closing timestamps ends the route without
// closing the stream.
func (s *ImageStream) Bind(ctx context.Context, timestamps bufferqueue.Reader[int64]) (imagedistributor.RouteID, error) {
	if err := s.Allocate(ctx); err != nil {
		return imagedistributor.RouteID{}, err
	}
	return s.reader.distributor.AddRoute(timestamps, &ticketFilter{stream: s}), nil
}

// GetNext implements bufferqueue.Reader.
func (s *ImageStream) GetNext(ctx context.Context) (imageproxy.Proxy, error) {
	return s.queue.GetNext(ctx)
}

// PeekNext implements bufferqueue.Reader.
func (s *ImageStream) PeekNext() (imageproxy.Proxy, bool) { return s.queue.PeekNext() }

// DiscardNext implements bufferqueue.Reader.
func (s *ImageStream) DiscardNext() { s.queue.DiscardNext() }

// IsClosed implements bufferqueue.Reader.
func (s *ImageStream) IsClosed() bool { return s.queue.IsClosed() }

// Close closes queued images and returns the reserved capacity. Images
// already handed out return their tickets to the parent when closed.
// Idempotent.
func (s *ImageStream) Close() {
	s.queue.Close()
	s.tickets.Close()
	s.reader.unregister(s)
}

// StreamStats is a snapshot of one stream.
type StreamStats struct {
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
	Queued    int    `json:"queued"`
	Admitted  uint64 `json:"admitted"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns a snapshot.
func (s *ImageStream) Stats() StreamStats {
	return StreamStats{
		Capacity:  s.capacity,
		Available: s.tickets.AvailableTicketCount().Get(),
		Queued:    s.queue.Len(),
		Admitted:  s.admitted.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *ImageStream) admit(img imageproxy.Proxy) {
	t := s.tickets.TryAcquire()
	if t == nil {
		s.dropped.Add(1)
		img.Close()
		return
	}
	s.admitted.Add(1)
	s.queue.Update(&ticketedImage{Forwarding: imageproxy.Forwarding{Inner: img}, ticket: t})
}

// ticketFilter is the distributor-facing side of a stream. It is closed only
// through the stream.
type ticketFilter struct {
	stream *ImageStream
}

func (f *ticketFilter) Update(img imageproxy.Proxy) { f.stream.admit(img) }
func (f *ticketFilter) IsClosed() bool              { return f.stream.IsClosed() }
func (f *ticketFilter) Close()                      { f.stream.Close() }

// ticketedImage closes its image, then releases the ticket paying for it.
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
