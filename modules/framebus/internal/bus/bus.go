package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

type subscriber struct {
	policy  DropPolicy
	sent    atomic.Uint64
	dropped atomic.Uint64

	ch     chan<- Frame        // DropNew
	latest *latestFrameHolder // DropOld
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	totalPublished atomic.Uint64
}

// New creates an empty bus.
func New() Bus {
	return &bus{subscribers: make(map[string]*subscriber)}
}

func (b *bus) add(id string, s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = s
	return nil
}

func (b *bus) Subscribe(id string, ch chan<- Frame) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber{policy: DropNew, ch: ch})
}

func (b *bus) SubscribeDropOld(id string) (FrameReceiver, error) {
	s := &subscriber{policy: DropOld, latest: newLatestFrameHolder()}
	if err := b.add(id, s); err != nil {
		return nil, err
	}
	return s.latest, nil
}

// Publish never blocks and is a no-op on a closed bus.
func (b *bus) Publish(frame Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.totalPublished.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- frame:
				s.sent.Add(1)
			default:
				s.dropped.Add(1)
			}
		case DropOld:
			if s.latest.set(frame) {
				s.dropped.Add(1) // replaced a frame nobody received
			}
			s.sent.Add(1)
		}
	}
}

func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

func (b *bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats is consistent per subscriber; concurrent publishes may land between
// subscribers.
func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := BusStats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		st := SubscriberStats{
			Policy:  s.policy.String(),
			Sent:    s.sent.Load(),
			Dropped: s.dropped.Load(),
		}
		result.TotalSent += st.Sent
		result.TotalDropped += st.Dropped
		result.Subscribers[id] = st
	}
	return result
}

// Close is idempotent. Stats keeps working afterwards.
func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	return nil
}

// latestFrameHolder implements FrameReceiver for the DropOld policy.
type latestFrameHolder struct {
	mu     sync.Mutex
	frame  Frame
	has    bool
	unread bool
	closed bool
	signal chan struct{} // closed and replaced on every set/close
}

func newLatestFrameHolder() *latestFrameHolder {
	return &latestFrameHolder{signal: make(chan struct{})}
}

// set stores frame and reports whether it replaced an unread one.
func (h *latestFrameHolder) set(frame Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	replaced := h.unread
	h.frame, h.has, h.unread = frame, true, true
	close(h.signal)
	h.signal = make(chan struct{})
	return replaced
}

func (h *latestFrameHolder) Receive(ctx context.Context) (Frame, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return Frame{}, ErrReceiverClosed
		}
		if h.unread {
			h.unread = false
			f := h.frame
			h.mu.Unlock()
			return f, nil
		}
		signal := h.signal
		h.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

func (h *latestFrameHolder) TryReceive() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.has {
		return Frame{}, false
	}
	h.unread = false
	return h.frame, true
}

func (h *latestFrameHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.signal)
}
