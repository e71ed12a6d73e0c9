package bus

import (
	"context"
	"errors"
)

var (
	ErrBusClosed          = errors.New("framebus: bus is closed")
	ErrSubscriberExists   = errors.New("framebus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	ErrNilChannel         = errors.New("framebus: nil channel provided")
	ErrReceiverClosed     = errors.New("framebus: receiver is closed")
)

// DropPolicy defines how the bus handles a subscriber that cannot keep up.
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

func (p DropPolicy) String() string {
	switch p {
	case DropNew:
		return "drop-new"
	case DropOld:
		return "drop-old"
	default:
		return "unknown"
	}
}

// Frame is an encoded preview frame.
type Frame struct {
	// Data is the encoded payload (JPEG for previews). Shared; read-only.
	Data []byte
	// ContentType of Data, e.g. "image/jpeg".
	ContentType string
	Width       int
	Height      int
	Seq         uint64
	// Timestamp is the sensor capture time in nanoseconds.
	Timestamp int64
}

// FrameReceiver gives access to the latest frame.
type FrameReceiver interface {
	// Receive returns the latest frame not yet received, blocking until one
	// is published. Returns ErrReceiverClosed after Close, or ctx.Err().
	Receive(ctx context.Context) (Frame, error)
	// TryReceive returns the latest frame, received or not.
	TryReceive() (Frame, bool)
	Close()
}

// SubscriberStats tracks metrics for one subscriber.
type SubscriberStats struct {
	Policy  string `json:"policy"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// BusStats contains global and per-subscriber metrics.
type BusStats struct {
	TotalPublished uint64                     `json:"total_published"`
	TotalSent      uint64                     `json:"total_sent"`
	TotalDropped   uint64                     `json:"total_dropped"`
	Subscribers    map[string]SubscriberStats `json:"subscribers"`
}

// Bus distributes frames to subscribers.
type Bus interface {
	// Subscribe registers ch with the DropNew policy.
	Subscribe(id string, ch chan<- Frame) error
	// SubscribeDropOld registers a latest-frame receiver.
	SubscribeDropOld(id string) (FrameReceiver, error)
	// Publish sends frame to every subscriber without blocking.
	Publish(frame Frame)
	// Unsubscribe removes a subscriber and closes its receiver, if any.
	Unsubscribe(id string) error
	// Subscribers returns the number of subscribers.
	Subscribers() int
	Stats() BusStats
	// Close closes every receiver. Channels are left to their owners.
	Close() error
}
