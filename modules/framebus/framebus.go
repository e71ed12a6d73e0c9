package framebus

import "github.com/e7canasta/orion-frameshare/modules/framebus/internal/bus"

// DropPolicy defines how the bus handles a subscriber that cannot keep up.
type DropPolicy = bus.DropPolicy

const (
	// DropNew drops incoming frames if the subscriber's channel is full.
	DropNew = bus.DropNew
	// DropOld replaces the held frame with the newest one.
	DropOld = bus.DropOld
)

// Frame is an encoded preview frame.
type Frame = bus.Frame

// FrameReceiver gives a DropOld subscriber access to the latest frame.
type FrameReceiver = bus.FrameReceiver

// SubscriberStats tracks per-subscriber distribution.
type SubscriberStats = bus.SubscriberStats

// BusStats is a snapshot of the whole bus.
type BusStats = bus.BusStats

// Bus distributes frames to subscribers.
type Bus = bus.Bus

var (
	ErrBusClosed          = bus.ErrBusClosed
	ErrSubscriberExists   = bus.ErrSubscriberExists
	ErrSubscriberNotFound = bus.ErrSubscriberNotFound
	ErrNilChannel         = bus.ErrNilChannel
	ErrReceiverClosed     = bus.ErrReceiverClosed
)

// New creates an empty bus.
func New() Bus {
	return bus.New()
}
