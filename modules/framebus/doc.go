// Package framebus fans preview frames out to live viewers.
//
// # Overview
//
// The preview loop publishes one encoded frame at a time; each viewer
// subscribes with a drop policy:
//
//	"Drop frames, never queue. Latency > Completeness."
//
//   - DropNew: the viewer owns a buffered channel; when it is full the
//     incoming frame is dropped (backpressure on the viewer only)
//   - DropOld: the viewer holds only the latest frame; publishing replaces
//     it and never drops
//
// # Usage
//
//	bus := framebus.New()
//	defer bus.Close()
//
//	// Recorder that can fall behind
//	ch := make(chan framebus.Frame, 4)
//	_ = bus.Subscribe("recorder", ch)
//
//	// Websocket viewer that always wants the newest frame
//	rx, _ := bus.SubscribeDropOld("viewer-42")
//	defer bus.Unsubscribe("viewer-42")
//	frame, err := rx.Receive(ctx)
//
// # Non-Blocking Semantics
//
// Publish never blocks, however slow the viewers are, and is a no-op after
// Close. Frames are shared between viewers: treat Data as read-only.
//
// # Statistics
//
// Stats returns a snapshot of published, sent and dropped counts, globally
// and per subscriber. For every DropNew subscriber, sent + dropped equals
// the frames published while it was subscribed.
package framebus
