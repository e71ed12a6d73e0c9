package ringbuffer

import "sync/atomic"

type counters struct {
	received atomic.Uint64
	stored   atomic.Uint64
	dropped  atomic.Uint64
	evicted  atomic.Uint64
}

// Stats is a point-in-time snapshot of ring buffer activity.
type Stats struct {
	Received  uint64 // images offered to Update
	Stored    uint64 // images admitted with a ticket
	Dropped   uint64 // images closed for lack of a ticket
	Evicted   uint64 // buffered images discarded (slot recycling, ceiling, drain)
	Buffered  int
	Available int // buffered + parent free tickets
}

// Stats returns a snapshot.
func (b *DynamicRingBuffer) Stats() Stats {
	return Stats{
		Received:  b.stats.received.Load(),
		Stored:    b.stats.stored.Load(),
		Dropped:   b.stats.dropped.Load(),
		Evicted:   b.stats.evicted.Load(),
		Buffered:  b.Len(),
		Available: b.available.Get(),
	}
}
