package sharedreader

import (
	"github.com/e7canasta/orion-frameshare/modules/imagedistributor"
	"github.com/e7canasta/orion-frameshare/modules/ringbuffer"
)

// Stats is a snapshot of the shared reader.
type Stats struct {
	MaxImages             int                    `json:"max_images"`
	RootCapacity          int                    `json:"root_capacity"`
	RootAvailable         int                    `json:"root_available"`
	HighPriorityAvailable int                    `json:"high_priority_available"`
	HighPriorityWaiters   int                    `json:"high_priority_waiters"`
	PendingRequests       int                    `json:"pending_requests"`
	ZSL                   ringbuffer.Stats       `json:"zsl"`
	Distributor           imagedistributor.Stats `json:"distributor"`
	Streams               []StreamStats          `json:"streams"`
}

// Stats returns a snapshot.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	streams := make([]StreamStats, 0, len(r.streams))
	for s := range r.streams {
		streams = append(streams, s.Stats())
	}
	r.mu.Unlock()

	return Stats{
		MaxImages:             r.cfg.MaxImages,
		RootCapacity:          r.root.Capacity(),
		RootAvailable:         r.root.AvailableTicketCount().Get(),
		HighPriorityAvailable: r.prioritizer.HighPriority().AvailableTicketCount().Get(),
		HighPriorityWaiters:   r.prioritizer.HighPriorityWaiters(),
		PendingRequests:       r.requests.pending(),
		ZSL:                   r.zsl.Stats(),
		Distributor:           r.distributor.Stats(),
		Streams:               streams,
	}
}
