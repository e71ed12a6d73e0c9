package internal

// Stats is a snapshot of distributor activity.
type Stats struct {
	// ImagesReceived counts images passed to DistributeImage.
	ImagesReceived uint64

	// ImagesDistributed counts images delivered to at least one route.
	ImagesDistributed uint64

	// ImagesUnrouted counts images no route requested (closed immediately).
	ImagesUnrouted uint64

	// ImagesInterrupted counts images closed because the clock wait was
	// cancelled.
	ImagesInterrupted uint64

	// StaleRequests counts requested timestamps the source never produced.
	// Should be 0; non-zero points at a driver that skips frames.
	StaleRequests uint64

	// InboxPending is the number of images queued by OnImageAvailable and
	// not yet distributed.
	InboxPending int

	// Routes maps each live route to its counters.
	Routes map[RouteID]RouteStats
}

// RouteStats tracks one route.
type RouteStats struct {
	ID RouteID

	// Delivered counts images handed to the route's output queue.
	Delivered uint64

	// Skipped counts this route's requests discarded as stale.
	Skipped uint64
}
