package internal

// Stats returns a snapshot (implements Distributor.Stats).
//
// Counters are read atomically and independently; the snapshot may be
// slightly inconsistent under load, which is fine for monitoring.
func (d *distributor) Stats() Stats {
	snapshot := *d.routes.Load()
	routes := make(map[RouteID]RouteStats, len(snapshot))
	for _, r := range snapshot {
		routes[r.id] = RouteStats{
			ID:        r.id,
			Delivered: r.delivered.Load(),
			Skipped:   r.skipped.Load(),
		}
	}

	return Stats{
		ImagesReceived:    d.received.Load(),
		ImagesDistributed: d.distributed.Load(),
		ImagesUnrouted:    d.unrouted.Load(),
		ImagesInterrupted: d.interrupted.Load(),
		StaleRequests:     d.stale.Load(),
		InboxPending:      d.inbox.Len(),
		Routes:            routes,
	}
}
