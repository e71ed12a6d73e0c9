package internal

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
)

// RouteID identifies a route.
type RouteID = uuid.UUID

// route pairs a queue of requested timestamps with the queue receiving the
// matching images.
//
// The timestamp queue is only consumed by the distribution goroutine; the
// counters are read by Stats.
type route struct {
	id         RouteID
	timestamps bufferqueue.Reader[int64]
	output     bufferqueue.Controller[imageproxy.Proxy]

	delivered atomic.Uint64
	skipped   atomic.Uint64
}

func (r *route) dead() bool {
	return r.timestamps.IsClosed() || r.output.IsClosed()
}

// AddRoute registers a route (implements Distributor.AddRoute).
func (d *distributor) AddRoute(timestamps bufferqueue.Reader[int64], output bufferqueue.Controller[imageproxy.Proxy]) RouteID {
	r := &route{
		id:         uuid.New(),
		timestamps: timestamps,
		output:     output,
	}

	d.routesMu.Lock()
	old := *d.routes.Load()
	next := make([]*route, len(old), len(old)+1)
	copy(next, old)
	next = append(next, r)
	d.routes.Store(&next)
	d.routesMu.Unlock()

	d.logger.Debug("route added", "route", r.id, "routes", len(next))
	return r.id
}

// removeRoutes publishes a table without dead.
func (d *distributor) removeRoutes(dead map[*route]struct{}) {
	d.routesMu.Lock()
	old := *d.routes.Load()
	next := make([]*route, 0, len(old))
	for _, r := range old {
		if _, ok := dead[r]; !ok {
			next = append(next, r)
		}
	}
	d.routes.Store(&next)
	d.routesMu.Unlock()

	for r := range dead {
		d.logger.Debug("route removed", "route", r.id, "delivered", r.delivered.Load())
	}
}
