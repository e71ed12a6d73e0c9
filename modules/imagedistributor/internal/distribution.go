package internal

import (
	"context"
	"errors"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
)

// DistributeImage routes one image (implements Distributor.DistributeImage).
//
// Ordering guarantee: the global clock and every route's timestamp queue
// are updated by the capture thread in order, so once the clock shows a
// timestamp newer than img, each route has already requested img or never
// will. All requests older than img are resolved (delivered earlier or
// discarded here) before img is handed out.
//
// Routes are visited in registration order. Delivery is sequential on the
// calling goroutine so each route sees images in timestamp order.
func (d *distributor) DistributeImage(ctx context.Context, img imageproxy.Proxy) {
	d.received.Add(1)
	ts := img.Timestamp()

	if !d.awaitClock(ctx, ts) {
		d.interrupted.Add(1)
		img.Close()
		return
	}

	snapshot := *d.routes.Load()

	var receivers []*route
	var dead map[*route]struct{}
	for _, r := range snapshot {
		if r.dead() {
			if dead == nil {
				dead = make(map[*route]struct{})
			}
			dead[r] = struct{}{}
			continue
		}
		if d.consumeRequest(r, ts) {
			receivers = append(receivers, r)
		}
	}

	if len(dead) > 0 {
		d.removeRoutes(dead)
	}

	if len(receivers) == 0 {
		d.unrouted.Add(1)
		img.Close()
		return
	}

	d.distributed.Add(1)
	handles := imageproxy.Share(img, len(receivers))
	for i, r := range receivers {
		r.delivered.Add(1)
		r.output.Update(handles[i])
	}
}

// awaitClock blocks until the clock yields a timestamp newer than ts or is
// closed. Returns false if ctx is done first.
func (d *distributor) awaitClock(ctx context.Context, ts int64) bool {
	for {
		next, err := d.clock.GetNext(ctx)
		switch {
		case err == nil:
			if next > ts {
				return true
			}
		case errors.Is(err, bufferqueue.ErrClosed):
			return true
		default:
			return false
		}
	}
}

// consumeRequest drops requests older than ts and reports whether the next
// request is exactly ts, consuming it if so.
//
// A request older than the current image means the source skipped a frame
// the route asked for. It is logged and discarded so the route keeps
// flowing; the route's Skipped counter records it.
func (d *distributor) consumeRequest(r *route, ts int64) bool {
	for {
		requested, ok := r.timestamps.PeekNext()
		if !ok {
			return false
		}
		switch {
		case requested < ts:
			d.stale.Add(1)
			r.skipped.Add(1)
			d.logger.Error("requested image never received, likely a driver error",
				"route", r.id,
				"requested", requested,
				"received", ts,
			)
			r.timestamps.DiscardNext()
		case requested == ts:
			r.timestamps.DiscardNext()
			return true
		default:
			return false
		}
	}
}
