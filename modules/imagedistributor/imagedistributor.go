// Package imagedistributor fans a single ordered image stream out to any
// number of independently paced routes.
//
// Each route pairs a queue of requested timestamps with an output image
// queue. An arriving image is delivered to every route whose next request
// matches its timestamp, wrapped so that the payload is released only after
// every receiving route has closed its copy.
//
// Design:
//   - Ordering clock: distribution of image T waits until the global
//     timestamp queue has produced a timestamp newer than T (or closed), so
//     every route has had the chance to request T
//   - Route table is copy-on-write; distribution iterates a snapshot
//   - Requests older than the current image can never be satisfied: they
//     are discarded and logged as a driver anomaly
//   - Dead routes (either queue closed) are pruned lazily
//   - Images nobody wants are closed immediately
package imagedistributor

import (
	"context"
	"log/slog"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/imagedistributor/internal"
)

// RouteID identifies a registered route.
type RouteID = internal.RouteID

// Stats is re-exported from the internal package.
// See internal/types.go for field documentation.
type Stats = internal.Stats

// RouteStats is re-exported from the internal package.
type RouteStats = internal.RouteStats

// Distributor is the public interface for image distribution.
//
// Lifecycle: New() → Start() → OnImageAvailable()/AddRoute() → Stop().
// DistributeImage may also be called directly without Start, from a single
// goroutine, when the caller owns the hardware callback thread.
//
// Thread-safety: all methods safe for concurrent use, except that
// DistributeImage calls must not overlap (images are strictly ordered).
type Distributor interface {
	// Start spawns the callback loop which drains images queued by
	// OnImageAvailable, in arrival order, into DistributeImage.
	// Returns an error if already started or stopped.
	Start(ctx context.Context) error

	// Stop cancels the callback loop and waits for it to exit. Images still
	// queued are closed. Idempotent.
	Stop() error

	// OnImageAvailable queues an image from the hardware callback. Never
	// blocks and never overwrites: every image is either distributed or
	// closed.
	OnImageAvailable(img imageproxy.Proxy)

	// DistributeImage routes one image.
	//
	// Algorithm:
	//  1. Wait for a global timestamp newer than the image (or clock closed).
	//     If ctx is done first, close the image and return
	//  2. Snapshot the route table
	//  3. Per route: discard (and log) stale requests; consume a matching
	//     request and mark the route as a receiver
	//  4. Remove routes whose timestamp or output queue is closed
	//  5. Close the image if nobody wants it, else hand each receiver its
	//     own single-close handle over a shared reference count
	DistributeImage(ctx context.Context, img imageproxy.Proxy)

	// AddRoute registers a route. timestamps must be updated for an image
	// before the global clock reports the image after it. Closing either
	// queue removes the route.
	AddRoute(timestamps bufferqueue.Reader[int64], output bufferqueue.Controller[imageproxy.Proxy]) RouteID

	// Stats returns a snapshot of distribution counters.
	Stats() Stats
}

// Option configures a Distributor.
type Option = internal.Option

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return internal.WithLogger(logger)
}

// New creates a Distributor synchronized on clock, the queue receiving the
// timestamp of every capture the source starts.
func New(clock bufferqueue.Reader[int64], opts ...Option) Distributor {
	return internal.NewDistributor(clock, opts...)
}
