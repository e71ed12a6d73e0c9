// Package internal implements the image distributor.
//
// Clients MUST use the public API in the parent package.
package internal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
)

// Option configures a distributor.
type Option func(*distributor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *distributor) { d.logger = logger }
}

// distributor is the concrete implementation of imagedistributor.Distributor.
//
// Goroutine topology:
//   - 1 fixed: callbackLoop (spawned by Start, stopped by Stop)
//   - N external: route consumers (not managed here)
//
// Thread-safety: all public methods safe for concurrent use.
type distributor struct {
	logger *slog.Logger

	// --- Ordering clock ---

	clock bufferqueue.Reader[int64]

	// --- Inbox (hardware callback → callbackLoop) ---

	inbox *bufferqueue.Queue[imageproxy.Proxy]

	// --- Route table (copy-on-write) ---

	routesMu sync.Mutex                // serializes writers
	routes   atomic.Pointer[[]*route] // immutable snapshot

	// --- Stats ---

	received    atomic.Uint64
	distributed atomic.Uint64
	unrouted    atomic.Uint64
	stale       atomic.Uint64
	interrupted atomic.Uint64

	// --- Lifecycle ---

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
	stopped   bool
}

// NewDistributor creates a distributor (called by the public New).
func NewDistributor(clock bufferqueue.Reader[int64], opts ...Option) *distributor {
	d := &distributor{
		logger: slog.Default(),
		clock:  clock,
		inbox:  bufferqueue.New(func(img imageproxy.Proxy) { img.Close() }),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "imagedistributor")
	empty := []*route{}
	d.routes.Store(&empty)
	return d
}

// Start spawns callbackLoop.
//
// The loop runs until ctx is done or Stop is called. A stopped distributor
// cannot be restarted.
func (d *distributor) Start(ctx context.Context) error {
	d.startedMu.Lock()
	defer d.startedMu.Unlock()

	if d.stopped {
		return errors.New("imagedistributor: already stopped")
	}
	if d.started {
		return errors.New("imagedistributor: already started")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.started = true

	d.wg.Add(1)
	go d.callbackLoop()

	d.logger.Debug("callback loop started")
	return nil
}

// Stop cancels callbackLoop, waits for it, then closes the inbox so queued
// and late images are closed.
//
// Idempotent.
func (d *distributor) Stop() error {
	d.startedMu.Lock()
	if d.stopped {
		d.startedMu.Unlock()
		return nil
	}
	d.stopped = true
	started := d.started
	d.startedMu.Unlock()

	if started {
		d.cancel()
		d.wg.Wait()
	}
	d.inbox.Close()

	d.logger.Debug("callback loop stopped")
	return nil
}

// callbackLoop distributes inbox images in arrival order.
//
// Exits on ctx.Done() or inbox close.
func (d *distributor) callbackLoop() {
	defer d.wg.Done()

	for {
		img, err := d.inbox.GetNext(d.ctx)
		if err != nil {
			return
		}
		d.DistributeImage(d.ctx, img)
	}
}
