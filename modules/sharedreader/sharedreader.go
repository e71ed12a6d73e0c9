// Package sharedreader shares one sensor's bounded image budget between a
// zero-shutter-lag ring buffer and any number of bounded capture streams.
//
// Topology:
//
//	sensor ──OnCaptureStarted──► request fan-out ──► route timestamp queues
//	       │                                    └──► global clock
//	       └─OnImageAvailable──► distributor ──► ZSL ring buffer (low priority)
//	                                         └──► ImageStreams  (high priority)
//
//	FinitePool(maxImages - reserved)
//	  └─ Prioritizer
//	       ├─ low:  DynamicRingBuffer (ZSL)
//	       └─ high: ReservablePool per ImageStream
//
// The ZSL ring fills every spare ticket with recent frames. A stream
// reserving capacity on the high-priority lane flushes the ring first, so a
// capture can always claim frames the ring was merely caching.
package sharedreader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/imagedistributor"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/ringbuffer"
	"github.com/e7canasta/orion-frameshare/modules/ticketpool"
)

const defaultReserved = 2

// Config sizes a Reader.
type Config struct {
	// MaxImages is the number of images the sensor can have open at once.
	MaxImages int
	// Reserved images are never handed out. Default 2 (one being written
	// by the sensor, one in flight to the distributor).
	Reserved int
	// ZSLRingSize caps the ZSL ring. 0 means bounded only by tickets.
	ZSLRingSize int
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

// Reader is the composition root of the shared image pipeline. It
// implements sensor.Sink.
//
// Lifecycle: New() → Start() → OnCaptureStarted/OnImageAvailable → Close().
//
// Thread-safety: all methods safe for concurrent use, except that
// OnCaptureStarted and OnImageAvailable must be called from the sensor's
// single callback goroutine, in capture order.
type Reader struct {
	cfg    Config
	logger *slog.Logger

	root        *ticketpool.FinitePool
	prioritizer *ticketpool.Prioritizer
	zsl         *ringbuffer.DynamicRingBuffer
	clock       *bufferqueue.Queue[int64]
	distributor imagedistributor.Distributor
	requests    *requestFanout

	mu      sync.Mutex
	streams map[*ImageStream]struct{}
	closed  bool
}

// New wires the pools, the ZSL ring and the distributor.
func New(cfg Config, opts ...Option) (*Reader, error) {
	if cfg.Reserved == 0 {
		cfg.Reserved = defaultReserved
	}
	if cfg.Reserved < 0 || cfg.MaxImages <= cfg.Reserved {
		return nil, fmt.Errorf("sharedreader: max images %d must exceed reserved %d", cfg.MaxImages, cfg.Reserved)
	}
	if cfg.ZSLRingSize < 0 {
		return nil, fmt.Errorf("sharedreader: invalid ZSL ring size %d", cfg.ZSLRingSize)
	}

	r := &Reader{
		cfg:     cfg,
		logger:  slog.Default(),
		streams: make(map[*ImageStream]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "sharedreader")

	r.root = ticketpool.NewFinitePool(cfg.MaxImages - cfg.Reserved)
	r.prioritizer = ticketpool.NewPrioritizer(r.root)

	ringOpts := []ringbuffer.Option{ringbuffer.WithLogger(r.logger)}
	if cfg.ZSLRingSize > 0 {
		ringOpts = append(ringOpts, ringbuffer.WithMaxSize(cfg.ZSLRingSize))
	}
	r.zsl = ringbuffer.New(r.prioritizer.LowPriority(), ringOpts...)
	r.prioritizer.SetLowPriorityHolder(r.zsl)

	r.clock = bufferqueue.New[int64](nil)
	r.distributor = imagedistributor.New(r.clock, imagedistributor.WithLogger(r.logger))
	r.requests = newRequestFanout()

	// The ZSL ring wants every frame.
	zslTimestamps := bufferqueue.New[int64](nil)
	r.requests.repeat(zslTimestamps)
	r.distributor.AddRoute(zslTimestamps, r.zsl)

	return r, nil
}

// Start launches the distributor's callback loop.
func (r *Reader) Start(ctx context.Context) error {
	return r.distributor.Start(ctx)
}

// OnCaptureStarted publishes the timestamp of the next image: first to every
// route that requested it, then to the global clock.
func (r *Reader) OnCaptureStarted(timestamp int64) {
	r.requests.publish(timestamp)
	r.clock.Update(timestamp)
}

// OnImageAvailable hands an image to the distributor.
func (r *Reader) OnImageAvailable(img imageproxy.Proxy) {
	r.distributor.OnImageAvailable(img)
}

// ZSLStream is the ring of recent frames, oldest first.
func (r *Reader) ZSLStream() *ringbuffer.DynamicRingBuffer { return r.zsl }

// Repeat requests every future frame on q until q is closed. The reader
// closes q when it closes.
func (r *Reader) Repeat(q bufferqueue.Controller[int64]) {
	r.requests.repeat(q)
}

// RequestNext requests the next n frames on q.
func (r *Reader) RequestNext(q bufferqueue.Controller[int64], n int) {
	r.requests.next(q, n)
}

// HighPriority is the pool streams reserve from. Exposed for monitoring.
func (r *Reader) HighPriority() ticketpool.Pool { return r.prioritizer.HighPriority() }

// Close stops distribution and releases every image and ticket.
// Idempotent.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	streams := make([]*ImageStream, 0, len(r.streams))
	for s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.Unlock()

	r.requests.close()
	r.clock.Close()
	err := r.distributor.Stop()

	for _, s := range streams {
		s.Close()
	}
	r.zsl.Close()
	r.root.Close()

	r.logger.Info("shared reader closed", "streams", len(streams))
	return err
}

func (r *Reader) register(s *ImageStream) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.streams[s] = struct{}{}
	return true
}

func (r *Reader) unregister(s *ImageStream) {
	r.mu.Lock()
	delete(r.streams, s)
	r.mu.Unlock()
}
