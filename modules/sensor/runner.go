package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/lrupool"
)

const (
	stopTimeout = 3 * time.Second
	// Pool budget in frames when no pool is supplied.
	defaultPooledFrames = 8
)

// Option configures a source.
type Option func(*runner)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *runner) { r.logger = logger }
}

// WithBufferPool draws payload buffers from pool.
func WithBufferPool(pool *lrupool.ByteBufferPool) Option {
	return func(r *runner) { r.buffers = pool }
}

// fillFunc writes the payload of frame seq into buf.
type fillFunc func(seq uint64, buf []byte) error

// runner is the frame loop shared by all sources.
//
// Goroutine topology: one loop goroutine per Start, ticking at the target
// rate; Sink callbacks run on it.
type runner struct {
	kind    string
	cfg     Config
	sink    Sink
	fill    fillFunc
	buffers *lrupool.ByteBufferPool
	logger  *slog.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   time.Time
	targetFPS float64
	retune    chan time.Duration

	frames      atomic.Uint64
	fillErrors  atomic.Uint64
	bytes       atomic.Uint64
	lastFrameAt atomic.Int64
	lastTS      int64 // loop goroutine only

	watchMu  sync.Mutex
	watchers map[chan int64]struct{}
}

func newRunner(kind string, cfg Config, sink Sink, fill fillFunc, opts []Option) (*runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("sensor: sink is required")
	}

	r := &runner{
		kind:      kind,
		cfg:       cfg,
		sink:      sink,
		fill:      fill,
		logger:    slog.Default(),
		targetFPS: cfg.TargetFPS,
		watchers:  make(map[chan int64]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.buffers == nil {
		r.buffers = lrupool.NewByteBufferPool(defaultPooledFrames * cfg.FrameSize())
	}
	if r.cfg.Name == "" {
		r.cfg.Name = kind
	}
	r.logger = r.logger.With("component", "sensor", "source", r.cfg.Name)
	return r, nil
}

// Start launches the frame loop. ctx bounds the loop's lifetime.
func (r *runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = time.Now()
	r.retune = make(chan time.Duration, 1)

	r.wg.Add(1)
	go r.loop(loopCtx, interval(r.targetFPS), r.retune)

	r.logger.Info("sensor started",
		"kind", r.kind,
		"resolution", fmt.Sprintf("%dx%d", r.cfg.Width, r.cfg.Height),
		"format", r.cfg.Format,
		"target_fps", r.targetFPS,
	)
	return nil
}

// Stop cancels the loop and waits up to stopTimeout for it. Idempotent.
func (r *runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		r.logger.Warn("sensor stop timeout exceeded, frame loop still running")
	}

	r.logger.Info("sensor stopped",
		"frames", r.frames.Load(),
		"uptime", time.Since(r.started),
	)
	r.cancel = nil
	r.retune = nil
	return nil
}

// SetTargetFPS changes the frame rate of a running or stopped source.
func (r *runner) SetTargetFPS(fps float64) error {
	if err := validateFPS(fps); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.targetFPS
	r.targetFPS = fps
	if r.retune != nil {
		// Keep only the latest request.
		select {
		case <-r.retune:
		default:
		}
		r.retune <- interval(fps)
	}

	r.logger.Info("sensor target FPS updated", "old_fps", old, "new_fps", fps)
	return nil
}

func (r *runner) loop(ctx context.Context, every time.Duration, retune <-chan time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-retune:
			ticker.Reset(d)
		case <-ticker.C:
			r.emit()
		}
	}
}

func (r *runner) emit() {
	seq := r.frames.Load()
	buf := r.buffers.Get(r.cfg.FrameSize())
	if err := r.fill(seq, buf); err != nil {
		r.buffers.Put(buf)
		r.fillErrors.Add(1)
		r.logger.Error("sensor frame fill failed", "seq", seq, "error", err)
		return
	}

	now := time.Now()
	ts := now.UnixNano()
	if ts <= r.lastTS {
		ts = r.lastTS + 1
	}
	r.lastTS = ts

	r.sink.OnCaptureStarted(ts)
	r.sink.OnImageAvailable(imageproxy.NewBuffer(ts, r.cfg.Width, r.cfg.Height, r.cfg.Format, buf, r.buffers.Put))

	r.frames.Add(1)
	r.bytes.Add(uint64(len(buf)))
	r.lastFrameAt.Store(now.UnixNano())
	r.notifyWatchers(ts)
}

func (r *runner) notifyWatchers(ts int64) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	for ch := range r.watchers {
		select {
		case ch <- ts:
		default:
		}
	}
}

func (r *runner) watch() (<-chan int64, func()) {
	ch := make(chan int64, 1024)
	r.watchMu.Lock()
	r.watchers[ch] = struct{}{}
	r.watchMu.Unlock()
	return ch, func() {
		r.watchMu.Lock()
		delete(r.watchers, ch)
		r.watchMu.Unlock()
	}
}

// Warmup observes frames for duration and returns timing statistics. An
// unstable stream returns the statistics together with ErrUnstable.
func (r *runner) Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error) {
	r.mu.RLock()
	running := r.cancel != nil
	r.mu.RUnlock()
	if !running {
		return nil, ErrNotStarted
	}

	frames, unwatch := r.watch()
	defer unwatch()

	start := time.Now()
	timestamps := make([]int64, 0, 128)

	timer := time.NewTimer(duration)
	defer timer.Stop()

collect:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			break collect
		case ts := <-frames:
			timestamps = append(timestamps, ts)
		}
	}

	if len(timestamps) < 2 {
		return nil, fmt.Errorf("sensor: not enough frames during warmup (got %d, need at least 2)", len(timestamps))
	}

	stats := CalculateFPSStats(timestamps, time.Since(start))
	r.logger.Info("sensor warmup complete",
		"frames", stats.FramesReceived,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"jitter_mean", fmt.Sprintf("%.4fs", stats.JitterMean),
		"stable", stats.IsStable,
	)

	if !stats.IsStable {
		return stats, fmt.Errorf("%w: mean=%.2f Hz stddev=%.2f jitter=%.4fs",
			ErrUnstable, stats.FPSMean, stats.FPSStdDev, stats.JitterMean)
	}
	return stats, nil
}

// Stats returns a snapshot of the counters.
func (r *runner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	frames := r.frames.Load()
	var fpsReal float64
	if !r.started.IsZero() {
		if uptime := time.Since(r.started).Seconds(); uptime > 0 {
			fpsReal = float64(frames) / uptime
		}
	}
	var latencyMS int64
	if last := r.lastFrameAt.Load(); last != 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	return Stats{
		Source:       r.cfg.Name,
		FrameCount:   frames,
		FillErrors:   r.fillErrors.Load(),
		BytesEmitted: r.bytes.Load(),
		FPSTarget:    r.targetFPS,
		FPSReal:      fpsReal,
		LatencyMS:    latencyMS,
		Resolution:   fmt.Sprintf("%dx%d", r.cfg.Width, r.cfg.Height),
		Format:       string(r.cfg.Format),
		Running:      r.cancel != nil,
	}
}

func interval(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}
