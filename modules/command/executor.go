package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/e7canasta/orion-frameshare/modules/async"
)

const tracerName = "github.com/e7canasta/orion-frameshare/modules/command"

// Executor runs commands on goroutines tied to a cancellable pool.
//
// The pool is created lazily on the first Execute, and again after each
// Flush. Flush cancels everything in flight and leaves the executor usable;
// Close does the same and disables it for good.
//
// Errors returned by commands never escape the executor: expected
// outcomes (see IsExpected) are logged at debug level, anything else,
// including panics, at error level.
//
// Thread-safety: all methods safe for concurrent use. Commands must not
// call Flush or Close on their own executor.
type Executor struct {
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	pool   *workerPool
	closed bool

	stats counters
}

// workerPool is one generation of running commands.
type workerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithTracer sets the tracer. Defaults to the global otel tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

// NewExecutor creates an executor. No goroutines start until Execute.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.logger = e.logger.With("component", "command-executor")
	return e
}

// Execute submits cmd and returns its handle. After Close it returns an
// already-completed handle with ErrExecutorClosed and starts nothing.
func (e *Executor) Execute(cmd Command) *Handle {
	id := uuid.New()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.stats.rejected.Add(1)
		return completedHandle(id, ErrExecutorClosed)
	}
	if e.pool == nil {
		ctx, cancel := context.WithCancel(context.Background())
		e.pool = &workerPool{ctx: ctx, cancel: cancel}
	}
	pool := e.pool
	ctx, cancel := context.WithCancel(pool.ctx)
	pool.wg.Add(1)
	e.mu.Unlock()

	h := &Handle{ID: id, cancel: cancel, result: async.NewFuture[struct{}]()}
	e.stats.submitted.Add(1)
	go e.run(ctx, pool, cmd, h)
	return h
}

func (e *Executor) run(ctx context.Context, pool *workerPool, cmd Command, h *Handle) {
	defer pool.wg.Done()
	defer h.cancel()

	if err := e.traced(ctx, cmd, h.ID); err != nil {
		h.result.Fail(err)
		return
	}
	h.result.Set(struct{}{})
}

// traced runs cmd inside a span and triages its error.
func (e *Executor) traced(ctx context.Context, cmd Command, id uuid.UUID) error {
	name := fmt.Sprintf("%T", cmd)
	ctx, span := e.tracer.Start(ctx, "camera.command",
		trace.WithAttributes(
			attribute.String("command.id", id.String()),
			attribute.String("command.type", name),
		),
	)
	defer span.End()

	e.stats.running.Add(1)
	err := e.invoke(ctx, cmd)
	e.stats.running.Add(-1)

	switch {
	case err == nil:
		e.stats.succeeded.Add(1)
		span.SetStatus(codes.Ok, "")
	case IsExpected(err):
		e.stats.expected.Add(1)
		e.logger.Debug("command ended by shutdown or contention",
			"command", name, "id", id, "error", err)
	default:
		e.stats.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("command failed",
			"command", name, "id", id, "error", err)
	}
	return err
}

// invoke runs cmd, converting a panic into an ErrPanic error.
func (e *Executor) invoke(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.panicked.Add(1)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return cmd.Run(ctx)
}

// Flush cancels every in-flight command and waits for them to return. The
// next Execute starts a fresh pool.
func (e *Executor) Flush() {
	e.mu.Lock()
	pool := e.pool
	e.pool = nil
	e.mu.Unlock()

	e.drain(pool)
}

// Close flushes and permanently disables the executor. Idempotent.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	pool := e.pool
	e.pool = nil
	e.mu.Unlock()

	e.drain(pool)
}

func (e *Executor) drain(pool *workerPool) {
	if pool == nil {
		return
	}
	pool.cancel()
	pool.wg.Wait()
	e.logger.Debug("worker pool drained")
}

// Handle tracks one submitted command.
type Handle struct {
	ID uuid.UUID

	cancel context.CancelFunc
	result *async.Future[struct{}]
}

func completedHandle(id uuid.UUID, err error) *Handle {
	return &Handle{
		ID:     id,
		cancel: func() {},
		result: async.Completed(struct{}{}, err),
	}
}

// Cancel requests the command to stop. Best effort; does not wait.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed when the command has returned.
func (h *Handle) Done() <-chan struct{} { return h.result.Done() }

// Wait blocks until the command returns, then returns its error. Returns
// ctx.Err() if ctx is done first.
func (h *Handle) Wait(ctx context.Context) error {
	_, err := h.result.Get(ctx)
	return err
}

// Err returns the command's error, or nil if it succeeded or is still
// running.
func (h *Handle) Err() error {
	if !h.result.IsDone() {
		return nil
	}
	_, err := h.result.Get(context.Background())
	return err
}

type counters struct {
	submitted atomic.Uint64
	rejected  atomic.Uint64
	succeeded atomic.Uint64
	expected  atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	running   atomic.Int64
}

// Stats is a snapshot of executor activity.
type Stats struct {
	Submitted uint64 // commands started
	Rejected  uint64 // submitted after Close
	Succeeded uint64
	Expected  uint64 // ended by cancellation, closed session, no capacity...
	Failed    uint64 // unexpected errors, including panics
	Panicked  uint64
	Running   int64
}

// Stats returns a snapshot.
func (e *Executor) Stats() Stats {
	return Stats{
		Submitted: e.stats.submitted.Load(),
		Rejected:  e.stats.rejected.Load(),
		Succeeded: e.stats.succeeded.Load(),
		Expected:  e.stats.expected.Load(),
		Failed:    e.stats.failed.Load(),
		Panicked:  e.stats.panicked.Load(),
		Running:   e.stats.running.Load(),
	}
}
