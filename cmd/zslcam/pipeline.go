package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/e7canasta/orion-frameshare/internal/config"
	"github.com/e7canasta/orion-frameshare/modules/capturelog"
	"github.com/e7canasta/orion-frameshare/modules/command"
	"github.com/e7canasta/orion-frameshare/modules/framebus"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/imagesaver"
	"github.com/e7canasta/orion-frameshare/modules/lrupool"
	"github.com/e7canasta/orion-frameshare/modules/sensor"
	"github.com/e7canasta/orion-frameshare/modules/sharedreader"
	"github.com/e7canasta/orion-frameshare/modules/telemetry"
)

// pipeline owns every component of the daemon.
//
// Data flow:
//
//	sensor ──► sharedreader ──► ZSL ring ───────► capture command ──► DiskSaver ──► capturelog
//	                       └──► preview stream ─► preview command ──► framebus ──► viewers
//
// Lifecycle: newPipeline() → Start() → Stop(). Stop releases in reverse
// dependency order: commands first, then the sensor, then the reader.
type pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	buffers  *lrupool.ByteBufferPool
	reader   *sharedreader.Reader
	source   sensor.Source
	closer   io.Closer // replay recording, nil for simulated
	executor *command.Executor
	saver    *imagesaver.DiskSaver
	captures *capturelog.Log // nil when disabled
	preview  framebus.Bus

	previewRun *command.ResettingRunnable
	scheduler  *cron.Cron
	tracing    telemetry.ShutdownFunc

	startedAt  time.Time
	captureSeq atomic.Uint64
	stopOnce   sync.Once
	stopErr    error
}

func newPipeline(cfg *config.Config, logger *slog.Logger) (_ *pipeline, err error) {
	p := &pipeline{
		cfg:     cfg,
		logger:  logger,
		buffers: lrupool.NewByteBufferPool(cfg.BufferPool.MaxBytes),
		preview: framebus.New(),
	}
	defer func() {
		if err != nil {
			p.release()
		}
	}()

	p.tracing, err = telemetry.SetupTracing(context.Background(), telemetry.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: "zslcam",
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, err
	}

	p.reader, err = sharedreader.New(sharedreader.Config{
		MaxImages:   cfg.Reader.MaxImages,
		Reserved:    cfg.Reader.Reserved,
		ZSLRingSize: cfg.Reader.ZSLRingSize,
	}, sharedreader.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if err := p.openSource(); err != nil {
		return nil, err
	}

	if cfg.CaptureLog.Path != "" {
		p.captures, err = capturelog.Open(cfg.CaptureLog.Path)
		if err != nil {
			return nil, err
		}
	}

	saverOpts := []imagesaver.DiskOption{
		imagesaver.WithEncoding(cfg.Capture.Encoding),
		imagesaver.WithJPEGQuality(cfg.Capture.JPEGQuality),
		imagesaver.WithMetadataTimeout(cfg.Capture.MetadataTimeout),
		imagesaver.WithLogger(logger),
	}
	if p.captures != nil {
		saverOpts = append(saverOpts, imagesaver.WithRecorder(p.captures))
	}
	p.saver, err = imagesaver.NewDiskSaver(cfg.Capture.OutputDir, saverOpts...)
	if err != nil {
		return nil, err
	}

	p.executor = command.NewExecutor(command.WithLogger(logger))

	if cfg.Preview.Enabled {
		p.previewRun = command.NewResettingRunnable(p.executor, &previewCommand{
			reader:   p.reader,
			bus:      p.preview,
			capacity: cfg.Reader.StreamCapacity,
			quality:  cfg.Preview.JPEGQuality,
			logger:   logger.With("component", "preview"),
		})
	}

	if cfg.Capture.Schedule != "" {
		p.scheduler = cron.New(cron.WithParser(config.CronParser))
		if _, err := p.scheduler.AddFunc(cfg.Capture.Schedule, func() { p.Capture("schedule") }); err != nil {
			return nil, fmt.Errorf("capture schedule: %w", err)
		}
	}

	return p, nil
}

func (p *pipeline) openSource() error {
	sc := sensor.Config{
		Name:      p.cfg.Sensor.Name,
		Width:     p.cfg.Sensor.Width,
		Height:    p.cfg.Sensor.Height,
		Format:    imageproxy.Format(p.cfg.Sensor.Format),
		TargetFPS: p.cfg.Sensor.FPS,
	}
	opts := []sensor.Option{sensor.WithLogger(p.logger), sensor.WithBufferPool(p.buffers)}

	switch p.cfg.Sensor.Source {
	case "replay":
		rp, err := sensor.NewReplay(p.cfg.Sensor.ReplayPath, sc, p.reader, opts...)
		if err != nil {
			return err
		}
		p.source, p.closer = rp, rp
	default:
		sim, err := sensor.NewSimulated(sc, p.reader, opts...)
		if err != nil {
			return err
		}
		p.source = sim
	}
	return nil
}

// Start begins distribution, starts the sensor, waits for warm-up, then
// starts the preview and the capture schedule.
func (p *pipeline) Start(ctx context.Context) error {
	p.startedAt = time.Now()

	if err := p.reader.Start(ctx); err != nil {
		return err
	}
	if err := p.source.Start(ctx); err != nil {
		return err
	}

	if d := p.cfg.Sensor.Warmup; d > 0 {
		if _, err := p.source.Warmup(ctx, d); err != nil {
			if !errors.Is(err, sensor.ErrUnstable) {
				return fmt.Errorf("sensor warmup: %w", err)
			}
			p.logger.Warn("sensor frame rate unstable, continuing", "error", err)
		}
	}

	if p.previewRun != nil {
		p.previewRun.Run()
	}
	if p.scheduler != nil {
		p.scheduler.Start()
		p.logger.Info("capture schedule started", "schedule", p.cfg.Capture.Schedule)
	}

	p.logger.Info("pipeline started",
		"source", p.cfg.Sensor.Source,
		"resolution", fmt.Sprintf("%dx%d", p.cfg.Sensor.Width, p.cfg.Sensor.Height),
		"fps", p.cfg.Sensor.FPS,
		"max_images", p.cfg.Reader.MaxImages)
	return nil
}

// Capture submits a still capture. Wait on the returned command's result
// for the outcome.
func (p *pipeline) Capture(trigger string) *captureCommand {
	c := newCaptureCommand(p, trigger)
	c.handle = p.executor.Execute(c)
	return c
}

// RestartPreview cancels the running preview, if any, and starts a new one.
func (p *pipeline) RestartPreview() bool {
	if p.previewRun == nil {
		return false
	}
	p.previewRun.Run()
	return true
}

// Stop is idempotent.
func (p *pipeline) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		if p.scheduler != nil {
			select {
			case <-p.scheduler.Stop().Done():
			case <-ctx.Done():
			}
		}
		p.stopErr = p.release()
		if p.tracing != nil {
			p.stopErr = errors.Join(p.stopErr, p.tracing(ctx))
		}
		p.logger.Info("pipeline stopped")
	})
	return p.stopErr
}

// release closes whatever has been created, in reverse dependency order.
func (p *pipeline) release() error {
	var errs []error
	if p.executor != nil {
		p.executor.Close()
	}
	if p.source != nil {
		errs = append(errs, p.source.Stop())
	}
	if p.reader != nil {
		errs = append(errs, p.reader.Close())
	}
	if p.saver != nil {
		p.saver.Close()
	}
	if p.preview != nil {
		errs = append(errs, p.preview.Close())
	}
	if p.captures != nil {
		errs = append(errs, p.captures.Close())
	}
	if p.closer != nil {
		errs = append(errs, p.closer.Close())
	}
	return errors.Join(errs...)
}

// sources feeds the metrics collector and the stats endpoint.
func (p *pipeline) sources() telemetry.Sources {
	return telemetry.Sources{
		Reader:   p.reader.Stats,
		Executor: p.executor.Stats,
		Buffers:  p.buffers.Stats,
		Saver:    p.saver.Stats,
		Sensor:   p.source.Stats,
		Preview:  p.preview.Stats,
	}
}
