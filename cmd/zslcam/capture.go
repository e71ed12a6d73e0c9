package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-frameshare/modules/async"
	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/command"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/imagesaver"
	"github.com/e7canasta/orion-frameshare/modules/sharedreader"
)

var errNoFrame = errors.New("capture: no frame available")

// captureCommand takes one zero-shutter-lag still.
//
// Algorithm:
//  1. Drain the ZSL ring: every buffered frame goes to a most-recent saver,
//     which keeps the newest one
//  2. If the ring was empty (just started, or preempted by a stream), bind
//     a one-frame stream on the high-priority lane and request the next
//     capture
//  3. Close the saver; the disk saver writes the newest frame, thumbnail
//     and sidecar asynchronously and reports through result
type captureCommand struct {
	reader    *sharedreader.Reader
	builder   imagesaver.Builder
	session   imagesaver.Session
	trigger   string
	sequence  uint64
	timeout   time.Duration
	thumbSize int
	frameTime time.Duration
	logger    *slog.Logger

	handle *command.Handle
	result *async.Future[imagesaver.Result]
}

func newCaptureCommand(p *pipeline, trigger string) *captureCommand {
	return &captureCommand{
		reader:    p.reader,
		builder:   p.saver,
		session:   imagesaver.NewSession(p.cfg.Capture.Session),
		trigger:   trigger,
		sequence:  p.captureSeq.Add(1),
		timeout:   p.cfg.Capture.Timeout,
		thumbSize: p.cfg.Capture.ThumbnailWidth,
		frameTime: time.Duration(float64(time.Second) / p.cfg.Sensor.FPS),
		logger:    p.logger.With("component", "capture", "trigger", trigger),
		result:    async.NewFuture[imagesaver.Result](),
	}
}

// Run implements command.Command.
func (c *captureCommand) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	saver := c.builder.Build(c.session, func(res imagesaver.Result, err error) {
		if err != nil {
			c.result.Fail(err)
			return
		}
		c.result.Set(res)
	})

	frames, err := c.collect(ctx)
	if err == nil && len(frames) == 0 {
		err = errNoFrame
	}
	if err != nil {
		for _, img := range frames {
			img.Close()
		}
		saver.Close()
		c.result.Fail(err)
		return err
	}

	// Thumbnail of the frame the saver will keep, taken before ownership
	// passes to the saver.
	newest := frames[len(frames)-1]
	thumb := thumbnail(newest, c.thumbSize)
	for _, img := range frames {
		saver.AddFullSizeImage(img, c.metadata(img))
	}
	if thumb != nil {
		saver.AddThumbnail(thumb)
	}
	saver.Close()

	res, err := c.result.Get(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("still captured",
		"timestamp", res.Timestamp,
		"image", res.ImagePath,
		"zsl_frames", len(frames))
	return nil
}

// Wait blocks until the capture is written or the command failed without
// producing one (for example when submitted during shutdown).
func (c *captureCommand) Wait(ctx context.Context) (imagesaver.Result, error) {
	select {
	case <-c.result.Done():
	case <-c.handle.Done():
		if err := c.handle.Err(); err != nil {
			return imagesaver.Result{}, err
		}
	case <-ctx.Done():
		return imagesaver.Result{}, ctx.Err()
	}
	return c.result.Get(ctx)
}

func (c *captureCommand) collect(ctx context.Context) ([]imageproxy.Proxy, error) {
	var frames []imageproxy.Proxy

	zsl := c.reader.ZSLStream()
	for {
		if _, ok := zsl.PeekNext(); !ok {
			break
		}
		img, err := zsl.GetNext(ctx)
		if err != nil {
			return frames, err
		}
		frames = append(frames, img)
	}
	if len(frames) > 0 {
		return frames, nil
	}

	c.logger.Debug("zsl ring empty, waiting for next frame")
	img, err := c.nextFrame(ctx)
	if err != nil {
		return nil, err
	}
	return []imageproxy.Proxy{img}, nil
}

func (c *captureCommand) nextFrame(ctx context.Context) (imageproxy.Proxy, error) {
	stream, err := c.reader.CreatePreallocatedStream(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", command.ErrResourceAcquisitionFailed, err)
	}
	defer stream.Close()

	timestamps := bufferqueue.New[int64](nil)
	defer timestamps.Close()

	if _, err := stream.Bind(ctx, timestamps); err != nil {
		return nil, fmt.Errorf("%w: %w", command.ErrResourceAcquisitionFailed, err)
	}
	c.reader.RequestNext(timestamps, 1)
	return stream.GetNext(ctx)
}

func (c *captureCommand) metadata(img imageproxy.Proxy) *async.Future[imagesaver.Metadata] {
	return async.Completed(imagesaver.Metadata{
		Timestamp: img.Timestamp(),
		Sequence:  c.sequence,
		Exposure:  c.frameTime,
		ISO:       100,
		Tags: map[string]string{
			"trigger": c.trigger,
			"format":  string(img.Format()),
		},
	}, nil)
}

// thumbnail downsamples a packed RGB frame to width pixels, nearest
// neighbour. Returns nil for other formats or width <= 0.
func thumbnail(img imageproxy.Proxy, width int) imageproxy.Proxy {
	if width <= 0 || img.Format() != imageproxy.FormatRGB || img.Width() <= 0 {
		return nil
	}
	srcW, srcH := img.Width(), img.Height()
	if width > srcW {
		width = srcW
	}
	height := max(1, srcH*width/srcW)

	src := img.Data()
	if len(src) < srcW*srcH*3 {
		return nil
	}
	dst := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		sy := y * srcH / height
		for x := 0; x < width; x++ {
			sx := x * srcW / width
			copy(dst[(y*width+x)*3:(y*width+x)*3+3], src[(sy*srcW+sx)*3:])
		}
	}
	return imageproxy.NewBuffer(img.Timestamp(), width, height, imageproxy.FormatRGB, dst, nil)
}
