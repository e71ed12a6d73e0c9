package main

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/command"
	"github.com/e7canasta/orion-frameshare/modules/framebus"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/imagesaver"
	"github.com/e7canasta/orion-frameshare/modules/sharedreader"
)

// previewCommand is the repeating preview request: a stream bound to every
// capture, JPEG-encoded onto the preview bus while anyone is watching.
//
// It holds its stream's reserved capacity for as long as it runs; the ZSL
// ring gets whatever is left.
type previewCommand struct {
	reader   *sharedreader.Reader
	bus      framebus.Bus
	capacity int
	quality  int
	logger   *slog.Logger

	seq uint64 // Run goroutine only
}

// Run implements command.Command.
func (p *previewCommand) Run(ctx context.Context) error {
	stream, err := p.reader.CreatePreallocatedStream(ctx, p.capacity)
	if err != nil {
		return fmt.Errorf("%w: preview stream: %w", command.ErrResourceAcquisitionFailed, err)
	}
	defer stream.Close()

	timestamps := bufferqueue.New[int64](nil)
	defer timestamps.Close()

	if _, err := stream.Bind(ctx, timestamps); err != nil {
		return fmt.Errorf("%w: preview route: %w", command.ErrResourceAcquisitionFailed, err)
	}
	p.reader.Repeat(timestamps)
	p.logger.Info("preview started", "capacity", p.capacity)

	for {
		img, err := stream.GetNext(ctx)
		if err != nil {
			return err
		}
		if err := p.publish(img); err != nil {
			return err
		}
	}
}

// publish encodes img onto the bus and closes it. Frames are skipped while
// nobody is subscribed.
func (p *previewCommand) publish(img imageproxy.Proxy) error {
	defer img.Close()

	if p.bus.Subscribers() == 0 {
		return nil
	}

	var buf bytes.Buffer
	if img.Format() == imageproxy.FormatJPEG {
		buf.Write(img.Data())
	} else {
		decoded, err := imagesaver.Decode(img)
		if err != nil {
			return fmt.Errorf("preview: %w", err)
		}
		if err := jpeg.Encode(&buf, decoded, &jpeg.Options{Quality: p.quality}); err != nil {
			return fmt.Errorf("preview: encode: %w", err)
		}
	}

	p.seq++
	p.bus.Publish(framebus.Frame{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       img.Width(),
		Height:      img.Height(),
		Seq:         p.seq,
		Timestamp:   img.Timestamp(),
	})
	return nil
}
