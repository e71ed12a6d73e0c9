package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
)

const (
	minFPS = 0.1
	maxFPS = 240
)

var (
	ErrAlreadyStarted = errors.New("sensor: already started")
	ErrNotStarted     = errors.New("sensor: not started")
	ErrUnstable       = errors.New("sensor: frame rate unstable")
)

// Sink receives frames from a Source, on the source's goroutine.
type Sink interface {
	// OnCaptureStarted reports the timestamp of the next image.
	OnCaptureStarted(timestamp int64)
	// OnImageAvailable hands over ownership of img.
	OnImageAvailable(img imageproxy.Proxy)
}

// SinkFuncs adapts two functions to Sink. Nil fields are skipped; a nil
// ImageAvailable closes the image.
type SinkFuncs struct {
	CaptureStarted func(timestamp int64)
	ImageAvailable func(img imageproxy.Proxy)
}

func (f SinkFuncs) OnCaptureStarted(timestamp int64) {
	if f.CaptureStarted != nil {
		f.CaptureStarted(timestamp)
	}
}

func (f SinkFuncs) OnImageAvailable(img imageproxy.Proxy) {
	if f.ImageAvailable == nil {
		img.Close()
		return
	}
	f.ImageAvailable(img)
}

// Source is a running image producer.
//
// Implementations guarantee:
//   - Start returns immediately; frames arrive on a background goroutine
//   - Stop is idempotent
//   - Stats is safe from any goroutine
//   - SetTargetFPS applies without restart
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Stats() Stats
	SetTargetFPS(fps float64) error
	Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error)
}

// Config describes the frames a source produces.
type Config struct {
	// Name identifies the source in logs and stats.
	Name      string
	Width     int
	Height    int
	Format    imageproxy.Format
	TargetFPS float64
}

// FrameSize returns the payload size in bytes for one frame, or 0 when the
// format has no fixed size.
func (c Config) FrameSize() int {
	px := c.Width * c.Height
	switch c.Format {
	case imageproxy.FormatRGB:
		return px * 3
	case imageproxy.FormatYUV:
		return px * 3 / 2
	case imageproxy.FormatRAW:
		return px * 2
	default:
		return 0
	}
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("sensor: invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.FrameSize() == 0 {
		return fmt.Errorf("sensor: unsupported format %q", c.Format)
	}
	return validateFPS(c.TargetFPS)
}

func validateFPS(fps float64) error {
	if fps < minFPS || fps > maxFPS {
		return fmt.Errorf("sensor: invalid FPS %.2f (must be %.1f-%d)", fps, minFPS, maxFPS)
	}
	return nil
}

// Stats is a snapshot of source counters.
type Stats struct {
	Source       string  `json:"source"`
	FrameCount   uint64  `json:"frame_count"`
	FillErrors   uint64  `json:"fill_errors"`
	BytesEmitted uint64  `json:"bytes_emitted"`
	FPSTarget    float64 `json:"fps_target"`
	FPSReal      float64 `json:"fps_real"`
	LatencyMS    int64   `json:"latency_ms"`
	Resolution   string  `json:"resolution"`
	Format       string  `json:"format"`
	Running      bool    `json:"running"`
}

// WarmupStats summarises frame timing over a warm-up window.
type WarmupStats struct {
	FramesReceived int           `json:"frames_received"`
	Duration       time.Duration `json:"duration"`
	FPSMean        float64       `json:"fps_mean"`
	FPSStdDev      float64       `json:"fps_stddev"`
	FPSMin         float64       `json:"fps_min"`
	FPSMax         float64       `json:"fps_max"`
	JitterMean     float64       `json:"jitter_mean"` // seconds
	JitterStdDev   float64       `json:"jitter_stddev"`
	JitterMax      float64       `json:"jitter_max"`
	IsStable       bool          `json:"is_stable"`
}
