package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// CronParser accepts standard five-field specs and descriptors such as
// "@every 30s".
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: log.level %q must be debug, info, warn or error", cfg.Log.Level))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("config: log.format %q must be text or json", cfg.Log.Format))
	}

	errs = append(errs, validateSensor(cfg.Sensor)...)
	errs = append(errs, validateReader(cfg.Reader)...)
	errs = append(errs, validateCapture(cfg.Capture)...)

	if cfg.Preview.Enabled {
		if cfg.Preview.JPEGQuality < 1 || cfg.Preview.JPEGQuality > 100 {
			errs = append(errs, fmt.Errorf("config: preview.jpeg_quality %d must be 1-100", cfg.Preview.JPEGQuality))
		}
		if cfg.Preview.ViewerQueue <= 0 {
			errs = append(errs, errors.New("config: preview.viewer_queue must be > 0"))
		}
	}

	if _, _, err := net.SplitHostPort(cfg.HTTP.Listen); err != nil {
		errs = append(errs, fmt.Errorf("config: http.listen: %w", err))
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("config: tracing.sample_ratio %.2f must be 0-1", cfg.Tracing.SampleRatio))
	}

	if cfg.BufferPool.MaxBytes <= 0 {
		errs = append(errs, errors.New("config: buffer_pool.max_bytes must be > 0"))
	}

	return errors.Join(errs...)
}

func validateSensor(s SensorConfig) []error {
	var errs []error

	switch s.Source {
	case "simulated":
	case "replay":
		if s.ReplayPath == "" {
			errs = append(errs, errors.New("config: sensor.replay_path is required for source=replay"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: sensor.source %q must be simulated or replay", s.Source))
	}

	if s.Width <= 0 || s.Height <= 0 {
		errs = append(errs, fmt.Errorf("config: sensor resolution %dx%d must be positive", s.Width, s.Height))
	}
	switch s.Format {
	case "RGB", "YUV", "RAW":
	default:
		errs = append(errs, fmt.Errorf("config: sensor.format %q must be RGB, YUV or RAW", s.Format))
	}
	if s.FPS <= 0 {
		errs = append(errs, errors.New("config: sensor.fps must be > 0"))
	}
	if s.Warmup < 0 {
		errs = append(errs, errors.New("config: sensor.warmup must not be negative"))
	}
	return errs
}

func validateReader(r ReaderConfig) []error {
	var errs []error

	if r.Reserved < 0 {
		errs = append(errs, errors.New("config: reader.reserved must not be negative"))
	}
	if r.MaxImages <= r.Reserved {
		errs = append(errs, fmt.Errorf("config: reader.max_images (%d) must exceed reader.reserved (%d)", r.MaxImages, r.Reserved))
	}
	if r.ZSLRingSize < 0 {
		errs = append(errs, errors.New("config: reader.zsl_ring_size must not be negative"))
	}
	if r.StreamCapacity <= 0 {
		errs = append(errs, errors.New("config: reader.stream_capacity must be > 0"))
	} else if r.StreamCapacity > r.MaxImages-r.Reserved {
		errs = append(errs, fmt.Errorf("config: reader.stream_capacity (%d) exceeds usable images (%d)", r.StreamCapacity, r.MaxImages-r.Reserved))
	}
	return errs
}

func validateCapture(c CaptureConfig) []error {
	var errs []error

	if c.Schedule != "" {
		if _, err := CronParser.Parse(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("config: capture.schedule: %w", err))
		}
	}
	if c.Session == "" {
		errs = append(errs, errors.New("config: capture.session is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("config: capture.output_dir is required"))
	}
	if c.Encoding != "png" && c.Encoding != "jpeg" {
		errs = append(errs, fmt.Errorf("config: capture.encoding %q must be png or jpeg", c.Encoding))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("config: capture.jpeg_quality %d must be 1-100", c.JPEGQuality))
	}
	if c.ThumbnailWidth < 0 {
		errs = append(errs, errors.New("config: capture.thumbnail_width must not be negative"))
	}
	if c.MetadataTimeout <= 0 {
		errs = append(errs, errors.New("config: capture.metadata_timeout must be > 0"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("config: capture.timeout must be > 0"))
	}
	return errs
}
