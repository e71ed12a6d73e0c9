// Package config loads the zslcam daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Log        LogConfig        `yaml:"log"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Reader     ReaderConfig     `yaml:"reader"`
	Capture    CaptureConfig    `yaml:"capture"`
	Preview    PreviewConfig    `yaml:"preview"`
	HTTP       HTTPConfig       `yaml:"http"`
	Tracing    TracingConfig    `yaml:"tracing"`
	CaptureLog CaptureLogConfig `yaml:"capture_log"`
	BufferPool BufferPoolConfig `yaml:"buffer_pool"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SensorConfig describes the frame source.
type SensorConfig struct {
	Name       string        `yaml:"name"`
	Source     string        `yaml:"source"`      // simulated, replay
	ReplayPath string        `yaml:"replay_path"` // raw recording for source=replay
	Width      int           `yaml:"width"`
	Height     int           `yaml:"height"`
	Format     string        `yaml:"format"` // RGB, YUV, RAW
	FPS        float64       `yaml:"fps"`
	Warmup     time.Duration `yaml:"warmup"`
}

// ReaderConfig sizes the shared image reader.
type ReaderConfig struct {
	MaxImages      int `yaml:"max_images"`
	Reserved       int `yaml:"reserved"`
	ZSLRingSize    int `yaml:"zsl_ring_size"`
	StreamCapacity int `yaml:"stream_capacity"`
}

// CaptureConfig controls still captures.
type CaptureConfig struct {
	Schedule        string        `yaml:"schedule"` // cron spec, empty disables
	Session         string        `yaml:"session"`
	OutputDir       string        `yaml:"output_dir"`
	Encoding        string        `yaml:"encoding"` // png, jpeg
	JPEGQuality     int           `yaml:"jpeg_quality"`
	ThumbnailWidth  int           `yaml:"thumbnail_width"` // 0 disables thumbnails
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	Timeout         time.Duration `yaml:"timeout"`
}

// PreviewConfig controls the live preview loop.
type PreviewConfig struct {
	Enabled     bool `yaml:"enabled"`
	JPEGQuality int  `yaml:"jpeg_quality"`
	ViewerQueue int  `yaml:"viewer_queue"`
}

// HTTPConfig is the admin server.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// TracingConfig selects the OTLP/HTTP collector. Empty endpoint disables
// tracing.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// CaptureLogConfig locates the SQLite capture log. Empty path disables it.
type CaptureLogConfig struct {
	Path string `yaml:"path"`
}

// BufferPoolConfig bounds idle sensor payload buffers.
type BufferPoolConfig struct {
	MaxBytes int `yaml:"max_bytes"`
}

// Default returns a configuration that runs a simulated 640x480 sensor.
func Default() *Config {
	return &Config{
		Version: "1",
		Log:     LogConfig{Level: "info", Format: "text"},
		Sensor: SensorConfig{
			Name:   "sim0",
			Source: "simulated",
			Width:  640,
			Height: 480,
			Format: "RGB",
			FPS:    15,
			Warmup: 2 * time.Second,
		},
		Reader: ReaderConfig{
			MaxImages:      12,
			Reserved:       2,
			ZSLRingSize:    6,
			StreamCapacity: 2,
		},
		Capture: CaptureConfig{
			Session:         "default",
			OutputDir:       "captures",
			Encoding:        "png",
			JPEGQuality:     90,
			ThumbnailWidth:  160,
			MetadataTimeout: 2 * time.Second,
			Timeout:         5 * time.Second,
		},
		Preview: PreviewConfig{
			Enabled:     true,
			JPEGQuality: 70,
			ViewerQueue: 2,
		},
		HTTP:       HTTPConfig{Listen: ":8080"},
		Tracing:    TracingConfig{Insecure: true, SampleRatio: 1},
		CaptureLog: CaptureLogConfig{Path: "captures/captures.db"},
		BufferPool: BufferPoolConfig{MaxBytes: 64 << 20},
	}
}

// Load reads path, expands environment variables and decodes it over
// Default. The result is not validated.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw YAML over Default.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("expanding variables: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	return cfg, nil
}
