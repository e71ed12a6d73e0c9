// Package imagesaver turns the images produced by one capture into a single
// finished artifact.
//
// A capture may deliver several full-size images and thumbnails (retries,
// bursts, late duplicates). An ImageSaver collects them for the duration of
// one capture transaction and hands the most recent full-size image, with
// its matching thumbnail, to a SingleImageSaver at Close.
package imagesaver

import (
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-frameshare/modules/async"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
)

// Metadata is the per-frame capture result reported by the sensor.
type Metadata struct {
	Timestamp     int64             `yaml:"timestamp"`
	Sequence      uint64            `yaml:"sequence"`
	Exposure      time.Duration     `yaml:"exposure"`
	ISO           int               `yaml:"iso"`
	FocusDistance float32           `yaml:"focus_distance"`
	Tags          map[string]string `yaml:"tags,omitempty"`
}

// Session is the destination of a capture, owned by the application.
type Session struct {
	ID        uuid.UUID
	Name      string
	StartedAt time.Time
}

// NewSession creates a session with a random ID.
func NewSession(name string) Session {
	return Session{ID: uuid.New(), Name: name, StartedAt: time.Now()}
}

// Result describes a persisted capture.
type Result struct {
	Session       Session
	Timestamp     int64
	ImagePath     string
	ThumbnailPath string // empty without thumbnail
	SidecarPath   string
}

// DoneFunc receives the outcome of a capture transaction.
type DoneFunc func(Result, error)

// ImageSaver is one capture transaction:
// (AddThumbnail | AddFullSizeImage)* then exactly one Close.
//
// Not safe for concurrent use; confine each saver to one goroutine.
// The saver takes ownership of every image added.
type ImageSaver interface {
	AddThumbnail(img imageproxy.Proxy)
	AddFullSizeImage(img imageproxy.Proxy, metadata *async.Future[Metadata])
	Close()
}

// SingleImageSaver persists one finished capture and closes its images.
type SingleImageSaver interface {
	// SaveAndCloseImage takes ownership of fullSize and thumbnail.
	// thumbnail may be nil.
	SaveAndCloseImage(fullSize, thumbnail imageproxy.Proxy, metadata *async.Future[Metadata])
}

// Builder creates savers. Implementations must be safe for concurrent use.
type Builder interface {
	Build(session Session, onDone DoneFunc) ImageSaver
}
