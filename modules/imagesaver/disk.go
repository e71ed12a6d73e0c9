package imagesaver

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-frameshare/modules/async"
	"github.com/e7canasta/orion-frameshare/modules/capturelog"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
)

// Encodings accepted by WithEncoding for uncompressed payloads.
const (
	EncodingPNG  = "png"
	EncodingJPEG = "jpeg"
)

const (
	defaultJPEGQuality     = 90
	defaultMetadataTimeout = 2 * time.Second
)

// ErrUnsupportedFormat is returned for payloads the saver cannot encode.
var ErrUnsupportedFormat = errors.New("imagesaver: unsupported image format")

// Recorder receives an entry for every persisted capture.
type Recorder interface {
	Record(ctx context.Context, e capturelog.Entry) error
}

// DiskStats is a snapshot of DiskSaver counters.
type DiskStats struct {
	Saved    uint64 `json:"saved"`
	Failed   uint64 `json:"failed"`
	Pending  int64  `json:"pending"`
	Recorded uint64 `json:"recorded"`
}

// DiskSaver persists captures under outputDir/<session>/.
//
// Full-size images and thumbnails are written as files (JPEG payloads
// passthrough, RGB and YUV encoded to PNG or JPEG, RAW as-is), followed by a
// YAML sidecar with the capture metadata. When a Recorder is set each
// capture is also appended to it.
//
// Thread-safety: safe for concurrent use. Savers built by Build write in a
// background goroutine; Close waits for them.
type DiskSaver struct {
	outputDir       string
	encoding        string
	jpegQuality     int
	metadataTimeout time.Duration
	recorder        Recorder
	logger          *slog.Logger

	wg       sync.WaitGroup
	pending  atomic.Int64
	saved    atomic.Uint64
	failed   atomic.Uint64
	recorded atomic.Uint64
}

// DiskOption configures a DiskSaver.
type DiskOption func(*DiskSaver)

// WithEncoding selects png or jpeg for uncompressed payloads. Default png.
func WithEncoding(encoding string) DiskOption {
	return func(d *DiskSaver) { d.encoding = encoding }
}

// WithJPEGQuality sets the quality (1-100) used when encoding JPEG.
func WithJPEGQuality(q int) DiskOption {
	return func(d *DiskSaver) { d.jpegQuality = q }
}

// WithMetadataTimeout bounds the wait for the metadata future. On timeout
// the capture is saved without metadata.
func WithMetadataTimeout(timeout time.Duration) DiskOption {
	return func(d *DiskSaver) { d.metadataTimeout = timeout }
}

// WithRecorder appends every saved capture to r.
func WithRecorder(r Recorder) DiskOption {
	return func(d *DiskSaver) { d.recorder = r }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) DiskOption {
	return func(d *DiskSaver) { d.logger = logger }
}

// NewDiskSaver creates outputDir if needed and returns a saver writing into it.
func NewDiskSaver(outputDir string, opts ...DiskOption) (*DiskSaver, error) {
	d := &DiskSaver{
		outputDir:       outputDir,
		encoding:        EncodingPNG,
		jpegQuality:     defaultJPEGQuality,
		metadataTimeout: defaultMetadataTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.encoding != EncodingPNG && d.encoding != EncodingJPEG {
		return nil, fmt.Errorf("imagesaver: unsupported encoding %q (must be png or jpeg)", d.encoding)
	}
	if d.jpegQuality < 1 || d.jpegQuality > 100 {
		return nil, fmt.Errorf("imagesaver: jpeg quality %d out of range 1-100", d.jpegQuality)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("imagesaver: create output directory: %w", err)
	}

	d.logger = d.logger.With("component", "disk-saver")
	return d, nil
}

var _ Builder = (*DiskSaver)(nil)

// Build implements Builder. The returned saver commits the newest
// full-size image asynchronously; onDone (may be nil) runs on completion.
func (d *DiskSaver) Build(session Session, onDone DoneFunc) ImageSaver {
	return NewMostRecentImageSaver(&asyncWriter{disk: d, session: session, onDone: onDone})
}

// Save writes one capture synchronously and closes both images.
// thumbnail and metadata may be nil.
func (d *DiskSaver) Save(ctx context.Context, session Session, fullSize, thumbnail imageproxy.Proxy, metadata *async.Future[Metadata]) (Result, error) {
	defer fullSize.Close()
	if thumbnail != nil {
		defer thumbnail.Close()
	}

	res, err := d.save(ctx, session, fullSize, thumbnail, metadata)
	if err != nil {
		d.failed.Add(1)
		d.logger.Error("capture save failed",
			"session", session.Name,
			"timestamp", fullSize.Timestamp(),
			"error", err)
		return res, err
	}
	d.saved.Add(1)
	return res, nil
}

func (d *DiskSaver) save(ctx context.Context, session Session, fullSize, thumbnail imageproxy.Proxy, metadata *async.Future[Metadata]) (Result, error) {
	dir := filepath.Join(d.outputDir, sessionDir(session))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("imagesaver: create session directory: %w", err)
	}

	ts := fullSize.Timestamp()
	res := Result{Session: session, Timestamp: ts}

	var err error
	if res.ImagePath, err = d.writeImage(dir, fmt.Sprintf("capture_%d", ts), fullSize); err != nil {
		return res, err
	}
	if thumbnail != nil {
		if res.ThumbnailPath, err = d.writeImage(dir, fmt.Sprintf("thumb_%d", ts), thumbnail); err != nil {
			return res, err
		}
	}

	md, mdErr := d.awaitMetadata(ctx, metadata)
	if mdErr != nil {
		d.logger.Warn("capture metadata unavailable",
			"session", session.Name,
			"timestamp", ts,
			"error", mdErr)
	}

	res.SidecarPath = filepath.Join(dir, fmt.Sprintf("capture_%d.yaml", ts))
	if err := writeSidecar(res, fullSize, md); err != nil {
		return res, err
	}

	if d.recorder != nil {
		if err := d.recorder.Record(ctx, entryFor(res, fullSize, md)); err != nil {
			// Files are already on disk; the log is advisory.
			d.logger.Error("capture log append failed", "timestamp", ts, "error", err)
		} else {
			d.recorded.Add(1)
		}
	}
	return res, nil
}

func (d *DiskSaver) awaitMetadata(ctx context.Context, metadata *async.Future[Metadata]) (*Metadata, error) {
	if metadata == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.metadataTimeout)
	defer cancel()
	md, err := metadata.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &md, nil
}

// writeImage writes img to dir/base.<ext> and returns the path.
func (d *DiskSaver) writeImage(dir, base string, img imageproxy.Proxy) (string, error) {
	switch img.Format() {
	case imageproxy.FormatJPEG:
		path := filepath.Join(dir, base+".jpg")
		return path, writeFile(path, img.Data())
	case imageproxy.FormatRAW:
		path := filepath.Join(dir, base+".raw")
		return path, writeFile(path, img.Data())
	}

	decoded, err := Decode(img)
	if err != nil {
		return "", err
	}

	ext := "png"
	if d.encoding == EncodingJPEG {
		ext = "jpg"
	}
	path := filepath.Join(dir, base+"."+ext)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("imagesaver: create %s: %w", path, err)
	}
	defer f.Close()

	switch d.encoding {
	case EncodingJPEG:
		err = jpeg.Encode(f, decoded, &jpeg.Options{Quality: d.jpegQuality})
	default:
		err = png.Encode(f, decoded)
	}
	if err != nil {
		return "", fmt.Errorf("imagesaver: encode %s: %w", path, err)
	}
	return path, f.Close()
}

// Decode converts an uncompressed RGB or YUV payload to an image.Image.
// YUV payloads yield the luma plane.
func Decode(img imageproxy.Proxy) (image.Image, error) {
	switch img.Format() {
	case imageproxy.FormatRGB:
		return rgbToRGBA(img.Width(), img.Height(), img.Data())
	case imageproxy.FormatYUV:
		return lumaPlane(img.Width(), img.Height(), img.Data())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, img.Format())
	}
}

// rgbToRGBA converts packed RGB (3 bytes/pixel) to image.RGBA with opaque
// alpha.
func rgbToRGBA(width, height int, data []byte) (*image.RGBA, error) {
	if expected := width * height * 3; len(data) != expected {
		return nil, fmt.Errorf("imagesaver: invalid RGB data size: got %d, expected %d", len(data), expected)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[i*4+0] = data[i*3+0]
		img.Pix[i*4+1] = data[i*3+1]
		img.Pix[i*4+2] = data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

// lumaPlane returns the Y plane of a planar YUV payload as grayscale.
func lumaPlane(width, height int, data []byte) (*image.Gray, error) {
	if expected := width * height; len(data) < expected {
		return nil, fmt.Errorf("imagesaver: invalid YUV data size: got %d, need at least %d", len(data), expected)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	copy(img.Pix, data[:width*height])
	return img, nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("imagesaver: write %s: %w", path, err)
	}
	return nil
}

type sidecar struct {
	Session   string    `yaml:"session"`
	SessionID string    `yaml:"session_id"`
	Timestamp int64     `yaml:"timestamp"`
	Width     int       `yaml:"width"`
	Height    int       `yaml:"height"`
	Format    string    `yaml:"format"`
	Image     string    `yaml:"image"`
	Thumbnail string    `yaml:"thumbnail,omitempty"`
	Metadata  *Metadata `yaml:"metadata,omitempty"`
}

func writeSidecar(res Result, img imageproxy.Proxy, md *Metadata) error {
	sc := sidecar{
		Session:   res.Session.Name,
		SessionID: res.Session.ID.String(),
		Timestamp: res.Timestamp,
		Width:     img.Width(),
		Height:    img.Height(),
		Format:    string(img.Format()),
		Image:     filepath.Base(res.ImagePath),
		Metadata:  md,
	}
	if res.ThumbnailPath != "" {
		sc.Thumbnail = filepath.Base(res.ThumbnailPath)
	}

	data, err := yaml.Marshal(&sc)
	if err != nil {
		return fmt.Errorf("imagesaver: encode sidecar: %w", err)
	}
	return writeFile(res.SidecarPath, data)
}

func entryFor(res Result, img imageproxy.Proxy, md *Metadata) capturelog.Entry {
	e := capturelog.Entry{
		SessionID:     res.Session.ID,
		SessionName:   res.Session.Name,
		Timestamp:     res.Timestamp,
		Width:         img.Width(),
		Height:        img.Height(),
		Format:        string(img.Format()),
		ImagePath:     res.ImagePath,
		ThumbnailPath: res.ThumbnailPath,
		SidecarPath:   res.SidecarPath,
	}
	if md != nil {
		e.Attributes = capturelog.Attributes{
			Sequence:      md.Sequence,
			ExposureNanos: md.Exposure.Nanoseconds(),
			ISO:           md.ISO,
			FocusDistance: md.FocusDistance,
			Tags:          md.Tags,
		}
	}
	return e
}

func sessionDir(s Session) string {
	if s.Name != "" {
		return s.Name + "_" + s.ID.String()[:8]
	}
	return s.ID.String()
}

// Close waits for in-flight background saves.
func (d *DiskSaver) Close() {
	d.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (d *DiskSaver) Stats() DiskStats {
	return DiskStats{
		Saved:    d.saved.Load(),
		Failed:   d.failed.Load(),
		Pending:  d.pending.Load(),
		Recorded: d.recorded.Load(),
	}
}

// asyncWriter is the SingleImageSaver behind savers built by DiskSaver.
type asyncWriter struct {
	disk    *DiskSaver
	session Session
	onDone  DoneFunc
}

func (w *asyncWriter) SaveAndCloseImage(fullSize, thumbnail imageproxy.Proxy, metadata *async.Future[Metadata]) {
	d := w.disk
	d.wg.Add(1)
	d.pending.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.pending.Add(-1)

		res, err := d.Save(context.Background(), w.session, fullSize, thumbnail, metadata)
		if w.onDone != nil {
			w.onDone(res, err)
		}
	}()
}
