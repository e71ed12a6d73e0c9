package sensor

import (
	"fmt"

	"golang.org/x/exp/mmap"
)

// Replay emits frames from a raw recording: consecutive frames of
// Config.FrameSize bytes, looped when the end is reached. A trailing partial
// frame is ignored.
type Replay struct {
	*runner
	reader *mmap.ReaderAt
	frames int
}

var _ Source = (*Replay)(nil)

// NewReplay memory-maps path and creates a source replaying it to sink.
func NewReplay(path string, cfg Config, sink Sink, opts ...Option) (*Replay, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	reader, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sensor: open recording: %w", err)
	}

	size := cfg.FrameSize()
	frames := reader.Len() / size
	if frames == 0 {
		_ = reader.Close()
		return nil, fmt.Errorf("sensor: recording %s holds %d bytes, less than one %d-byte frame", path, reader.Len(), size)
	}

	rp := &Replay{reader: reader, frames: frames}
	r, err := newRunner("replay", cfg, sink, rp.readFrame, opts)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	rp.runner = r
	return rp, nil
}

// Frames returns the number of whole frames in the recording.
func (rp *Replay) Frames() int { return rp.frames }

func (rp *Replay) readFrame(seq uint64, buf []byte) error {
	off := int64(seq%uint64(rp.frames)) * int64(len(buf))
	if _, err := rp.reader.ReadAt(buf, off); err != nil {
		return fmt.Errorf("sensor: read frame %d: %w", seq, err)
	}
	return nil
}

// Close stops the source and unmaps the recording.
func (rp *Replay) Close() error {
	if err := rp.Stop(); err != nil {
		return err
	}
	return rp.reader.Close()
}
