// Package imageproxy defines the image handle passed through the frame
// pipeline and the wrappers used to share one payload between consumers.
//
// Every Proxy must be closed exactly once by whoever holds it last. Closing
// returns the underlying buffer to its source (sensor, buffer pool).
package imageproxy

import (
	"fmt"
	"sync/atomic"
)

// Format identifies the pixel layout of an image payload.
type Format string

const (
	FormatRAW  Format = "RAW"
	FormatYUV  Format = "YUV"
	FormatRGB  Format = "RGB"
	FormatJPEG Format = "JPEG"
)

// Proxy is a handle to a sensor image.
type Proxy interface {
	// Timestamp is the capture time in nanoseconds, strictly increasing per
	// source.
	Timestamp() int64
	Width() int
	Height() int
	Format() Format
	// Data returns the payload. Invalid after Close.
	Data() []byte
	// Close releases the handle.
	Close()
}

// Buffer is an in-memory image backed by a byte slice. release, if set, runs
// once when the image is closed.
type Buffer struct {
	ts      int64
	width   int
	height  int
	format  Format
	data    []byte
	release func([]byte)
	closed  atomic.Bool
}

var _ Proxy = (*Buffer)(nil)

// NewBuffer creates an image. release receives the payload on Close.
func NewBuffer(ts int64, width, height int, format Format, data []byte, release func([]byte)) *Buffer {
	return &Buffer{
		ts:      ts,
		width:   width,
		height:  height,
		format:  format,
		data:    data,
		release: release,
	}
}

func (b *Buffer) Timestamp() int64 { return b.ts }
func (b *Buffer) Width() int       { return b.width }
func (b *Buffer) Height() int      { return b.height }
func (b *Buffer) Format() Format   { return b.format }
func (b *Buffer) Data() []byte     { return b.data }

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool { return b.closed.Load() }

// Close implements Proxy. Idempotent.
func (b *Buffer) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	if b.release != nil {
		b.release(b.data)
	}
}

// Forwarding delegates every method to Inner. Embed it to override a subset.
type Forwarding struct {
	Inner Proxy
}

func (f Forwarding) Timestamp() int64 { return f.Inner.Timestamp() }
func (f Forwarding) Width() int       { return f.Inner.Width() }
func (f Forwarding) Height() int      { return f.Inner.Height() }
func (f Forwarding) Format() Format   { return f.Inner.Format() }
func (f Forwarding) Data() []byte     { return f.Inner.Data() }
func (f Forwarding) Close()           { f.Inner.Close() }

// RefCounted closes the inner image once Close has been called refs times.
//
// RefCounted itself does not guard against a holder closing twice; hand each
// holder a SingleClose (see Share).
type RefCounted struct {
	Forwarding
	refs atomic.Int64
}

// NewRefCounted wraps img with an initial reference count. refs must be > 0.
func NewRefCounted(img Proxy, refs int) *RefCounted {
	if refs <= 0 {
		panic(fmt.Sprintf("imageproxy: invalid reference count %d", refs))
	}
	r := &RefCounted{Forwarding: Forwarding{Inner: img}}
	r.refs.Store(int64(refs))
	return r
}

// Refs returns the number of outstanding references.
func (r *RefCounted) Refs() int { return int(r.refs.Load()) }

// Close drops one reference, closing the inner image on the last.
// Panics on underflow.
func (r *RefCounted) Close() {
	n := r.refs.Add(-1)
	switch {
	case n == 0:
		r.Inner.Close()
	case n < 0:
		panic("imageproxy: reference count underflow")
	}
}

// SingleClose forwards Close to the inner image at most once.
type SingleClose struct {
	Forwarding
	closed atomic.Bool
}

// NewSingleClose wraps img.
func NewSingleClose(img Proxy) *SingleClose {
	return &SingleClose{Forwarding: Forwarding{Inner: img}}
}

// Close implements Proxy. Only the first call reaches the inner image.
func (s *SingleClose) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.Inner.Close()
	}
}

// Share wraps img in a reference count of n and returns one single-close
// handle per holder. The payload is released after every handle is closed.
func Share(img Proxy, n int) []Proxy {
	rc := NewRefCounted(img, n)
	out := make([]Proxy, n)
	for i := range out {
		out[i] = NewSingleClose(rc)
	}
	return out
}
