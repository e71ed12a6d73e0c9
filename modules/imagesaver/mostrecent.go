package imagesaver

import (
	"github.com/e7canasta/orion-frameshare/modules/async"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
)

// MostRecentImageSaver keeps only the newest full-size image of a capture
// and the thumbnail with the same timestamp.
//
// After every add, entries strictly older than the newest full-size
// timestamp are closed and dropped, so memory stays bounded to roughly one
// capture plus in-flight duplicates. Close commits the newest pair to the
// SingleImageSaver and closes the rest; with no full-size image it commits
// nothing.
type MostRecentImageSaver struct {
	single     SingleImageSaver
	thumbnails map[int64]imageproxy.Proxy
	fullSize   map[int64]fullSizeImage
	newest     int64
	hasNewest  bool
	closed     bool
}

type fullSizeImage struct {
	img      imageproxy.Proxy
	metadata *async.Future[Metadata]
}

var _ ImageSaver = (*MostRecentImageSaver)(nil)

// NewMostRecentImageSaver creates a saver committing to single.
func NewMostRecentImageSaver(single SingleImageSaver) *MostRecentImageSaver {
	return &MostRecentImageSaver{
		single:     single,
		thumbnails: make(map[int64]imageproxy.Proxy),
		fullSize:   make(map[int64]fullSizeImage),
	}
}

// AddThumbnail implements ImageSaver.
func (s *MostRecentImageSaver) AddThumbnail(img imageproxy.Proxy) {
	if s.closed {
		img.Close()
		return
	}
	if prev, ok := s.thumbnails[img.Timestamp()]; ok {
		prev.Close()
	}
	s.thumbnails[img.Timestamp()] = img
	s.closeOlder()
}

// AddFullSizeImage implements ImageSaver.
func (s *MostRecentImageSaver) AddFullSizeImage(img imageproxy.Proxy, metadata *async.Future[Metadata]) {
	if s.closed {
		img.Close()
		return
	}
	ts := img.Timestamp()
	if prev, ok := s.fullSize[ts]; ok {
		prev.img.Close()
	}
	s.fullSize[ts] = fullSizeImage{img: img, metadata: metadata}
	if !s.hasNewest || ts > s.newest {
		s.newest, s.hasNewest = ts, true
	}
	s.closeOlder()
}

func (s *MostRecentImageSaver) closeOlder() {
	if !s.hasNewest {
		return
	}
	for ts, e := range s.fullSize {
		if ts < s.newest {
			e.img.Close()
			delete(s.fullSize, ts)
		}
	}
	for ts, img := range s.thumbnails {
		if ts < s.newest {
			img.Close()
			delete(s.thumbnails, ts)
		}
	}
}

// Close implements ImageSaver. Calls after the first are ignored.
func (s *MostRecentImageSaver) Close() {
	if s.closed {
		return
	}
	s.closed = true
	defer s.closeAll()

	if !s.hasNewest {
		return
	}
	full := s.fullSize[s.newest]
	delete(s.fullSize, s.newest)
	thumb := s.thumbnails[s.newest]
	delete(s.thumbnails, s.newest)

	s.single.SaveAndCloseImage(full.img, thumb, full.metadata)
}

func (s *MostRecentImageSaver) closeAll() {
	for ts, img := range s.thumbnails {
		img.Close()
		delete(s.thumbnails, ts)
	}
	for ts, e := range s.fullSize {
		e.img.Close()
		delete(s.fullSize, ts)
	}
}
