package imagesaver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-frameshare/modules/async"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/imagesaver"
)

type commit struct {
	fullSize  imageproxy.Proxy
	thumbnail imageproxy.Proxy
	metadata  *async.Future[imagesaver.Metadata]
}

type recordingSaver struct {
	commits []commit
}

func (r *recordingSaver) SaveAndCloseImage(fullSize, thumbnail imageproxy.Proxy, metadata *async.Future[imagesaver.Metadata]) {
	r.commits = append(r.commits, commit{fullSize, thumbnail, metadata})
}

func jpegImage(ts int64) *imageproxy.Buffer {
	return imageproxy.NewBuffer(ts, 4, 4, imageproxy.FormatJPEG, []byte{0xff, 0xd8}, nil)
}

// --- Test 1: Only the newest full-size image is committed ---
func TestMostRecentCommitsNewestFullSize(t *testing.T) {
	// Scenario: full-size images arrive out of order (10, 20, 15).
	// Only 20 survives; 10 is evicted when 20 arrives, 15 on arrival.
	rec := &recordingSaver{}
	s := imagesaver.NewMostRecentImageSaver(rec)

	img10, img20, img15 := jpegImage(10), jpegImage(20), jpegImage(15)
	md := async.Completed(imagesaver.Metadata{Timestamp: 20}, nil)

	s.AddFullSizeImage(img10, nil)
	s.AddFullSizeImage(img20, md)
	assert.True(t, img10.Closed(), "older image closed once newer arrives")

	s.AddFullSizeImage(img15, nil)
	assert.True(t, img15.Closed(), "late older image closed immediately")
	assert.False(t, img20.Closed())

	s.Close()

	require.Len(t, rec.commits, 1)
	assert.Same(t, img20, rec.commits[0].fullSize)
	assert.Nil(t, rec.commits[0].thumbnail)
	assert.Same(t, md, rec.commits[0].metadata)
	assert.False(t, img20.Closed(), "committed image is owned by the single saver")
}

// --- Test 2: Thumbnail pairing ---
func TestMostRecentPairsThumbnailByTimestamp(t *testing.T) {
	rec := &recordingSaver{}
	s := imagesaver.NewMostRecentImageSaver(rec)

	thumb5, thumb7, thumb9 := jpegImage(5), jpegImage(7), jpegImage(9)
	full7 := jpegImage(7)

	s.AddThumbnail(thumb5)
	s.AddThumbnail(thumb7)
	s.AddFullSizeImage(full7, nil)
	assert.True(t, thumb5.Closed(), "thumbnail older than newest full-size closed")

	s.AddThumbnail(thumb9)
	s.Close()

	require.Len(t, rec.commits, 1)
	assert.Same(t, full7, rec.commits[0].fullSize)
	assert.Same(t, thumb7, rec.commits[0].thumbnail)
	assert.True(t, thumb9.Closed(), "unmatched newer thumbnail closed on Close")
}

// --- Test 3: Nothing committed without a full-size image ---
func TestMostRecentWithoutFullSizeCommitsNothing(t *testing.T) {
	rec := &recordingSaver{}
	s := imagesaver.NewMostRecentImageSaver(rec)

	thumb := jpegImage(3)
	s.AddThumbnail(thumb)
	s.Close()

	assert.Empty(t, rec.commits)
	assert.True(t, thumb.Closed())
}

// --- Test 4: Duplicates and adds after Close ---
func TestMostRecentDuplicatesAndLateAdds(t *testing.T) {
	rec := &recordingSaver{}
	s := imagesaver.NewMostRecentImageSaver(rec)

	first, dup := jpegImage(4), jpegImage(4)
	s.AddFullSizeImage(first, nil)
	s.AddFullSizeImage(dup, nil)
	assert.True(t, first.Closed(), "replaced duplicate closed")

	s.Close()
	s.Close()
	require.Len(t, rec.commits, 1)
	assert.Same(t, dup, rec.commits[0].fullSize)

	late := jpegImage(8)
	s.AddFullSizeImage(late, nil)
	assert.True(t, late.Closed())
	assert.Len(t, rec.commits, 1)
}
