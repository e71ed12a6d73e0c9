package imagesaver_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-frameshare/modules/async"
	"github.com/e7canasta/orion-frameshare/modules/capturelog"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/imagesaver"
)

type memoryRecorder struct {
	mu      sync.Mutex
	entries []capturelog.Entry
}

func (m *memoryRecorder) Record(_ context.Context, e capturelog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func rgbImage(ts int64, w, h int) *imageproxy.Buffer {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i)
	}
	return imageproxy.NewBuffer(ts, w, h, imageproxy.FormatRGB, data, nil)
}

func TestDiskSaverWritesImageThumbnailAndSidecar(t *testing.T) {
	dir := t.TempDir()
	rec := &memoryRecorder{}
	disk, err := imagesaver.NewDiskSaver(dir, imagesaver.WithRecorder(rec))
	require.NoError(t, err)

	session := imagesaver.NewSession("still")
	full := rgbImage(42, 8, 6)
	thumb := imageproxy.NewBuffer(42, 2, 2, imageproxy.FormatJPEG, []byte{0xff, 0xd8, 0xff, 0xd9}, nil)
	md := async.Completed(imagesaver.Metadata{Timestamp: 42, Sequence: 7, ISO: 200}, nil)

	res, err := disk.Save(context.Background(), session, full, thumb, md)
	require.NoError(t, err)

	assert.True(t, full.Closed())
	assert.True(t, thumb.Closed())
	assert.Equal(t, ".png", filepath.Ext(res.ImagePath))
	assert.Equal(t, ".jpg", filepath.Ext(res.ThumbnailPath))
	assert.FileExists(t, res.ImagePath)
	assert.FileExists(t, res.ThumbnailPath)

	raw, err := os.ReadFile(res.SidecarPath)
	require.NoError(t, err)
	var sc struct {
		Timestamp int64  `yaml:"timestamp"`
		Thumbnail string `yaml:"thumbnail"`
		Metadata  struct {
			Sequence uint64 `yaml:"sequence"`
			ISO      int    `yaml:"iso"`
		} `yaml:"metadata"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &sc))
	assert.Equal(t, int64(42), sc.Timestamp)
	assert.Equal(t, filepath.Base(res.ThumbnailPath), sc.Thumbnail)
	assert.Equal(t, uint64(7), sc.Metadata.Sequence)
	assert.Equal(t, 200, sc.Metadata.ISO)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, session.ID, rec.entries[0].SessionID)
	assert.Equal(t, uint64(7), rec.entries[0].Attributes.Sequence)

	assert.Equal(t, uint64(1), disk.Stats().Saved)
}

func TestDiskSaverMetadataTimeout(t *testing.T) {
	disk, err := imagesaver.NewDiskSaver(t.TempDir(),
		imagesaver.WithMetadataTimeout(20*time.Millisecond))
	require.NoError(t, err)

	never := async.NewFuture[imagesaver.Metadata]()
	res, err := disk.Save(context.Background(), imagesaver.NewSession(""), rgbImage(1, 2, 2), nil, never)
	require.NoError(t, err, "missing metadata does not fail the capture")
	assert.FileExists(t, res.SidecarPath)
}

func TestDiskSaverRejectsBadPayload(t *testing.T) {
	disk, err := imagesaver.NewDiskSaver(t.TempDir())
	require.NoError(t, err)

	bad := imageproxy.NewBuffer(1, 4, 4, imageproxy.FormatRGB, []byte{1, 2, 3}, nil)
	_, err = disk.Save(context.Background(), imagesaver.NewSession("x"), bad, nil, nil)
	require.Error(t, err)
	assert.True(t, bad.Closed(), "image closed even when saving fails")
	assert.Equal(t, uint64(1), disk.Stats().Failed)
}

func TestDiskSaverBuildCommitsAsynchronously(t *testing.T) {
	disk, err := imagesaver.NewDiskSaver(t.TempDir(), imagesaver.WithEncoding(imagesaver.EncodingJPEG))
	require.NoError(t, err)

	type outcome struct {
		res imagesaver.Result
		err error
	}
	done := make(chan outcome, 1)
	s := disk.Build(imagesaver.NewSession("burst"), func(res imagesaver.Result, err error) {
		done <- outcome{res, err}
	})

	older, newer := rgbImage(10, 4, 4), rgbImage(20, 4, 4)
	s.AddFullSizeImage(older, nil)
	s.AddFullSizeImage(newer, nil)
	s.Close()
	disk.Close()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, int64(20), out.res.Timestamp)
		assert.Equal(t, ".jpg", filepath.Ext(out.res.ImagePath))
	default:
		t.Fatal("onDone not called before Close returned")
	}
	assert.True(t, older.Closed())
	assert.True(t, newer.Closed())
}

func TestNewDiskSaverValidatesOptions(t *testing.T) {
	_, err := imagesaver.NewDiskSaver(t.TempDir(), imagesaver.WithEncoding("bmp"))
	assert.Error(t, err)
	_, err = imagesaver.NewDiskSaver(t.TempDir(), imagesaver.WithJPEGQuality(0))
	assert.Error(t, err)
}
