package sensor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/lrupool"
	"github.com/e7canasta/orion-frameshare/modules/sensor"
)

// recordingSink keeps the order of callbacks and closes images.
type recordingSink struct {
	mu       sync.Mutex
	events   []string
	started  []int64
	images   []int64
	payloads [][]byte
}

func (s *recordingSink) OnCaptureStarted(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "start")
	s.started = append(s.started, ts)
}

func (s *recordingSink) OnImageAvailable(img imageproxy.Proxy) {
	s.mu.Lock()
	s.events = append(s.events, "image")
	s.images = append(s.images, img.Timestamp())
	s.payloads = append(s.payloads, append([]byte(nil), img.Data()...))
	s.mu.Unlock()
	img.Close()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func smallConfig(format imageproxy.Format) sensor.Config {
	return sensor.Config{Name: "test", Width: 4, Height: 2, Format: format, TargetFPS: 200}
}

// --- Test 1: Timestamp precedes image, timestamps strictly increase ---
func TestSimulatedOrdering(t *testing.T) {
	sink := &recordingSink{}
	pool := lrupool.NewByteBufferPool(1 << 10)
	src, err := sensor.NewSimulated(smallConfig(imageproxy.FormatRGB), sink, sensor.WithBufferPool(pool))
	require.NoError(t, err)

	require.NoError(t, src.Start(context.Background()))
	assert.ErrorIs(t, src.Start(context.Background()), sensor.ErrAlreadyStarted)

	require.Eventually(t, func() bool { return sink.count() >= 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop(), "Stop is idempotent")

	sink.mu.Lock()
	defer sink.mu.Unlock()

	for i := 0; i+1 < len(sink.events); i += 2 {
		assert.Equal(t, "start", sink.events[i])
		assert.Equal(t, "image", sink.events[i+1])
	}
	assert.Equal(t, sink.started, sink.images)
	for i := 1; i < len(sink.images); i++ {
		assert.Greater(t, sink.images[i], sink.images[i-1])
	}
	assert.NotEqual(t, sink.payloads[0], sink.payloads[1], "payload changes per frame")
	assert.Len(t, sink.payloads[0], 4*2*3)

	stats := pool.Stats()
	assert.Positive(t, stats.Hits, "closed payloads are reused")

	st := src.Stats()
	assert.False(t, st.Running)
	assert.Equal(t, uint64(len(sink.images)), st.FrameCount)
	assert.Equal(t, "4x2", st.Resolution)
}

func TestSimulatedValidation(t *testing.T) {
	sink := &recordingSink{}

	_, err := sensor.NewSimulated(sensor.Config{Width: 0, Height: 2, Format: imageproxy.FormatRGB, TargetFPS: 10}, sink)
	assert.Error(t, err)
	_, err = sensor.NewSimulated(sensor.Config{Width: 2, Height: 2, Format: imageproxy.FormatJPEG, TargetFPS: 10}, sink)
	assert.Error(t, err)
	_, err = sensor.NewSimulated(sensor.Config{Width: 2, Height: 2, Format: imageproxy.FormatRGB, TargetFPS: 0}, sink)
	assert.Error(t, err)

	src, err := sensor.NewSimulated(smallConfig(imageproxy.FormatYUV), sink)
	require.NoError(t, err)
	assert.Error(t, src.SetTargetFPS(1000))
	assert.NoError(t, src.SetTargetFPS(50))
	assert.Equal(t, 50.0, src.Stats().FPSTarget)
}

func TestWarmupRequiresRunningSource(t *testing.T) {
	src, err := sensor.NewSimulated(smallConfig(imageproxy.FormatRGB), &recordingSink{})
	require.NoError(t, err)

	_, err = src.Warmup(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, sensor.ErrNotStarted)
}

func TestWarmupCollectsFrames(t *testing.T) {
	src, err := sensor.NewSimulated(smallConfig(imageproxy.FormatRGB), &recordingSink{})
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	stats, err := src.Warmup(context.Background(), 200*time.Millisecond)
	if err != nil {
		// Scheduler noise may mark the stream unstable; statistics still come back.
		require.True(t, errors.Is(err, sensor.ErrUnstable), "unexpected error: %v", err)
	}
	require.NotNil(t, stats)
	assert.GreaterOrEqual(t, stats.FramesReceived, 2)
	assert.Positive(t, stats.FPSMean)
}

// --- Test 5: Replay loops over whole frames of a recording ---
func TestReplayLoopsRecording(t *testing.T) {
	cfg := smallConfig(imageproxy.FormatRGB)
	size := cfg.FrameSize()

	// Three frames filled with 1, 2, 3 plus a partial trailing frame.
	var data []byte
	for f := 1; f <= 3; f++ {
		for range size {
			data = append(data, byte(f))
		}
	}
	data = append(data, 9, 9, 9)

	path := filepath.Join(t.TempDir(), "rec.raw")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	sink := &recordingSink{}
	src, err := sensor.NewReplay(path, cfg, sink)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Frames())

	require.NoError(t, src.Start(context.Background()))
	require.Eventually(t, func() bool { return sink.count() >= 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, src.Close())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []byte{1, 2, 3, 1, 2}
	for i, w := range want {
		assert.Equal(t, w, sink.payloads[i][0], "frame %d", i)
		assert.Equal(t, w, sink.payloads[i][size-1], "frame %d", i)
	}
}

func TestReplayRejectsShortRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.raw")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := sensor.NewReplay(path, smallConfig(imageproxy.FormatRGB), &recordingSink{})
	assert.Error(t, err)
}

func TestSinkFuncsClosesUnhandledImages(t *testing.T) {
	img := imageproxy.NewBuffer(1, 1, 1, imageproxy.FormatRGB, []byte{0, 0, 0}, nil)
	sensor.SinkFuncs{}.OnImageAvailable(img)
	assert.True(t, img.Closed())
}
