package sharedreader_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
	"github.com/e7canasta/orion-frameshare/modules/sharedreader"
)

type releaseLog struct {
	mu       sync.Mutex
	released map[int64]bool
}

func newReleaseLog() *releaseLog {
	return &releaseLog{released: make(map[int64]bool)}
}

func (l *releaseLog) image(ts int64) imageproxy.Proxy {
	return imageproxy.NewBuffer(ts, 2, 2, imageproxy.FormatYUV, make([]byte, 6), func([]byte) {
		l.mu.Lock()
		l.released[ts] = true
		l.mu.Unlock()
	})
}

func (l *releaseLog) isReleased(ts int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released[ts]
}

func newStartedReader(t *testing.T, cfg sharedreader.Config) *sharedreader.Reader {
	t.Helper()
	r, err := sharedreader.New(cfg)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func frames(r *sharedreader.Reader, log *releaseLog, from, to int64) {
	for ts := from; ts <= to; ts++ {
		r.OnCaptureStarted(ts)
		r.OnImageAvailable(log.image(ts))
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := sharedreader.New(sharedreader.Config{MaxImages: 2})
	assert.Error(t, err, "nothing left after the default reserve")
	_, err = sharedreader.New(sharedreader.Config{MaxImages: 5, ZSLRingSize: -1})
	assert.Error(t, err)
}

// --- Test 1: ZSL ring keeps the newest frames within the ticket budget ---
func TestZSLRingFillsSpareTickets(t *testing.T) {
	// Scenario: 6 images, 2 reserved → 4 tickets. Ten frames arrive; image 10
	// waits for the next timestamp, so 1..9 are distributed and the ring
	// keeps 6..9.
	log := newReleaseLog()
	r := newStartedReader(t, sharedreader.Config{MaxImages: 6})

	frames(r, log, 1, 10)

	zsl := r.ZSLStream()
	require.Eventually(t, func() bool {
		return zsl.Len() == 4 && log.isReleased(5)
	}, 2*time.Second, 5*time.Millisecond)

	for ts := int64(1); ts <= 5; ts++ {
		assert.True(t, log.isReleased(ts), "evicted frame %d released", ts)
	}
	img, ok := zsl.PeekNext()
	require.True(t, ok)
	assert.Equal(t, int64(6), img.Timestamp())
	assert.Equal(t, 0, r.Stats().RootAvailable)
}

// --- Test 2: A capture stream preempts the ZSL ring ---
func TestStreamPreemptsZSL(t *testing.T) {
	// Scenario:
	//  1. Fill the ring with all 4 tickets
	//  2. Allocate a 2-image stream: the ring is flushed to free capacity
	//  3. Request the next frame on the stream and receive it
	log := newReleaseLog()
	r := newStartedReader(t, sharedreader.Config{MaxImages: 6})
	frames(r, log, 1, 10)
	zsl := r.ZSLStream()
	require.Eventually(t, func() bool { return zsl.Len() == 4 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := r.CreatePreallocatedStream(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, zsl.Len(), "ring flushed for the high-priority reservation")

	requests := bufferqueue.New[int64](nil)
	_, err = stream.Bind(ctx, requests)
	require.NoError(t, err)
	r.RequestNext(requests, 1)

	frames(r, log, 11, 11)
	r.OnCaptureStarted(12)

	img, err := stream.GetNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), img.Timestamp())
	assert.Equal(t, 1, stream.Stats().Available)

	img.Close()
	assert.Equal(t, 2, stream.Stats().Available, "closing the image returns its ticket")
	assert.Equal(t, uint64(1), stream.Stats().Admitted)

	stream.Close()
	require.Eventually(t, func() bool {
		return r.Stats().HighPriorityAvailable == 4
	}, time.Second, 5*time.Millisecond, "closing the stream returns its capacity")
}

// --- Test 3: Over-sized allocation fails instead of blocking ---
func TestAllocateBeyondBudgetFails(t *testing.T) {
	r := newStartedReader(t, sharedreader.Config{MaxImages: 4})

	_, err := r.CreatePreallocatedStream(context.Background(), 3)
	assert.Error(t, err)
}

// --- Test 4: Closing the reader closes streams ---
func TestCloseReleasesEverything(t *testing.T) {
	log := newReleaseLog()
	r, err := sharedreader.New(sharedreader.Config{MaxImages: 5})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	stream := r.CreateStream(1)
	frames(r, log, 1, 3)
	require.Eventually(t, func() bool { return r.ZSLStream().Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.True(t, stream.IsClosed())
	_, err = stream.GetNext(context.Background())
	assert.ErrorIs(t, err, bufferqueue.ErrClosed)
	assert.Equal(t, 0, r.ZSLStream().Len())
	for ts := int64(1); ts <= 3; ts++ {
		assert.True(t, log.isReleased(ts), "frame %d released", ts)
	}

	late := r.CreateStream(1)
	assert.True(t, late.IsClosed())
	assert.Error(t, late.Allocate(context.Background()))
}
