package imageproxy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestImage(ts int64, released *int) *Buffer {
	return NewBuffer(ts, 4, 2, FormatYUV, make([]byte, 8), func([]byte) { *released++ })
}

func TestBufferCloseIsIdempotent(t *testing.T) {
	released := 0
	img := newTestImage(1, &released)
	img.Close()
	img.Close()
	assert.Equal(t, 1, released)
	assert.True(t, img.Closed())
}

// TestSharedImageReleasedOnce validates that with N holders the payload is
// released only after all N close, regardless of duplicate closes.
func TestSharedImageReleasedOnce(t *testing.T) {
	released := 0
	img := newTestImage(42, &released)

	handles := Share(img, 3)
	require.Len(t, handles, 3)
	assert.Equal(t, int64(42), handles[1].Timestamp())

	handles[0].Close()
	handles[0].Close()
	handles[2].Close()
	assert.Equal(t, 0, released)

	handles[1].Close()
	handles[1].Close()
	assert.Equal(t, 1, released)
}

func TestSharedImageConcurrentClose(t *testing.T) {
	var mu sync.Mutex
	released := 0
	img := NewBuffer(7, 1, 1, FormatRAW, nil, func([]byte) {
		mu.Lock()
		released++
		mu.Unlock()
	})

	handles := Share(img, 16)
	var wg sync.WaitGroup
	for _, h := range handles {
		for range 2 {
			wg.Add(1)
			go func(h Proxy) {
				defer wg.Done()
				h.Close()
			}(h)
		}
	}
	wg.Wait()
	assert.Equal(t, 1, released)
}

func TestRefCountedUnderflowPanics(t *testing.T) {
	released := 0
	rc := NewRefCounted(newTestImage(1, &released), 1)
	rc.Close()
	assert.Panics(t, rc.Close)
	assert.Panics(t, func() { NewRefCounted(newTestImage(2, &released), 0) })
}
