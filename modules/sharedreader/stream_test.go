package sharedreader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-frameshare/modules/bufferqueue"
	"github.com/e7canasta/orion-frameshare/modules/imageproxy"
)

func testImage(ts int64) *imageproxy.Buffer {
	return imageproxy.NewBuffer(ts, 1, 1, imageproxy.FormatRGB, []byte{0, 0, 0}, nil)
}

func TestTicketFilterClosesImagesWithoutTicket(t *testing.T) {
	r, err := New(Config{MaxImages: 5})
	require.NoError(t, err)
	defer r.Close()

	s := r.CreateStream(1)
	require.NoError(t, s.Allocate(context.Background()))
	filter := &ticketFilter{stream: s}

	first, second := testImage(1), testImage(2)
	filter.Update(first)
	filter.Update(second)

	assert.False(t, first.Closed(), "admitted with the only ticket")
	assert.True(t, second.Closed(), "no ticket left")
	assert.Equal(t, uint64(1), s.Stats().Dropped)

	img, ok := s.PeekNext()
	require.True(t, ok)
	s.DiscardNext()
	assert.True(t, first.Closed())
	assert.Equal(t, int64(1), img.Timestamp())

	third := testImage(3)
	filter.Update(third)
	assert.False(t, third.Closed(), "discarded image returned its ticket")
}

func TestUnallocatedStreamDropsEverything(t *testing.T) {
	r, err := New(Config{MaxImages: 5})
	require.NoError(t, err)
	defer r.Close()

	s := r.CreateStream(2)
	img := testImage(1)
	(&ticketFilter{stream: s}).Update(img)
	assert.True(t, img.Closed())
}

func TestRequestFanout(t *testing.T) {
	f := newRequestFanout()
	once := bufferqueue.New[int64](nil)
	twice := bufferqueue.New[int64](nil)
	always := bufferqueue.New[int64](nil)
	gone := bufferqueue.New[int64](nil)

	f.next(once, 1)
	f.next(twice, 2)
	f.next(once, 0)
	f.repeat(always)
	f.repeat(gone)
	gone.Close()

	for ts := int64(10); ts < 13; ts++ {
		f.publish(ts)
	}

	assert.Equal(t, 1, once.Len())
	assert.Equal(t, 2, twice.Len())
	assert.Equal(t, 3, always.Len())
	assert.Equal(t, 1, f.pending())

	f.close()
	assert.True(t, always.IsClosed())
	assert.False(t, twice.IsClosed())
}
