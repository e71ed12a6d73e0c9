package ticketpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (p *ReservablePool) waiterCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len()
}

func TestReservablePoolReserveAndAcquire(t *testing.T) {
	root := NewFinitePool(4)
	p := NewReservablePool(root)

	_, err := p.Acquire(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoCapacity, "no capacity reserved yet")
	assert.Nil(t, p.TryAcquire())

	require.NoError(t, p.ReserveCapacity(context.Background(), 2))
	assert.Equal(t, 2, p.Capacity())
	assert.Equal(t, 2, p.AvailableTicketCount().Get())
	assert.Equal(t, 2, root.AvailableTicketCount().Get())

	tickets, err := p.Acquire(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, p.AvailableTicketCount().Get())

	// Under capacity: tickets come back to the local pool, not the root.
	CloseAll(tickets)
	assert.Equal(t, 2, p.AvailableTicketCount().Get())
	assert.Equal(t, 2, root.AvailableTicketCount().Get())
}

func TestReservablePoolReleaseCapacity(t *testing.T) {
	root := NewFinitePool(3)
	p := NewReservablePool(root)
	require.NoError(t, p.ReserveCapacity(context.Background(), 3))

	a := p.TryAcquire()
	b := p.TryAcquire()
	require.NotNil(t, a)
	require.NotNil(t, b)

	// One idle ticket goes back immediately, one outstanding goes back when
	// closed.
	p.ReleaseCapacity(2)
	assert.Equal(t, 1, p.Capacity())
	assert.Equal(t, 1, root.AvailableTicketCount().Get())

	a.Close()
	assert.Equal(t, 2, root.AvailableTicketCount().Get())
	assert.Equal(t, 0, p.AvailableTicketCount().Get())

	b.Close()
	assert.Equal(t, 2, root.AvailableTicketCount().Get())
	assert.Equal(t, 1, p.AvailableTicketCount().Get())

	p.Close()
	assert.Equal(t, 3, root.AvailableTicketCount().Get())
	assert.Nil(t, p.TryAcquire())
}

func TestReservablePoolAbortsOversizedWaiters(t *testing.T) {
	root := NewFinitePool(2)
	p := NewReservablePool(root)
	require.NoError(t, p.ReserveCapacity(context.Background(), 2))
	held := p.TryAcquire()

	res := acquireAsync(context.Background(), p, 2)
	require.Eventually(t, func() bool { return p.waiterCount() == 1 }, time.Second, time.Millisecond)

	p.ReleaseCapacity(1)
	r := <-res
	assert.ErrorIs(t, r.err, ErrNoCapacity)
	assert.NotErrorIs(t, r.err, ErrClosed)

	held.Close()
	assert.Equal(t, 1, p.AvailableTicketCount().Get())
	assert.Equal(t, 1, root.AvailableTicketCount().Get())
}

func TestReservablePoolWaiterServedOnReturn(t *testing.T) {
	root := NewFinitePool(2)
	p := NewReservablePool(root)
	require.NoError(t, p.ReserveCapacity(context.Background(), 2))
	held, err := p.Acquire(context.Background(), 2)
	require.NoError(t, err)

	res := acquireAsync(context.Background(), p, 1)
	require.Eventually(t, func() bool { return p.waiterCount() == 1 }, time.Second, time.Millisecond)

	held[0].Close()
	r := <-res
	require.NoError(t, r.err)
	require.Len(t, r.tickets, 1)

	p.Close()
	CloseAll(r.tickets)
	held[1].Close()
	assert.Equal(t, 2, root.AvailableTicketCount().Get())
}

func TestReservablePoolCloseFailsWaiters(t *testing.T) {
	root := NewFinitePool(1)
	p := NewReservablePool(root)
	require.NoError(t, p.ReserveCapacity(context.Background(), 1))
	held := p.TryAcquire()

	res := acquireAsync(context.Background(), p, 1)
	require.Eventually(t, func() bool { return p.waiterCount() == 1 }, time.Second, time.Millisecond)

	p.Close()
	r := <-res
	assert.ErrorIs(t, r.err, ErrClosed)

	held.Close()
	assert.Equal(t, 1, root.AvailableTicketCount().Get())
	assert.ErrorIs(t, p.ReserveCapacity(context.Background(), 1), ErrClosed)
	assert.Equal(t, 1, root.AvailableTicketCount().Get())
}
