package ticketpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-frameshare/modules/observable"
)

// greedyHolder grabs every low-priority ticket it can and gives them all
// back when asked.
type greedyHolder struct {
	mu      sync.Mutex
	lane    Provider
	tickets []Ticket
	count   *observable.State[int]
	flushes int
}

func newGreedyHolder() *greedyHolder {
	return &greedyHolder{count: observable.NewState(0)}
}

func (g *greedyHolder) fill() {
	g.mu.Lock()
	for {
		tk := g.lane.TryAcquire()
		if tk == nil {
			break
		}
		g.tickets = append(g.tickets, tk)
	}
	n := len(g.tickets)
	g.mu.Unlock()
	g.count.Update(n)
}

func (g *greedyHolder) ReleaseLowPriorityTickets() {
	g.mu.Lock()
	tickets := g.tickets
	g.tickets = nil
	g.flushes++
	g.mu.Unlock()

	g.count.Update(0)
	CloseAll(tickets)
}

func (g *greedyHolder) ReleasableTicketCount() observable.Observable[int] {
	return g.count
}

func TestPrioritizerHighPriorityPreemptsLowPriority(t *testing.T) {
	root := NewFinitePool(4)
	prio := NewPrioritizer(root)
	holder := newGreedyHolder()
	holder.lane = prio.LowPriority()
	prio.SetLowPriorityHolder(holder)

	holder.fill()
	assert.Equal(t, 0, root.AvailableTicketCount().Get())
	assert.Equal(t, 4, prio.HighPriority().AvailableTicketCount().Get(),
		"high-priority count includes reclaimable tickets")
	assert.True(t, prio.HighPriority().CanAcquire(4))

	tickets, err := prio.HighPriority().Acquire(context.Background(), 4)
	require.NoError(t, err)
	assert.Len(t, tickets, 4)
	assert.Equal(t, 1, holder.flushes)

	CloseAll(tickets)
	assert.Equal(t, 4, root.AvailableTicketCount().Get())
}

func TestPrioritizerHighTryAcquireFlushes(t *testing.T) {
	root := NewFinitePool(1)
	prio := NewPrioritizer(root)
	holder := newGreedyHolder()
	holder.lane = prio.LowPriority()
	prio.SetLowPriorityHolder(holder)

	holder.fill()
	tk := prio.HighPriority().TryAcquire()
	require.NotNil(t, tk)
	tk.Close()
}

// TestPrioritizerLowPriorityRefusesWhileHighWaits blocks a high-priority
// request on a ticket held elsewhere. Until it is served the low-priority
// lane must not hand out tickets, even ones that become free.
func TestPrioritizerLowPriorityRefusesWhileHighWaits(t *testing.T) {
	root := NewFinitePool(2)
	prio := NewPrioritizer(root)

	outside, err := root.Acquire(context.Background(), 2)
	require.NoError(t, err)

	res := acquireAsync(context.Background(), prio.HighPriority(), 2)
	require.Eventually(t, func() bool { return prio.HighPriorityWaiters() == 1 }, time.Second, time.Millisecond)

	assert.Nil(t, prio.LowPriority().TryAcquire())
	assert.False(t, prio.LowPriority().CanAcquire(1))

	CloseAll(outside)
	r := <-res
	require.NoError(t, r.err)
	assert.Len(t, r.tickets, 2)
	assert.Equal(t, 0, prio.HighPriorityWaiters())

	CloseAll(r.tickets)
	tk := prio.LowPriority().TryAcquire()
	assert.NotNil(t, tk)
}
