package ticketpool

import (
	"sync"

	"github.com/e7canasta/orion-frameshare/modules/observable"
)

// Counter publishes the sum of several ticket-count observables.
//
// A multi-step operation that moves capacity between two inputs (for
// example, evicting a buffered image to lease its ticket again) brackets
// itself with Freeze/Unfreeze. While frozen the published value is pinned;
// it is recomputed, and listeners notified, only when the outermost
// Unfreeze returns the depth to zero.
//
// Thread-safety: all methods safe for concurrent use. Freeze/Unfreeze must
// be strictly nested; an unmatched Unfreeze panics.
type Counter struct {
	mu     sync.Mutex
	inputs []observable.Observable[int]
	depth  int

	value *observable.State[int]
}

var _ observable.Observable[int] = (*Counter)(nil)

// NewCounter creates a counter over inputs.
func NewCounter(inputs ...observable.Observable[int]) *Counter {
	c := &Counter{value: observable.NewState(0)}
	for _, in := range inputs {
		c.AddInput(in)
	}
	return c
}

// AddInput attaches another observable, e.g. a pool created after the
// counter.
func (c *Counter) AddInput(in observable.Observable[int]) {
	c.mu.Lock()
	c.inputs = append(c.inputs, in)
	c.mu.Unlock()

	in.AddCallback(c.inputChanged)
	c.publish()
}

func (c *Counter) inputChanged() {
	c.publish()
}

// publish recomputes and stores the sum unless frozen. Recomputes until
// stable so a racing publisher cannot leave a stale value behind.
func (c *Counter) publish() {
	for {
		v, ok := c.compute()
		if !ok {
			return
		}
		c.value.Update(v)
		if again, ok := c.compute(); !ok || again == v {
			return
		}
	}
}

func (c *Counter) compute() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depth > 0 {
		return 0, false
	}
	total := 0
	for _, in := range c.inputs {
		total += in.Get()
	}
	return total, true
}

// Freeze pins the published value at its current sum.
func (c *Counter) Freeze() {
	c.publish()
	c.mu.Lock()
	c.depth++
	c.mu.Unlock()
}

// Unfreeze releases one Freeze. The last one recomputes and notifies.
func (c *Counter) Unfreeze() {
	c.mu.Lock()
	c.depth--
	depth := c.depth
	if depth < 0 {
		c.depth = 0
		c.mu.Unlock()
		panic("ticketpool: Unfreeze without matching Freeze")
	}
	c.mu.Unlock()

	if depth == 0 {
		c.publish()
	}
}

// Get implements observable.Observable.
func (c *Counter) Get() int { return c.value.Get() }

// AddCallback implements observable.Observable.
func (c *Counter) AddCallback(fn func()) func() { return c.value.AddCallback(fn) }
