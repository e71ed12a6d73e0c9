package observable

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateNotifiesOnlyOnChange(t *testing.T) {
	s := NewState(3)
	var calls atomic.Int32
	remove := s.AddCallback(func() { calls.Add(1) })

	s.Update(3)
	assert.Equal(t, int32(0), calls.Load(), "same value must not notify")

	s.Update(4)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 4, s.Get())

	remove()
	s.Update(5)
	assert.Equal(t, int32(1), calls.Load(), "removed callback must not run")
}

func TestSumTracksInputs(t *testing.T) {
	a := NewState(2)
	b := NewState(5)
	sum := NewSum(a, b)

	var seen []int
	sum.AddCallback(func() { seen = append(seen, sum.Get()) })

	assert.Equal(t, 7, sum.Get())
	a.Update(0)
	b.Update(1)
	assert.Equal(t, []int{5, 1}, seen)
}

func TestFuncObservable(t *testing.T) {
	n := 9
	f := Func[int](func() int { return n })
	f.AddCallback(func() { t.Fatal("Func never notifies") })()
	assert.Equal(t, 9, f.Get())
}

func TestComputedNotifiesOnRequest(t *testing.T) {
	n := 1
	c := NewComputed(func() int { return n * 10 })
	var calls int
	c.AddCallback(func() { calls++ })

	n = 2
	assert.Equal(t, 20, c.Get())
	assert.Equal(t, 0, calls)
	c.Notify()
	assert.Equal(t, 1, calls)
}
