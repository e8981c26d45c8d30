package async_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/trex-paxos/trex2/internal/async"
)

func TestSimulateRuntime_RunsInFIFOOrder(t *testing.T) {
	rt := NewSimulateRuntime()
	var order []int

	rt.AddNext(func() { order = append(order, 1) })
	rt.AddNext(func() { order = append(order, 2) })

	assert.Equal(t, 2, rt.Pending())
	assert.True(t, rt.RunNext())
	assert.True(t, rt.RunNext())
	assert.False(t, rt.RunNext())
	assert.Equal(t, []int{1, 2}, order)
}

func TestSimulateRuntime_RunAllDrainsCascadingWork(t *testing.T) {
	rt := NewSimulateRuntime()
	var count int

	rt.AddNext(func() {
		count++
		if count < 3 {
			rt.AddNext(func() { count++ })
		}
	})

	ran := rt.RunAll()
	assert.Equal(t, 2, ran)
	assert.Equal(t, 2, count)
}

func TestAssertTrue_PanicsOnFalse(t *testing.T) {
	assert.Panics(t, func() { AssertTrue(false, "unreachable") })
	assert.NotPanics(t, func() { AssertTrue(true, "fine") })
}
