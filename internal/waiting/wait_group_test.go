package waiting_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trex-paxos/trex2/internal/waiting"
)

func TestWaitGroup_WaitsForEveryGoroutine(t *testing.T) {
	wg := waiting.NewWaitGroup()
	var counter atomic.Int64

	for range 10 {
		wg.Go(func() {
			counter.Add(1)
		})
	}

	wg.Wait()
	assert.Equal(t, int64(10), counter.Load())
}

func TestWaitGroup_PanicsWhenNotInitialized(t *testing.T) {
	var wg waiting.WaitGroup
	assert.PanicsWithValue(t, "waiting: WaitGroup is not initialized", func() {
		wg.Go(func() {})
	})
}
