package nodecond_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trex-paxos/trex2/internal/nodecond"
)

func TestNodeCond_SignalWakesWaiter(t *testing.T) {
	var mut sync.Mutex
	cond := nodecond.New(&mut)

	done := make(chan error, 1)
	go func() {
		mut.Lock()
		done <- cond.Wait(context.Background(), 7)
		mut.Unlock()
	}()

	// give the goroutine a chance to park before signalling.
	time.Sleep(10 * time.Millisecond)
	mut.Lock()
	cond.Signal(7)
	mut.Unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after Signal")
	}
}

func TestNodeCond_ContextCancelUnblocksWait(t *testing.T) {
	var mut sync.Mutex
	cond := nodecond.New(&mut)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	mut.Lock()
	go func() {
		mut.Lock()
		done <- cond.Wait(ctx, 1)
		mut.Unlock()
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	mut.Unlock()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after cancel")
	}
}
