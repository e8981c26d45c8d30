package testutil_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trex-paxos/trex2/internal/testutil"
)

func TestRunAsync_WaitsForBackgroundResult(t *testing.T) {
	ch := make(chan bool)

	get, done := testutil.RunAsync(t, func() bool {
		return <-ch
	})

	select {
	case <-done:
		t.Fatal("fn returned before it was signalled")
	case <-time.After(10 * time.Millisecond):
	}

	ch <- true
	assert.Equal(t, true, get())
	<-done
}
