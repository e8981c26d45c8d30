// Package nodecond provides a condition variable keyed by peer node id,
// adapted from the teacher's paxos.NodeCond. enginetime's PeerSender uses
// it to park a per-peer retry goroutine until either a fresh message for
// that peer arrives or its context is cancelled.
package nodecond

import (
	"context"
	"sync"
)

// NodeCond is a condition variable for a set of node ids. Wait/Signal/
// Broadcast must all be called with the caller already holding mut.
type NodeCond struct {
	_ noCopy

	mut     *sync.Mutex
	waitSet map[uint8]chan struct{}
}

func New(mut *sync.Mutex) *NodeCond {
	return &NodeCond{
		mut:     mut,
		waitSet: map[uint8]chan struct{}{},
	}
}

// Wait releases mut, blocks until Signal(nodeID) or ctx is done, then
// reacquires mut before returning.
func (c *NodeCond) Wait(ctx context.Context, nodeID uint8) error {
	if prev, ok := c.waitSet[nodeID]; ok {
		close(prev)
	}
	signalCh := make(chan struct{})
	c.waitSet[nodeID] = signalCh

	c.mut.Unlock()
	select {
	case <-signalCh:
		c.mut.Lock()
		return nil
	case <-ctx.Done():
		c.mut.Lock()
		delete(c.waitSet, nodeID)
		return ctx.Err()
	}
}

// Signal wakes the single waiter parked on nodeID, if any.
func (c *NodeCond) Signal(nodeID uint8) {
	signalCh, ok := c.waitSet[nodeID]
	if !ok {
		return
	}
	delete(c.waitSet, nodeID)
	close(signalCh)
}

// Broadcast wakes every parked waiter.
func (c *NodeCond) Broadcast() {
	for nodeID, signalCh := range c.waitSet {
		close(signalCh)
		delete(c.waitSet, nodeID)
	}
}

type noCopy struct{}

var _ sync.Locker = &noCopy{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
