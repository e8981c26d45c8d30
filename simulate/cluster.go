// Package simulate implements the end-to-end scenarios of spec.md §8 as
// deterministic tests: a Cluster of enginetime.Engines, each backed by its
// own in-memory paxos/fake.Journal, exchanging messages through a
// internal/async.SimulateRuntime queue instead of goroutines or a real
// network. Grounded on the shape of the teacher's simulate.NodeState (one
// struct per simulated node bundling its fakes and its core logic).
package simulate

import (
	"github.com/trex-paxos/trex2/enginetime"
	"github.com/trex-paxos/trex2/internal/async"
	"github.com/trex-paxos/trex2/paxos"
	"github.com/trex-paxos/trex2/paxos/fake"
)

// Cluster wires N nodes together for a scenario test.
type Cluster struct {
	runtime  *async.SimulateRuntime
	engines  map[uint8]*enginetime.Engine
	journals map[uint8]*fake.Journal
	fixed    map[uint8]map[paxos.Slot]paxos.Command
	drop     func(to uint8, msg paxos.Message) bool
}

// NewCluster builds one Engine per id in nodeIDs, all sharing a
// paxos.MajorityQuorum sized to the cluster.
func NewCluster(nodeIDs []uint8) *Cluster {
	c := &Cluster{
		runtime:  async.NewSimulateRuntime(),
		engines:  map[uint8]*enginetime.Engine{},
		journals: map[uint8]*fake.Journal{},
		fixed:    map[uint8]map[paxos.Slot]paxos.Command{},
	}

	quorum := paxos.NewMajorityQuorum(len(nodeIDs))
	for _, id := range nodeIDs {
		journal := fake.NewJournal(id)
		node := paxos.NewNode(id, journal, quorum)
		engine := enginetime.NewEngine(node, journal, enginetime.NoHooks{})

		nodeID := id
		engine.OnFixed(func(fixed map[paxos.Slot]paxos.Command) {
			c.record(nodeID, fixed)
		})

		c.engines[id] = engine
		c.journals[id] = journal
		c.fixed[id] = map[paxos.Slot]paxos.Command{}
	}
	return c
}

func (c *Cluster) Engine(id uint8) *enginetime.Engine { return c.engines[id] }
func (c *Cluster) Journal(id uint8) *fake.Journal     { return c.journals[id] }

// Fixed returns the commands node id has reported fixed so far, keyed by
// slot.
func (c *Cluster) Fixed(id uint8) map[paxos.Slot]paxos.Command {
	return c.fixed[id]
}

func (c *Cluster) record(id uint8, fixed map[paxos.Slot]paxos.Command) {
	for slot, cmd := range fixed {
		if existing, ok := c.fixed[id][slot]; ok {
			async.AssertTrue(existing.Equal(cmd), "simulate: node fixed two different commands at the same slot")
			continue
		}
		c.fixed[id][slot] = cmd
	}
}

// Restart replaces node id's Engine with a fresh one built over the same
// Journal, simulating a process restart: volatile role/term/tallies are
// lost, Progress survives.
func (c *Cluster) Restart(id uint8, clusterSize int) {
	journal := c.journals[id]
	node := paxos.NewNode(id, journal, paxos.NewMajorityQuorum(clusterSize))
	engine := enginetime.NewEngine(node, journal, enginetime.NoHooks{})
	engine.OnFixed(func(fixed map[paxos.Slot]paxos.Command) {
		c.record(id, fixed)
	})
	c.engines[id] = engine
}

// SetDropFilter installs a predicate consulted by Deliver: messages for
// which it returns true are discarded instead of queued, modelling a
// network partition or a dropped packet. A nil filter (the default) drops
// nothing.
func (c *Cluster) SetDropFilter(fn func(to uint8, msg paxos.Message) bool) {
	c.drop = fn
}

// Deliver queues msg for delivery to node `to`. Delivery does not happen
// until RunAll drains the queue.
func (c *Cluster) Deliver(to uint8, msg paxos.Message) {
	if c.drop != nil && c.drop(to, msg) {
		return
	}
	c.runtime.AddNext(func() {
		engine, ok := c.engines[to]
		if !ok {
			return
		}
		result, err := engine.Paxos([]paxos.Message{msg})
		async.AssertTrue(err == nil, "simulate: journal must not fail in a scenario test")
		c.fanOut(result.Messages)
	})
}

// Broadcast queues msg for delivery to every node except its sender.
func (c *Cluster) Broadcast(msg paxos.Message) {
	from := msg.From()
	for id := range c.engines {
		if id == from {
			continue
		}
		c.Deliver(id, msg)
	}
}

// fanOut routes each message an Engine call produced to its recipient(s):
// direct messages (carrying a ToID) go straight there; broadcast-style
// messages (Prepare, Accept, Fixed) go to every other node.
func (c *Cluster) fanOut(messages []paxos.Message) {
	for _, msg := range messages {
		switch m := msg.(type) {
		case paxos.Prepare:
			c.Broadcast(m)
		case paxos.Accept:
			c.Broadcast(m)
		case paxos.Fixed:
			c.Broadcast(m)
		case paxos.PrepareResponse:
			c.Deliver(m.ToID, m)
		case paxos.AcceptResponse:
			c.Deliver(m.ToID, m)
		case paxos.Catchup:
			c.Deliver(m.ToID, m)
		case paxos.CatchupResponse:
			c.Deliver(m.ToID, m)
		}
	}
}

// Timeout drives node id's Timeout directly, since a real timer firing is
// a host event rather than a message in flight, then queues whatever
// Prepare it produced.
func (c *Cluster) Timeout(id uint8) {
	prepare, err := c.engines[id].Timeout()
	async.AssertTrue(err == nil, "simulate: journal must not fail in a scenario test")
	if prepare != nil {
		c.Broadcast(*prepare)
	}
}

// Command drives node id's Command directly with a single command and
// queues whatever messages it produced.
func (c *Cluster) Command(id uint8, cmd paxos.Command) []paxos.Message {
	messages, err := c.engines[id].Command([]paxos.Command{cmd})
	async.AssertTrue(err == nil, "simulate: journal must not fail in a scenario test")
	c.fanOut(messages)
	return messages
}

// RunAll drains every queued delivery, including deliveries newly queued
// by deliveries that ran earlier in the same drain, and reports how many
// ran.
func (c *Cluster) RunAll() int {
	return c.runtime.RunAll()
}
