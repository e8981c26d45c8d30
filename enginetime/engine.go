// Package enginetime wraps paxos.Node with the single-writer mutual
// exclusion, journal-sync ordering, timer-hook contract, and
// evidence-of-leader handling described for the Engine wrapper, adapted
// from the teacher's node.go/runner.go wiring of acceptorLogicImpl behind a
// mutex.
package enginetime

import (
	"fmt"
	"sync"

	"github.com/trex-paxos/trex2/paxos"
)

// Hooks lets the Engine arm and disarm the host's timers. The Engine never
// blocks on these calls; it is the host's responsibility (see RealClock) to
// eventually call back into Engine.Timeout / Engine.Heartbeat when a timer
// fires.
type Hooks interface {
	SetRandomTimeout()
	ClearTimeout()
	SetHeartbeat()
}

// NoHooks implements Hooks with no-ops, for hosts and tests that drive
// Timeout/Heartbeat explicitly instead of from a real clock.
type NoHooks struct{}

func (NoHooks) SetRandomTimeout() {}
func (NoHooks) ClearTimeout()     {}
func (NoHooks) SetHeartbeat()     {}

// Engine guards a *paxos.Node with a single-writer mutex and implements its
// host-observable surface: Paxos, Command, Timeout, Heartbeat, Start.
//
// Ordering guarantees it upholds: only one of Paxos/Command/Timeout/
// Heartbeat runs the core at a time; journal.Sync precedes the return of
// any call that may carry outbound messages resulting from a journalled
// write; self-originated messages in an inbound batch are dropped before
// the core ever sees them.
type Engine struct {
	mut     sync.Mutex
	node    *paxos.Node
	journal paxos.Journal
	hooks   Hooks
	onFixed func(map[paxos.Slot]paxos.Command)
}

// NewEngine wraps node. journal must be the same Journal node was built
// with: Engine calls Sync on it, it never writes through it directly.
func NewEngine(node *paxos.Node, journal paxos.Journal, hooks Hooks) *Engine {
	if hooks == nil {
		hooks = NoHooks{}
	}
	return &Engine{node: node, journal: journal, hooks: hooks}
}

// SetHooks replaces the Engine's timer hooks. Used when the hooks
// implementation itself needs a reference to the Engine (RealClock does)
// and so cannot be built before the Engine is: construct the Engine with
// NoHooks, build the hooks against it, then call SetHooks.
func (e *Engine) SetHooks(hooks Hooks) {
	if hooks == nil {
		hooks = NoHooks{}
	}
	e.mut.Lock()
	defer e.mut.Unlock()
	e.hooks = hooks
}

// OnFixed registers a callback invoked, outside the Engine's lock, with
// every non-empty map of newly fixed commands produced by Paxos, Command,
// or Timeout. The literal host-observable surface only returns messages
// and an optional Prepare; this is how a host learns which slots just got
// fixed without polling the journal. At most one listener is kept; a
// second call replaces the first.
func (e *Engine) OnFixed(fn func(map[paxos.Slot]paxos.Command)) {
	e.mut.Lock()
	defer e.mut.Unlock()
	e.onFixed = fn
}

func (e *Engine) NodeID() uint8 { return e.node.NodeID() }

func (e *Engine) Role() paxos.Role {
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.node.Role()
}

func (e *Engine) Progress() paxos.Progress {
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.node.Progress()
}

// Start arms the initial random timeout.
func (e *Engine) Start() {
	e.hooks.SetRandomTimeout()
}

// Paxos dispatches one batch of inbound messages: drops anything this node
// sent to itself, steps each remaining message through the core, merges
// the per-message results, flushes the journal, then returns.
func (e *Engine) Paxos(batch []paxos.Message) (paxos.Result, error) {
	e.mut.Lock()

	prevRole := e.node.Role()
	evidenceSeen := false
	var results []paxos.Result

	for _, msg := range batch {
		if msg.From() == e.node.NodeID() {
			continue
		}

		if e.hasEvidenceOfLeader(msg) {
			evidenceSeen = true
			if e.node.Role() == paxos.Lead {
				e.node.Abdicate()
			}
		}

		r, err := e.node.Step(msg)
		if err != nil {
			e.mut.Unlock()
			return paxos.Result{}, err
		}
		results = append(results, r)
	}

	merged := paxos.MergeResults(results)
	if err := e.journal.Sync(); err != nil {
		e.mut.Unlock()
		return paxos.Result{}, fmt.Errorf("enginetime: sync after paxos batch: %w", err)
	}

	e.rearmTimers(prevRole, evidenceSeen)
	listener := e.onFixed
	e.mut.Unlock()

	if listener != nil && len(merged.Fixed) > 0 {
		listener(merged.Fixed)
	}
	return merged, nil
}

// Command proposes each command in batch under the node's current term. A
// command that arrives while the node is not leading produces nothing and
// is silently dropped: Command only ever produces on a leader.
func (e *Engine) Command(batch []paxos.Command) ([]paxos.Message, error) {
	e.mut.Lock()

	prevRole := e.node.Role()
	var results []paxos.Result

	for _, cmd := range batch {
		result, ok, err := e.node.Propose(cmd)
		if err != nil {
			e.mut.Unlock()
			return nil, err
		}
		if !ok {
			continue
		}
		results = append(results, result)
	}

	merged := paxos.MergeResults(results)
	if err := e.journal.Sync(); err != nil {
		e.mut.Unlock()
		return nil, fmt.Errorf("enginetime: sync after command batch: %w", err)
	}

	e.rearmTimers(prevRole, false)
	listener := e.onFixed
	e.mut.Unlock()

	if listener != nil && len(merged.Fixed) > 0 {
		listener(merged.Fixed)
	}
	return merged.Messages, nil
}

// Timeout asks the core to begin or continue recovery, returning the
// Prepare to broadcast, or nil if the node was not Follow.
func (e *Engine) Timeout() (*paxos.Prepare, error) {
	e.mut.Lock()

	prevRole := e.node.Role()
	result, ok, err := e.node.Timeout()
	if err != nil {
		e.mut.Unlock()
		return nil, err
	}
	if !ok {
		e.mut.Unlock()
		return nil, nil
	}

	if err := e.journal.Sync(); err != nil {
		e.mut.Unlock()
		return nil, fmt.Errorf("enginetime: sync after timeout: %w", err)
	}

	e.rearmTimers(prevRole, false)
	listener := e.onFixed
	e.mut.Unlock()

	if listener != nil && len(result.Fixed) > 0 {
		listener(result.Fixed)
	}

	for _, m := range result.Messages {
		if p, ok := m.(paxos.Prepare); ok {
			return &p, nil
		}
	}
	return nil, nil
}

// Heartbeat produces the periodic keep-alive messages for the node's
// current role. Heartbeat never writes to the journal, so no sync is
// needed before it returns.
func (e *Engine) Heartbeat() ([]paxos.Message, error) {
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.node.Heartbeat().Messages, nil
}

// hasEvidenceOfLeader reports whether msg shows that another node has made
// more progress than this one has: fixed at least as far, accepted or
// fixed a slot this node hasn't reached, or (while this node leads)
// reports having fixed further than this node has.
func (e *Engine) hasEvidenceOfLeader(msg paxos.Message) bool {
	switch m := msg.(type) {
	case paxos.Fixed:
		return m.FixedSlot >= e.node.HighestFixed()
	case paxos.Accept:
		return m.Slot > e.node.HighestAccepted() || m.Slot > e.node.HighestFixed()
	case paxos.AcceptResponse:
		return e.node.Role() == paxos.Lead && m.VoterHighestFixed > e.node.HighestFixed()
	default:
		return false
	}
}

// rearmTimers applies the timer-hook contract: set_random_timeout on
// evidence of another leader or a Lead -> non-Lead transition,
// clear_timeout on ascent to Lead, set_heartbeat whenever the node ends
// the call Lead or Recover.
func (e *Engine) rearmTimers(prevRole paxos.Role, evidenceSeen bool) {
	role := e.node.Role()

	if evidenceSeen || (prevRole == paxos.Lead && role != paxos.Lead) {
		e.hooks.SetRandomTimeout()
	}
	if role == paxos.Lead && prevRole != paxos.Lead {
		e.hooks.ClearTimeout()
	}
	if role == paxos.Lead || role == paxos.Recover {
		e.hooks.SetHeartbeat()
	}
}
