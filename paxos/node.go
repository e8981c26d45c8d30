package paxos

import (
	"fmt"
	"sort"
)

// Node is the per-node Paxos decision function (PaxosCore, spec.md §2 C7).
// It owns Progress, the current Role/Term, and the volatile prepare/accept
// tallies, and maps an inbound Message plus current durable Progress to
// outbound messages, newly fixed commands, and updated Progress. It
// performs no I/O of its own beyond the Journal; the Engine wrapper
// (package enginetime) is responsible for flushing the journal and for the
// timeout/heartbeat surface around it (spec.md §1).
//
// Grounded on TrexNode.java's paxos(TrexMessage) switch; restructured here
// as one handler method per message kind instead of one large switch body,
// in the teacher's style of small single-purpose methods (e.g.
// acceptorLogicImpl.buildVoteResponse, updateTermNum).
type Node struct {
	nodeID  uint8
	journal Journal
	quorum  QuorumAssessor

	progress Progress
	role     Role
	term     *BallotNumber

	prepareTallies map[Slot]*prepareTally
	acceptTallies  map[Slot]*acceptTally
}

// NewNode constructs a Node that recovers its Progress from journal at
// startup. Per spec.md §1 non-goal (4), a freshly constructed Node always
// starts as a Follower: volatile tallies are never persisted across
// restarts.
func NewNode(nodeID uint8, journal Journal, quorum QuorumAssessor) *Node {
	return &Node{
		nodeID:         nodeID,
		journal:        journal,
		quorum:         quorum,
		progress:       journal.LoadProgress(nodeID),
		role:           Follow,
		prepareTallies: map[Slot]*prepareTally{},
		acceptTallies:  map[Slot]*acceptTally{},
	}
}

func (n *Node) NodeID() uint8         { return n.nodeID }
func (n *Node) Progress() Progress    { return n.progress }
func (n *Node) Role() Role            { return n.role }
func (n *Node) HighestFixed() Slot    { return n.progress.HighestFixed }
func (n *Node) HighestAccepted() Slot { return n.progress.HighestAccepted }

// Term returns the ballot this node currently proposes under, and whether
// it has one (it does not while Follow).
func (n *Node) Term() (BallotNumber, bool) {
	if n.term == nil {
		return BallotNumber{}, false
	}
	return *n.term, true
}

// Step is the main entry point: map one inbound Message to a Result. The
// Engine wrapper calls this once per message in a batch and merges the
// per-message Results with MergeResults.
//
// Self-delivery (spec.md §5): when a handler must vote for its own Prepare
// or Accept, it recurses into Step directly and merges the recursive
// Result into its own, so that any cascade all the way to a contiguous
// commit is visible to whichever public call (Step, Propose, Timeout)
// started the chain — see DESIGN.md's resolution of the "self-delivery
// result propagation" question.
func (n *Node) Step(msg Message) (Result, error) {
	switch m := msg.(type) {
	case Prepare:
		return n.handlePrepare(m)
	case PrepareResponse:
		return n.handlePrepareResponse(m)
	case Accept:
		return n.handleAccept(m)
	case AcceptResponse:
		return n.handleAcceptResponse(m)
	case Fixed:
		return n.handleFixed(m)
	case Catchup:
		return n.handleCatchup(m)
	case CatchupResponse:
		return n.handleCatchupResponse(m)
	default:
		panic(fmt.Sprintf("paxos: unhandled message type %T", msg))
	}
}

// ---------------------------------------------------------------------
// §4.4.1 Prepare
// ---------------------------------------------------------------------

func (n *Node) handlePrepare(msg Prepare) (Result, error) {
	p := n.progress

	switch {
	case msg.Ballot.Less(p.HighestPromised) || msg.Slot <= p.HighestFixed:
		return oneMessage(n.ackPrepare(msg, false)), nil

	case msg.Ballot.Greater(p.HighestPromised):
		n.progress.HighestPromised = msg.Ballot
		if err := n.journal.SaveProgress(n.progress); err != nil {
			return noResult(), fmt.Errorf("paxos: save progress on prepare: %w", err)
		}

		ack := n.ackPrepare(msg, true)
		result := oneMessage(ack)

		if msg.Ballot.NodeID != n.nodeID && n.role != Follow {
			n.backdown()
		}
		if msg.Ballot.NodeID == n.nodeID {
			sub, err := n.Step(ack)
			if err != nil {
				return noResult(), err
			}
			result = MergeResults([]Result{result, sub})
		}
		return result, nil

	case msg.Ballot.Equal(p.HighestPromised):
		return oneMessage(n.ackPrepare(msg, true)), nil

	default:
		panic("paxos: unreachable progress/prepare combination")
	}
}

func (n *Node) ackPrepare(p Prepare, yes bool) PrepareResponse {
	var journalled *Accept
	if a, ok := n.journal.LoadAccept(p.Slot); ok {
		journalled = &a
	}
	return PrepareResponse{
		FromID: n.nodeID,
		ToID:   p.FromID,
		Vote: Vote{
			Voter:    n.nodeID,
			VotedFor: p.Ballot.NodeID,
			Slot:     p.Slot,
			Yes:      yes,
			Ballot:   p.Ballot,
		},
		VoterHighestFixed: n.progress.HighestFixed,
		JournalledAccept:  journalled,
	}
}

// ---------------------------------------------------------------------
// §4.4.2 Accept
// ---------------------------------------------------------------------

func (n *Node) handleAccept(msg Accept) (Result, error) {
	p := n.progress

	lowerAccept := msg.Ballot.Less(p.HighestPromised)
	higherForFixedSlot := msg.Ballot.Greater(p.HighestPromised) && msg.Slot <= p.HighestFixed
	equalOrHigher := p.HighestPromised.LessOrEqual(msg.Ballot)

	switch {
	case lowerAccept || higherForFixedSlot:
		return oneMessage(n.ackAccept(msg, false)), nil

	case equalOrHigher:
		if err := n.journal.JournalAccept(msg); err != nil {
			return noResult(), fmt.Errorf("paxos: journal accept: %w", err)
		}
		if msg.Slot > n.progress.HighestAccepted {
			n.progress.HighestAccepted = msg.Slot
		}

		if msg.Ballot.Greater(p.HighestPromised) {
			// We must update the promise on a higher accept even absent a
			// prior Prepare (closes the race spec.md §4.4.2 calls out).
			n.progress.HighestPromised = msg.Ballot

			if n.role == Lead {
				if tally, ok := n.acceptTallies[msg.Slot]; ok && tally.accept.Ballot.Less(msg.Ballot) {
					tally.responses[n.nodeID] = n.ackAccept(tally.accept, false)
					outcome := n.quorum.AssessAccepts(msg.Slot, tally.votes())
					if outcome == LOSE {
						n.backdown()
					}
				}
			}
		}

		if err := n.journal.SaveProgress(n.progress); err != nil {
			return noResult(), fmt.Errorf("paxos: save progress on accept: %w", err)
		}

		ack := n.ackAccept(msg, true)
		result := oneMessage(ack)
		if msg.FromID == n.nodeID {
			sub, err := n.Step(ack)
			if err != nil {
				return noResult(), err
			}
			result = MergeResults([]Result{result, sub})
		}
		return result, nil

	default:
		panic("paxos: unreachable progress/accept combination")
	}
}

func (n *Node) ackAccept(a Accept, yes bool) AcceptResponse {
	return AcceptResponse{
		FromID: n.nodeID,
		ToID:   a.FromID,
		Vote: Vote{
			Voter:    n.nodeID,
			VotedFor: a.FromID,
			Slot:     a.Slot,
			Yes:      yes,
			Ballot:   a.Ballot,
		},
		VoterHighestFixed: n.progress.HighestFixed,
	}
}

// ---------------------------------------------------------------------
// §4.4.3 PrepareResponse
// ---------------------------------------------------------------------

func (n *Node) handlePrepareResponse(msg PrepareResponse) (Result, error) {
	if n.role != Recover || msg.ToID != n.nodeID {
		return noResult(), nil
	}

	if msg.VoterHighestFixed > n.progress.HighestFixed {
		n.backdown()
		return noResult(), nil
	}

	slot := msg.Vote.Slot
	tally := n.getOrCreatePrepareTally(slot)
	tally.responses[msg.FromID] = msg

	switch n.quorum.AssessPromises(slot, tally.votes()) {
	case WAIT:
		return noResult(), nil
	case LOSE:
		n.backdown()
		return noResult(), nil
	case WIN:
		return n.onPrepareWin(slot, tally)
	default:
		panic("paxos: unreachable quorum outcome")
	}
}

func (n *Node) onPrepareWin(slot Slot, tally *prepareTally) (Result, error) {
	var messages []Message

	// (a) extend probing if a voter has fixed further than we have probed.
	var maxVoterFixed Slot
	for _, r := range tally.responses {
		if r.VoterHighestFixed > maxVoterFixed {
			maxVoterFixed = r.VoterHighestFixed
		}
	}
	if highest := n.highestProbedSlot(); maxVoterFixed > highest && n.term != nil {
		for s := highest + 1; s <= maxVoterFixed; s++ {
			n.prepareTallies[s] = newPrepareTally(s)
			messages = append(messages, Prepare{FromID: n.nodeID, Slot: s, Ballot: *n.term})
		}
	}

	// (b) highest-numbered Accept observed across voters at this slot.
	chosen := NoOp
	var best *Accept
	for _, r := range tally.responses {
		if r.JournalledAccept == nil {
			continue
		}
		if best == nil || r.JournalledAccept.Compare(*best) > 0 {
			a := *r.JournalledAccept
			best = &a
		}
	}
	if best != nil {
		chosen = best.Command
	}

	result := Result{Messages: messages}
	if n.term != nil {
		// (c) issue a fresh Accept under our term and self-deliver it.
		accept := Accept{FromID: n.nodeID, Slot: slot, Ballot: *n.term, Command: chosen}
		n.acceptTallies[slot] = newAcceptTally(accept)
		sub, err := n.Step(accept)
		if err != nil {
			return noResult(), err
		}
		result = MergeResults([]Result{{Messages: append(messages, Message(accept))}, sub})
	}

	// (d) remove the PrepareTally for this slot.
	delete(n.prepareTallies, slot)
	// (e) promote once no PrepareTallies remain.
	if len(n.prepareTallies) == 0 {
		n.role = Lead
	}
	return result, nil
}

func (n *Node) highestProbedSlot() Slot {
	var max Slot
	for s := range n.prepareTallies {
		if s > max {
			max = s
		}
	}
	return max
}

func (n *Node) getOrCreatePrepareTally(slot Slot) *prepareTally {
	t, ok := n.prepareTallies[slot]
	if !ok {
		t = newPrepareTally(slot)
		n.prepareTallies[slot] = t
	}
	return t
}

// ---------------------------------------------------------------------
// §4.4.4 AcceptResponse
// ---------------------------------------------------------------------

func (n *Node) handleAcceptResponse(msg AcceptResponse) (Result, error) {
	if n.role == Follow || msg.ToID != n.nodeID {
		return noResult(), nil
	}

	if n.role == Lead && msg.VoterHighestFixed > n.progress.HighestFixed {
		n.backdown()
		return noResult(), nil
	}

	slot := msg.Vote.Slot
	tally, ok := n.acceptTallies[slot]
	if !ok || tally.chosen {
		return noResult(), nil
	}

	tally.responses[msg.FromID] = msg
	switch n.quorum.AssessAccepts(slot, tally.votes()) {
	case WAIT:
		return noResult(), nil
	case LOSE:
		n.backdown()
		return noResult(), nil
	case WIN:
		return n.onAcceptWin(tally)
	default:
		panic("paxos: unreachable quorum outcome")
	}
}

// onAcceptWin marks the tally chosen and runs the contiguous commit scan
// (spec.md §4.4.4): starting at the smallest slot tracked in acceptTallies,
// walk ascending and fix every contiguous chosen entry, stopping at the
// first gap.
func (n *Node) onAcceptWin(tally *acceptTally) (Result, error) {
	tally.chosen = true

	fixed := map[Slot]Command{}
	var toDelete []Slot
	var lastSlot Slot
	var lastBallot BallotNumber
	advanced := false

	for _, slot := range sortedAcceptSlots(n.acceptTallies) {
		t := n.acceptTallies[slot]
		if !t.chosen {
			break
		}
		a, ok := n.journal.LoadAccept(slot)
		assertTrue(ok, "contiguous commit scan found a chosen slot with no journalled accept")

		fixed[slot] = a.Command
		toDelete = append(toDelete, slot)
		n.progress.HighestFixed = slot
		lastSlot, lastBallot = slot, a.Ballot
		advanced = true
	}

	if !advanced {
		return noResult(), nil
	}

	for _, slot := range toDelete {
		delete(n.acceptTallies, slot)
	}
	if err := n.journal.SaveProgress(n.progress); err != nil {
		return noResult(), fmt.Errorf("paxos: save progress on commit: %w", err)
	}

	fixedMsg := Fixed{FromID: n.nodeID, FixedSlot: lastSlot, FixedBallot: lastBallot}
	return Result{Messages: []Message{fixedMsg}, Fixed: fixed}, nil
}

// ---------------------------------------------------------------------
// §4.4.5 Fixed / Commit
// ---------------------------------------------------------------------

func (n *Node) handleFixed(msg Fixed) (Result, error) {
	h := n.progress.HighestFixed
	if msg.FixedSlot <= h {
		return noResult(), nil
	}

	fixed := map[Slot]Command{}
	advancedTo := h
	for s := h + 1; s <= msg.FixedSlot; s++ {
		a, ok := n.journal.LoadAccept(s)
		if !ok {
			break
		}
		if s == msg.FixedSlot && !a.Ballot.Equal(msg.FixedBallot) {
			break
		}
		fixed[s] = a.Command
		advancedTo = s
	}

	if advancedTo > h {
		n.progress.HighestFixed = advancedTo
		if err := n.journal.SaveProgress(n.progress); err != nil {
			return noResult(), fmt.Errorf("paxos: save progress on fixed: %w", err)
		}
	}

	var messages []Message
	if advancedTo < msg.FixedSlot {
		missing := make([]Slot, 0, int(msg.FixedSlot-advancedTo))
		for s := advancedTo + 1; s <= msg.FixedSlot; s++ {
			missing = append(missing, s)
		}
		messages = append(messages, Catchup{FromID: n.nodeID, ToID: msg.FromID, Slots: missing})
	}

	// Authoritative evidence that another node has fixed more than us.
	if n.role != Follow {
		n.backdown()
	}

	return Result{Messages: messages, Fixed: fixed}, nil
}

// ---------------------------------------------------------------------
// §4.4.6 Catchup
// ---------------------------------------------------------------------

func (n *Node) handleCatchup(msg Catchup) (Result, error) {
	var accepts []Accept
	for _, s := range msg.Slots {
		if s > n.progress.HighestFixed {
			continue
		}
		if a, ok := n.journal.LoadAccept(s); ok {
			accepts = append(accepts, a)
		}
	}
	resp := CatchupResponse{FromID: n.nodeID, ToID: msg.FromID, Accepts: accepts}
	return oneMessage(resp), nil
}

// ---------------------------------------------------------------------
// §4.4.7 CatchupResponse
// ---------------------------------------------------------------------

func (n *Node) handleCatchupResponse(msg CatchupResponse) (Result, error) {
	results := make([]Result, 0, len(msg.Accepts))
	for _, a := range msg.Accepts {
		r, err := n.handleAccept(a)
		if err != nil {
			return noResult(), err
		}
		results = append(results, r)
	}
	// The contiguous commit scan is not run here (spec.md §4.4.7): the
	// next Fixed/Commit drives fixing. handleAccept never populates Fixed
	// on its own, so nothing further to strip.
	return MergeResults(results), nil
}

// ---------------------------------------------------------------------
// §4.4.8 Host-initiated Propose
// ---------------------------------------------------------------------

// Propose constructs an Accept for the next log slot under the node's
// current term, journals and self-delivers it, and returns the cascade.
// Valid only when Role()==Lead and a Term is set; otherwise it is a no-op
// per spec.md §9(ii).
func (n *Node) Propose(cmd Command) (Result, bool, error) {
	if n.role != Lead || n.term == nil {
		return noResult(), false, nil
	}

	slot := n.progress.HighestAccepted + 1
	accept := Accept{FromID: n.nodeID, Slot: slot, Ballot: *n.term, Command: cmd}
	n.acceptTallies[slot] = newAcceptTally(accept)

	sub, err := n.Step(accept)
	if err != nil {
		return noResult(), false, err
	}
	result := MergeResults([]Result{{Messages: []Message{accept}}, sub})
	return result, true, nil
}

// ---------------------------------------------------------------------
// §4.4.9 Timeout
// ---------------------------------------------------------------------

// Timeout transitions Follow -> Recover, mints a fresh term and Prepares
// the next unfixed slot, self-delivering the Prepare. A no-op if the node
// is already Recover or Lead.
func (n *Node) Timeout() (Result, bool, error) {
	if n.role != Follow {
		return noResult(), false, nil
	}

	n.role = Recover
	term := NextBallot(n.progress.HighestPromised, n.nodeID)
	n.term = &term

	prepare := Prepare{FromID: n.nodeID, Slot: n.progress.HighestFixed + 1, Ballot: term}
	sub, err := n.Step(prepare)
	if err != nil {
		return noResult(), false, err
	}
	result := MergeResults([]Result{{Messages: []Message{prepare}}, sub})
	return result, true, nil
}

// ---------------------------------------------------------------------
// §4.4.10 Heartbeat
// ---------------------------------------------------------------------

// Heartbeat produces the periodic messages required to paper over dropped
// messages and stop peers from timing out: a Fixed announcement plus
// pending Accepts while Lead, or a re-issue of every slot currently being
// probed while Recover.
func (n *Node) Heartbeat() Result {
	switch n.role {
	case Lead:
		messages := []Message{n.currentFixedMessage()}
		messages = append(messages, n.pendingAcceptMessages()...)
		return Result{Messages: messages}

	case Recover:
		var messages []Message
		for _, slot := range sortedPrepareSlots(n.prepareTallies) {
			messages = append(messages, Prepare{FromID: n.nodeID, Slot: slot, Ballot: *n.term})
		}
		return Result{Messages: messages}

	default:
		return noResult()
	}
}

func (n *Node) currentFixedMessage() Fixed {
	var ballot BallotNumber
	if a, ok := n.journal.LoadAccept(n.progress.HighestFixed); ok {
		ballot = a.Ballot
	}
	return Fixed{FromID: n.nodeID, FixedSlot: n.progress.HighestFixed, FixedBallot: ballot}
}

func (n *Node) pendingAcceptMessages() []Message {
	var out []Message
	for s := n.progress.HighestFixed + 1; s <= n.progress.HighestAccepted; s++ {
		a, ok := n.journal.LoadAccept(s)
		if !ok {
			break
		}
		out = append(out, a)
	}
	return out
}

// ---------------------------------------------------------------------
// §4.4.11 Backdown
// ---------------------------------------------------------------------

// Abdicate exposes backdown to the Engine wrapper, which must be able to
// force a Lead node back to Follow on evidence of another leader before
// stepping the message that carried that evidence (spec.md §4.5).
func (n *Node) Abdicate() {
	n.backdown()
}

// backdown transitions to Follow and clears volatile tallies and term.
// Progress is left untouched (spec.md §8 property 10).
func (n *Node) backdown() {
	n.role = Follow
	n.prepareTallies = map[Slot]*prepareTally{}
	n.acceptTallies = map[Slot]*acceptTally{}
	n.term = nil
}

// ---------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------

func oneMessage(m Message) Result {
	return Result{Messages: []Message{m}}
}

func sortedPrepareSlots(m map[Slot]*prepareTally) []Slot {
	slots := make([]Slot, 0, len(m))
	for s := range m {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

func sortedAcceptSlots(m map[Slot]*acceptTally) []Slot {
	slots := make([]Slot, 0, len(m))
	for s := range m {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}
