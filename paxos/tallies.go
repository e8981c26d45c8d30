package paxos

// prepareTally tracks, per slot currently being probed by a Prepare this
// node issued, the PrepareResponses received so far keyed by voter node id.
type prepareTally struct {
	slot      Slot
	responses map[uint8]PrepareResponse
}

func newPrepareTally(slot Slot) *prepareTally {
	return &prepareTally{slot: slot, responses: map[uint8]PrepareResponse{}}
}

func (t *prepareTally) votes() []Vote {
	votes := make([]Vote, 0, len(t.responses))
	for _, r := range t.responses {
		votes = append(votes, r.Vote)
	}
	return votes
}

// acceptTally tracks the AcceptResponses for a slot this node is the
// proposer for, plus whether a quorum has already chosen it.
type acceptTally struct {
	accept    Accept
	responses map[uint8]AcceptResponse
	chosen    bool
}

func newAcceptTally(accept Accept) *acceptTally {
	return &acceptTally{accept: accept, responses: map[uint8]AcceptResponse{}}
}

func (t *acceptTally) votes() []Vote {
	votes := make([]Vote, 0, len(t.responses))
	for _, r := range t.responses {
		votes = append(votes, r.Vote)
	}
	return votes
}
