package paxos_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trex-paxos/trex2/paxos"
	"github.com/trex-paxos/trex2/paxos/fake"
)

// TestNode_SingleNodeCluster_SelfDeliveryFixesImmediately mirrors spec.md
// §8 scenario S1: with a cluster size of one, a Timeout and a Propose each
// self-deliver all the way to a contiguous commit within the one call.
func TestNode_SingleNodeCluster_SelfDeliveryFixesImmediately(t *testing.T) {
	journal := fake.NewJournal(1)
	node := NewNode(1, journal, NewMajorityQuorum(1))

	timeoutResult, ok, err := node.Timeout()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, Lead, node.Role())
	assert.EqualValues(t, 1, node.HighestFixed())
	require.Contains(t, timeoutResult.Fixed, Slot(1))
	assert.True(t, timeoutResult.Fixed[1].IsNoOp())

	cmd := NewAppCommand([]byte("client-msg-1"), []byte("payload"))
	proposeResult, proposed, err := node.Propose(cmd)
	require.NoError(t, err)
	require.True(t, proposed)

	assert.EqualValues(t, 2, node.HighestFixed())
	require.Contains(t, proposeResult.Fixed, Slot(2))
	assert.True(t, proposeResult.Fixed[2].Equal(cmd))
}

func TestNode_Propose_NoOpWhenNotLeader(t *testing.T) {
	journal := fake.NewJournal(1)
	node := NewNode(1, journal, NewMajorityQuorum(3))

	result, ok, err := node.Propose(NewAppCommand([]byte("id"), []byte("x")))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, result.Messages)
}

func TestNode_Timeout_NoOpUnlessFollowing(t *testing.T) {
	journal := fake.NewJournal(1)
	node := NewNode(1, journal, NewMajorityQuorum(1))

	_, ok, err := node.Timeout()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Lead, node.Role())

	_, ok, err = node.Timeout()
	require.NoError(t, err)
	assert.False(t, ok, "a Lead node ignores a further Timeout")
}

func TestNode_Prepare_RejectsBallotBelowPromise(t *testing.T) {
	journal := fake.NewJournal(2)
	node := NewNode(2, journal, NewMajorityQuorum(3))

	high := BallotNumber{Counter: 5, NodeID: 9}
	_, err := node.Step(Prepare{FromID: 9, Slot: 1, Ballot: high})
	require.NoError(t, err)

	low := BallotNumber{Counter: 1, NodeID: 7}
	result, err := node.Step(Prepare{FromID: 7, Slot: 1, Ballot: low})
	require.NoError(t, err)

	require.Len(t, result.Messages, 1)
	resp := result.Messages[0].(PrepareResponse)
	assert.False(t, resp.Vote.Yes)
}

func TestNode_Prepare_RejectsSlotAlreadyFixed(t *testing.T) {
	journal := fake.NewJournal(2)
	require.NoError(t, journal.SaveProgress(Progress{NodeID: 2, HighestFixed: 5}))
	node := NewNode(2, journal, NewMajorityQuorum(3))

	result, err := node.Step(Prepare{FromID: 9, Slot: 3, Ballot: BallotNumber{Counter: 1, NodeID: 9}})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.False(t, result.Messages[0].(PrepareResponse).Vote.Yes)
}

// TestNode_ThreeNodeCluster_RecoveryToLeadToFix drives node 1 through
// Recover -> Lead -> a contiguous commit by feeding it the PrepareResponse
// and AcceptResponse that peers 2 and 3 would have sent over the wire.
func TestNode_ThreeNodeCluster_RecoveryToLeadToFix(t *testing.T) {
	journal := fake.NewJournal(1)
	node := NewNode(1, journal, NewMajorityQuorum(3))

	timeoutResult, ok, err := node.Timeout()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Recover, node.Role(), "a lone self-vote cannot reach a 3-node majority")

	var prepare Prepare
	foundPrepare := false
	for _, m := range timeoutResult.Messages {
		if p, ok := m.(Prepare); ok {
			prepare, foundPrepare = p, true
		}
	}
	require.True(t, foundPrepare, "Timeout must emit the Prepare to broadcast")
	term, hasTerm := node.Term()
	require.True(t, hasTerm)
	assert.Equal(t, prepare.Ballot, term)

	peerPromise := PrepareResponse{
		FromID:            2,
		ToID:              1,
		Vote:              Vote{Voter: 2, VotedFor: 1, Slot: prepare.Slot, Yes: true, Ballot: term},
		VoterHighestFixed: 0,
	}
	promiseResult, err := node.Step(peerPromise)
	require.NoError(t, err)
	assert.Equal(t, Lead, node.Role())

	var issuedAccept Accept
	found := false
	for _, m := range promiseResult.Messages {
		if a, ok := m.(Accept); ok {
			issuedAccept = a
			found = true
		}
	}
	require.True(t, found, "winning the promise quorum must issue an Accept")
	assert.True(t, issuedAccept.Command.IsNoOp())
	assert.Empty(t, promiseResult.Fixed, "one accept vote out of three cannot yet fix")

	peerAccept := AcceptResponse{
		FromID:            2,
		ToID:              1,
		Vote:              Vote{Voter: 2, VotedFor: 1, Slot: issuedAccept.Slot, Yes: true, Ballot: term},
		VoterHighestFixed: 0,
	}
	acceptResult, err := node.Step(peerAccept)
	require.NoError(t, err)
	require.Contains(t, acceptResult.Fixed, issuedAccept.Slot)
	assert.True(t, acceptResult.Fixed[issuedAccept.Slot].IsNoOp())
	assert.EqualValues(t, issuedAccept.Slot, node.HighestFixed())
}

func TestNode_Fixed_RequestsCatchupOnGap(t *testing.T) {
	journal := fake.NewJournal(2)
	node := NewNode(2, journal, NewMajorityQuorum(3))

	msg := Fixed{FromID: 1, FixedSlot: 1, FixedBallot: BallotNumber{Counter: 1, NodeID: 1}}
	result, err := node.Step(msg)
	require.NoError(t, err)

	assert.Empty(t, result.Fixed)
	require.Len(t, result.Messages, 1)
	catchup := result.Messages[0].(Catchup)
	assert.Equal(t, uint8(1), catchup.ToID)
	assert.Equal(t, []Slot{1}, catchup.Slots)
	assert.EqualValues(t, 0, node.HighestFixed())
}

func TestNode_Fixed_RequestsCatchupAndBacksDownALeader(t *testing.T) {
	journal := fake.NewJournal(3)
	node := NewNode(3, journal, NewMajorityQuorum(1))

	_, ok, err := node.Timeout()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Lead, node.Role())
	require.EqualValues(t, 1, node.HighestFixed())

	msg := Fixed{FromID: 9, FixedSlot: 2, FixedBallot: BallotNumber{Counter: 99, NodeID: 9}}
	result, err := node.Step(msg)
	require.NoError(t, err)

	assert.Empty(t, result.Fixed, "the accept at slot 2 was never journalled locally")
	require.Len(t, result.Messages, 1)
	assert.Equal(t, []Slot{2}, result.Messages[0].(Catchup).Slots)
	assert.Equal(t, Follow, node.Role(), "evidence of a fixed slot beyond ours forces backdown")
}

func TestNode_Catchup_OmitsUnfixedAndUnknownSlots(t *testing.T) {
	journal := fake.NewJournal(5)
	require.NoError(t, journal.JournalAccept(Accept{FromID: 1, Slot: 1, Ballot: BallotNumber{Counter: 1, NodeID: 1}, Command: NoOp}))
	require.NoError(t, journal.JournalAccept(Accept{FromID: 1, Slot: 2, Ballot: BallotNumber{Counter: 1, NodeID: 1}, Command: NoOp}))
	require.NoError(t, journal.SaveProgress(Progress{NodeID: 5, HighestFixed: 2, HighestAccepted: 2}))

	node := NewNode(5, journal, NewMajorityQuorum(3))
	result, err := node.Step(Catchup{FromID: 9, ToID: 5, Slots: []Slot{1, 2, 3}})
	require.NoError(t, err)

	require.Len(t, result.Messages, 1)
	resp := result.Messages[0].(CatchupResponse)
	assert.Len(t, resp.Accepts, 2)
}

func TestNode_CatchupResponse_JournalsButDoesNotFix(t *testing.T) {
	journal := fake.NewJournal(2)
	node := NewNode(2, journal, NewMajorityQuorum(3))

	accept := Accept{FromID: 1, Slot: 1, Ballot: BallotNumber{Counter: 1, NodeID: 1}, Command: NoOp}
	result, err := node.Step(CatchupResponse{FromID: 9, ToID: 2, Accepts: []Accept{accept}})
	require.NoError(t, err)

	assert.Empty(t, result.Fixed, "fixing only happens via a subsequent Fixed message")
	loaded, ok := journal.LoadAccept(1)
	require.True(t, ok)
	assert.Equal(t, accept, loaded)
}

// TestNode_Recovery_PicksHighestNumberedJournalledAccept mirrors spec.md §8
// scenario S4: two peers hold different unfixed Accepts at the same slot
// under different ballots; the new leader must adopt whichever one carries
// the higher ballot, from whichever quorum actually answers its Prepare.
func TestNode_Recovery_PicksHighestNumberedJournalledAccept(t *testing.T) {
	journal := fake.NewJournal(1)
	require.NoError(t, journal.SaveProgress(Progress{
		NodeID:          1,
		HighestPromised: BallotNumber{Counter: 4, NodeID: 1},
		HighestFixed:    6,
		HighestAccepted: 6,
	}))
	node := NewNode(1, journal, NewMajorityQuorum(3))

	timeoutResult, ok, err := node.Timeout()
	require.NoError(t, err)
	require.True(t, ok)

	term, hasTerm := node.Term()
	require.True(t, hasTerm)
	assert.Equal(t, BallotNumber{Counter: 5, NodeID: 1}, term)

	var prepare Prepare
	for _, m := range timeoutResult.Messages {
		if p, ok := m.(Prepare); ok {
			prepare = p
		}
	}
	require.EqualValues(t, 7, prepare.Slot)

	cmdC := NewAppCommand([]byte("id-c"), []byte("papers-c"))
	cmdD := NewAppCommand([]byte("id-d"), []byte("papers-d"))
	acceptC := Accept{FromID: 9, Slot: 7, Ballot: BallotNumber{Counter: 3, NodeID: 9}, Command: cmdC}
	acceptD := Accept{FromID: 8, Slot: 7, Ballot: BallotNumber{Counter: 4, NodeID: 9}, Command: cmdD}

	// Node 3's response, carrying the higher-ballot Accept, is the one
	// that completes the promise quorum alongside node 1's self-vote: the
	// proposal it builds must be derived only from the quorum that
	// actually answered, exactly like real Paxos recovery.
	promiseResult, err := node.Step(PrepareResponse{
		FromID:            3,
		ToID:              1,
		Vote:              Vote{Voter: 3, VotedFor: 1, Slot: 7, Yes: true, Ballot: term},
		VoterHighestFixed: 0,
		JournalledAccept:  &acceptD,
	})
	require.NoError(t, err)
	require.Equal(t, Lead, node.Role())

	var issuedAccept Accept
	found := false
	for _, m := range promiseResult.Messages {
		if a, ok := m.(Accept); ok {
			issuedAccept, found = a, true
		}
	}
	require.True(t, found)
	assert.True(t, issuedAccept.Command.Equal(cmdD), "the higher-ballot accept must win")

	// Node 2's stale response arrives afterward, carrying the lower-ballot
	// accept; the slot has already been decided and the promise tally for
	// it no longer exists, so this must have no effect.
	lateResult, err := node.Step(PrepareResponse{
		FromID:            2,
		ToID:              1,
		Vote:              Vote{Voter: 2, VotedFor: 1, Slot: 7, Yes: true, Ballot: term},
		VoterHighestFixed: 0,
		JournalledAccept:  &acceptC,
	})
	require.NoError(t, err)
	assert.Empty(t, lateResult.Messages)
	assert.Empty(t, lateResult.Fixed)

	acceptResult, err := node.Step(AcceptResponse{
		FromID:            3,
		ToID:              1,
		Vote:              Vote{Voter: 3, VotedFor: 1, Slot: 7, Yes: true, Ballot: term},
		VoterHighestFixed: 0,
	})
	require.NoError(t, err)
	require.Contains(t, acceptResult.Fixed, Slot(7))
	assert.True(t, acceptResult.Fixed[7].Equal(cmdD))
	assert.EqualValues(t, 7, node.HighestFixed())
}

// TestNode_ContiguousCommitScan_StopsAtGapThenAdvancesInOneStep mirrors
// spec.md §8 scenario S5: chosen accept-tallies at two slots with a gap
// between them only advance highest_fixed up to the gap; filling the gap
// later advances through both remaining slots in a single scan.
func TestNode_ContiguousCommitScan_StopsAtGapThenAdvancesInOneStep(t *testing.T) {
	journal := fake.NewJournal(1)
	node := NewNode(1, journal, NewMajorityQuorum(3))

	timeoutResult, ok, err := node.Timeout()
	require.NoError(t, err)
	require.True(t, ok)

	var prepare Prepare
	for _, m := range timeoutResult.Messages {
		if p, ok := m.(Prepare); ok {
			prepare = p
		}
	}
	term, hasTerm := node.Term()
	require.True(t, hasTerm)

	_, err = node.Step(PrepareResponse{
		FromID: 2, ToID: 1,
		Vote: Vote{Voter: 2, VotedFor: 1, Slot: prepare.Slot, Yes: true, Ballot: term},
	})
	require.NoError(t, err)
	require.Equal(t, Lead, node.Role())

	_, err = node.Step(AcceptResponse{
		FromID: 2, ToID: 1,
		Vote: Vote{Voter: 2, VotedFor: 1, Slot: 1, Yes: true, Ballot: term},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, node.HighestFixed())

	cmd2 := NewAppCommand([]byte("id-2"), []byte("two"))
	cmd3 := NewAppCommand([]byte("id-3"), []byte("three"))
	cmd4 := NewAppCommand([]byte("id-4"), []byte("four"))

	for _, cmd := range []Command{cmd2, cmd3, cmd4} {
		_, proposed, err := node.Propose(cmd)
		require.NoError(t, err)
		require.True(t, proposed)
	}

	// Node 2 acks slots 2 and 4 but not 3, leaving a gap at 3.
	result, err := node.Step(AcceptResponse{
		FromID: 2, ToID: 1,
		Vote: Vote{Voter: 2, VotedFor: 1, Slot: 2, Yes: true, Ballot: term},
	})
	require.NoError(t, err)
	require.Contains(t, result.Fixed, Slot(2))
	assert.EqualValues(t, 2, node.HighestFixed(), "the scan must stop at the still-unchosen slot 3")

	result, err = node.Step(AcceptResponse{
		FromID: 2, ToID: 1,
		Vote: Vote{Voter: 2, VotedFor: 1, Slot: 4, Yes: true, Ballot: term},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Fixed, "slot 4 is chosen but unreachable while slot 3 is still a gap")
	assert.EqualValues(t, 2, node.HighestFixed())

	// Slot 3 finally lands: the scan advances through 3 and 4 in one step
	// and emits a single Fixed/Commit for the new highest_fixed.
	result, err = node.Step(AcceptResponse{
		FromID: 2, ToID: 1,
		Vote: Vote{Voter: 2, VotedFor: 1, Slot: 3, Yes: true, Ballot: term},
	})
	require.NoError(t, err)
	require.Contains(t, result.Fixed, Slot(3))
	require.Contains(t, result.Fixed, Slot(4))
	assert.EqualValues(t, 4, node.HighestFixed())

	require.Len(t, result.Messages, 1)
	fixedMsg := result.Messages[0].(Fixed)
	assert.EqualValues(t, 4, fixedMsg.FixedSlot)
}
