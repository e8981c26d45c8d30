package paxos_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/trex-paxos/trex2/paxos"
)

func TestBallotNumber_Compare(t *testing.T) {
	low := BallotNumber{Counter: 1, NodeID: 5}
	high := BallotNumber{Counter: 2, NodeID: 1}
	sameCounterLowerNode := BallotNumber{Counter: 1, NodeID: 2}

	assert.True(t, low.Less(high))
	assert.True(t, high.Greater(low))
	assert.True(t, sameCounterLowerNode.Less(low))
	assert.True(t, low.Equal(BallotNumber{Counter: 1, NodeID: 5}))
	assert.True(t, low.LessOrEqual(BallotNumber{Counter: 1, NodeID: 5}))
}

func TestNextBallot_StrictlyGreaterThanPromised(t *testing.T) {
	promised := BallotNumber{Counter: 4, NodeID: 9}
	next := NextBallot(promised, 2)

	assert.True(t, next.Greater(promised))
	assert.EqualValues(t, 5, next.Counter)
	assert.EqualValues(t, 2, next.NodeID)
}

func TestNextBallot_DistinctNodesNeverCollide(t *testing.T) {
	promised := Zero
	a := NextBallot(promised, 1)
	b := NextBallot(promised, 2)
	assert.False(t, a.Equal(b))
}
