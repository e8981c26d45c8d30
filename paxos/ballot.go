package paxos

import "fmt"

// BallotNumber is a totally ordered proposal identifier. Ballots are
// compared lexicographically on (Counter, NodeID) so that ballots minted by
// distinct nodes can never compare equal: each node only ever increments its
// own counter and stamps its own node id onto the result.
type BallotNumber struct {
	Counter uint32
	NodeID  uint8
}

// Zero is the ballot every fresh Journal starts with before any node has
// promised anything.
var Zero = BallotNumber{}

// NextBallot fabricates a new ballot for nodeID strictly greater than every
// ballot this node has promised, by incrementing the promised counter and
// stamping the local node id. See spec.md §4.1.
func NextBallot(promised BallotNumber, nodeID uint8) BallotNumber {
	return BallotNumber{Counter: promised.Counter + 1, NodeID: nodeID}
}

// Compare returns -1, 0 or 1 as a compares less than, equal to, or greater
// than b.
func (a BallotNumber) Compare(b BallotNumber) int {
	if a.Counter != b.Counter {
		if a.Counter < b.Counter {
			return -1
		}
		return 1
	}
	if a.NodeID != b.NodeID {
		if a.NodeID < b.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

func (a BallotNumber) Less(b BallotNumber) bool {
	return a.Compare(b) < 0
}

func (a BallotNumber) LessOrEqual(b BallotNumber) bool {
	return a.Compare(b) <= 0
}

func (a BallotNumber) Greater(b BallotNumber) bool {
	return a.Compare(b) > 0
}

func (a BallotNumber) Equal(b BallotNumber) bool {
	return a == b
}

func (a BallotNumber) String() string {
	return fmt.Sprintf("%d:%d", a.Counter, a.NodeID)
}
