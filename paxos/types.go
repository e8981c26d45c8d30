package paxos

import "fmt"

// Slot is a position in the replicated log. Slot 0 is reserved; the first
// usable slot is 1.
type Slot uint64

// CommandType distinguishes the NoOp placeholder used to fill uncontested
// slots during recovery from an application command.
type CommandType int

const (
	CommandNoOp CommandType = iota
	CommandApp
)

// Command is either NoOp or an opaque application command. Equality is
// structural (see spec.md §3).
type Command struct {
	Type          CommandType
	ClientMsgUUID []byte
	Payload       []byte
}

// NoOp is the sentinel command used to fill uncontested slots during
// recovery so that the log remains contiguous.
var NoOp = Command{Type: CommandNoOp}

// NewAppCommand builds an application command carrying the client's message
// id and payload.
func NewAppCommand(clientMsgUUID, payload []byte) Command {
	return Command{Type: CommandApp, ClientMsgUUID: clientMsgUUID, Payload: payload}
}

func (c Command) IsNoOp() bool {
	return c.Type == CommandNoOp
}

// Equal reports structural equality between two commands.
func (c Command) Equal(other Command) bool {
	if c.Type != other.Type {
		return false
	}
	if c.Type == CommandNoOp {
		return true
	}
	return bytesEqual(c.ClientMsgUUID, other.ClientMsgUUID) && bytesEqual(c.Payload, other.Payload)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Accept is the sole per-slot journal record: a proposer's pinned choice of
// command for a slot under a ballot. Ordering used to "pick highest
// accepted" is (Ballot, Slot) ascending, via Compare. Accept also doubles as
// the phase-2 protocol message carrying that same record from proposer to
// acceptor.
type Accept struct {
	FromID  uint8
	Slot    Slot
	Ballot  BallotNumber
	Command Command
}

func (a Accept) From() uint8 { return a.FromID }
func (Accept) isMessage()    {}

// Compare orders Accepts by (Ballot, Slot) ascending, as required to pick
// the highest-numbered Accept observed across a set of PrepareResponses.
func (a Accept) Compare(b Accept) int {
	if c := a.Ballot.Compare(b.Ballot); c != 0 {
		return c
	}
	if a.Slot != b.Slot {
		if a.Slot < b.Slot {
			return -1
		}
		return 1
	}
	return 0
}

// Progress is the per-node durable triple. highest_fixed <= highest_accepted
// always holds, and highest_promised is monotone non-decreasing across the
// node's entire lifetime including crashes.
type Progress struct {
	NodeID          uint8
	HighestPromised BallotNumber
	HighestAccepted Slot
	HighestFixed    Slot
}

func (p Progress) String() string {
	return fmt.Sprintf("Progress{node=%d promised=%s accepted=%d fixed=%d}",
		p.NodeID, p.HighestPromised, p.HighestAccepted, p.HighestFixed)
}

// Role is one of Follow, Recover, Lead. See spec.md §3 for the invariants
// each role carries.
type Role int

const (
	Follow Role = iota
	Recover
	Lead
)

func (r Role) String() string {
	switch r {
	case Follow:
		return "Follow"
	case Recover:
		return "Recover"
	case Lead:
		return "Lead"
	default:
		return "Unknown"
	}
}

// Vote is carried inside PrepareResponse/AcceptResponse to let the quorum
// assessor and the proposer identify who voted, for what ballot, at what
// slot, and whether the vote was positive.
type Vote struct {
	Voter    uint8
	VotedFor uint8
	Slot     Slot
	Yes      bool
	Ballot   BallotNumber
}
