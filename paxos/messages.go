package paxos

// Message is the sealed union of everything a Node can receive or emit. The
// decision function (Node.Step) type-switches over it exhaustively; adding a
// new message kind means touching that switch, by design (spec.md §9
// "Sum-typed messages").
type Message interface {
	From() uint8
	isMessage()
}

// Prepare is a phase-1 proposal for a single slot under a ballot.
type Prepare struct {
	FromID uint8
	Slot   Slot
	Ballot BallotNumber
}

func (m Prepare) From() uint8 { return m.FromID }
func (Prepare) isMessage()    {}

// PrepareResponse answers a Prepare, positively or negatively, and carries
// enough state (the voter's highest fixed slot, and any Accept it has
// journalled at the probed slot) for the proposer to learn of missed
// progress or to recover an already-accepted value.
type PrepareResponse struct {
	FromID            uint8
	ToID              uint8
	Vote              Vote
	VoterHighestFixed Slot
	JournalledAccept  *Accept
}

func (m PrepareResponse) From() uint8 { return m.FromID }
func (PrepareResponse) isMessage()    {}

// AcceptResponse answers an Accept, positively or negatively, and carries
// the voter's highest fixed slot so a leader can detect that another node
// has fixed more and abdicate.
type AcceptResponse struct {
	FromID            uint8
	ToID              uint8
	Vote              Vote
	VoterHighestFixed Slot
}

func (m AcceptResponse) From() uint8 { return m.FromID }
func (AcceptResponse) isMessage()    {}

// Fixed announces that FixedSlot has been chosen under FixedBallot. Per
// spec.md §9(i) this is the ballot-carrying variant of the historical
// slot-only Commit message.
type Fixed struct {
	FromID      uint8
	FixedSlot   Slot
	FixedBallot BallotNumber
}

func (m Fixed) From() uint8 { return m.FromID }
func (Fixed) isMessage()    {}

// Catchup asks node ToID for the Accepts journalled at Slots.
type Catchup struct {
	FromID uint8
	ToID   uint8
	Slots  []Slot
}

func (m Catchup) From() uint8 { return m.FromID }
func (Catchup) isMessage()    {}

// CatchupResponse answers a Catchup with whatever Accepts the replier has
// fixed at the requested slots (omitting slots it has not yet fixed).
type CatchupResponse struct {
	FromID  uint8
	ToID    uint8
	Accepts []Accept
}

func (m CatchupResponse) From() uint8 { return m.FromID }
func (CatchupResponse) isMessage()    {}

var (
	_ Message = Prepare{}
	_ Message = PrepareResponse{}
	_ Message = Accept{}
	_ Message = AcceptResponse{}
	_ Message = Fixed{}
	_ Message = Catchup{}
	_ Message = CatchupResponse{}
)
