package paxos

// Outcome is the result of assessing a set of votes for a slot: whether a
// quorum has voted yes (WIN), a quorum of noes makes winning impossible
// (LOSE), or there isn't yet enough evidence either way (WAIT).
type Outcome int

const (
	WAIT Outcome = iota
	WIN
	LOSE
)

func (o Outcome) String() string {
	switch o {
	case WAIT:
		return "WAIT"
	case WIN:
		return "WIN"
	case LOSE:
		return "LOSE"
	default:
		return "Unknown"
	}
}

// QuorumAssessor is the pluggable quorum-geometry collaborator named in
// spec.md §4.3. Implementations must not assume simple majority: flexible
// Paxos/weighted variants only need to satisfy this contract.
type QuorumAssessor interface {
	AssessPromises(slot Slot, votes []Vote) Outcome
	AssessAccepts(slot Slot, votes []Vote) Outcome
}

// MajorityQuorum is the default QuorumAssessor: a simple majority over a
// fixed-size cluster, grounded on the majority arithmetic every sibling
// example repo implements ad hoc (e.g. dyv-paxos's Agent.Quorum and
// QuangTung97-libpaxos's isQuorumOf).
type MajorityQuorum struct {
	ClusterSize int
}

func NewMajorityQuorum(clusterSize int) MajorityQuorum {
	return MajorityQuorum{ClusterSize: clusterSize}
}

func (q MajorityQuorum) majority() int {
	return q.ClusterSize/2 + 1
}

func (q MajorityQuorum) assess(votes []Vote) Outcome {
	yes, no := 0, 0
	for _, v := range votes {
		if v.Yes {
			yes++
		} else {
			no++
		}
	}
	need := q.majority()
	if yes >= need {
		return WIN
	}
	// LOSE once a yes-quorum is no longer mathematically reachable: the
	// remaining unheard-from voters (ClusterSize - len(votes)) plus the
	// yes votes already in hand can never reach `need`.
	remaining := q.ClusterSize - len(votes)
	if yes+remaining < need {
		return LOSE
	}
	return WAIT
}

func (q MajorityQuorum) AssessPromises(_ Slot, votes []Vote) Outcome {
	return q.assess(votes)
}

func (q MajorityQuorum) AssessAccepts(_ Slot, votes []Vote) Outcome {
	return q.assess(votes)
}

var _ QuorumAssessor = MajorityQuorum{}
