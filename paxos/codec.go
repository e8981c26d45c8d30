package paxos

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire discriminator bytes, one per Message implementation. Grounded on
// msg/Pickle.java's MessageType byte prefix; kept stable once assigned
// since peers running an older build decode messages by these values.
const (
	wirePrepare byte = iota + 1
	wirePrepareResponse
	wireAccept
	wireAcceptResponse
	wireFixed
	wireCatchup
	wireCatchupResponse
)

// EncodeMessage serializes msg into the bit-exact wire format: a
// discriminator byte followed by big-endian fixed-width fields, with
// length-prefixed lists and a leading boolean for optional fields.
// Grounded on msg/Pickle.java's writeMessage/writeTo methods.
func EncodeMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	switch m := msg.(type) {
	case Prepare:
		buf.WriteByte(wirePrepare)
		writePrepare(&buf, m)
	case PrepareResponse:
		buf.WriteByte(wirePrepareResponse)
		writePrepareResponse(&buf, m)
	case Accept:
		buf.WriteByte(wireAccept)
		writeAccept(&buf, m)
	case AcceptResponse:
		buf.WriteByte(wireAcceptResponse)
		writeAcceptResponse(&buf, m)
	case Fixed:
		buf.WriteByte(wireFixed)
		writeFixed(&buf, m)
	case Catchup:
		buf.WriteByte(wireCatchup)
		writeCatchup(&buf, m)
	case CatchupResponse:
		buf.WriteByte(wireCatchupResponse)
		writeCatchupResponse(&buf, m)
	default:
		return nil, fmt.Errorf("paxos: cannot encode message type %T", msg)
	}
	return buf.Bytes(), nil
}

// DecodeMessage is the inverse of EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	r := bytes.NewReader(data)
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("paxos: decode discriminator: %w", err)
	}
	switch kind {
	case wirePrepare:
		return readPrepare(r)
	case wirePrepareResponse:
		return readPrepareResponse(r)
	case wireAccept:
		return readAccept(r)
	case wireAcceptResponse:
		return readAcceptResponse(r)
	case wireFixed:
		return readFixed(r)
	case wireCatchup:
		return readCatchup(r)
	case wireCatchupResponse:
		return readCatchupResponse(r)
	default:
		return nil, fmt.Errorf("paxos: unknown message discriminator %d", kind)
	}
}

// EncodeProgress/DecodeProgress serialize the durable Progress triple, used
// by Journal implementations that persist to a byte-oriented store.
func EncodeProgress(p Progress) []byte {
	var buf bytes.Buffer
	buf.WriteByte(p.NodeID)
	writeBallot(&buf, p.HighestPromised)
	writeUint64(&buf, uint64(p.HighestAccepted))
	writeUint64(&buf, uint64(p.HighestFixed))
	return buf.Bytes()
}

func DecodeProgress(data []byte) (Progress, error) {
	r := bytes.NewReader(data)
	nodeID, err := r.ReadByte()
	if err != nil {
		return Progress{}, fmt.Errorf("paxos: decode progress node id: %w", err)
	}
	ballot, err := readBallot(r)
	if err != nil {
		return Progress{}, fmt.Errorf("paxos: decode progress promised: %w", err)
	}
	accepted, err := readUint64(r)
	if err != nil {
		return Progress{}, fmt.Errorf("paxos: decode progress accepted: %w", err)
	}
	fixed, err := readUint64(r)
	if err != nil {
		return Progress{}, fmt.Errorf("paxos: decode progress fixed: %w", err)
	}
	return Progress{
		NodeID:          nodeID,
		HighestPromised: ballot,
		HighestAccepted: Slot(accepted),
		HighestFixed:    Slot(fixed),
	}, nil
}

// ---------------------------------------------------------------------
// primitive helpers
// ---------------------------------------------------------------------

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeBytes(buf *bytes.Buffer, v []byte) {
	writeUint32(buf, uint32(len(v)))
	buf.Write(v)
}

func writeBallot(buf *bytes.Buffer, b BallotNumber) {
	writeUint32(buf, b.Counter)
	buf.WriteByte(b.NodeID)
}

func writeCommand(buf *bytes.Buffer, c Command) {
	buf.WriteByte(byte(c.Type))
	if c.Type == CommandApp {
		writeBytes(buf, c.ClientMsgUUID)
		writeBytes(buf, c.Payload)
	}
}

func writeAcceptRecord(buf *bytes.Buffer, a Accept) {
	buf.WriteByte(a.FromID)
	writeUint64(buf, uint64(a.Slot))
	writeBallot(buf, a.Ballot)
	writeCommand(buf, a.Command)
}

func writeVote(buf *bytes.Buffer, v Vote) {
	buf.WriteByte(v.Voter)
	buf.WriteByte(v.VotedFor)
	writeUint64(buf, uint64(v.Slot))
	writeBool(buf, v.Yes)
	writeBallot(buf, v.Ballot)
}

func readByte(r *bytes.Reader) (byte, error) {
	return r.ReadByte()
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readBallot(r *bytes.Reader) (BallotNumber, error) {
	counter, err := readUint32(r)
	if err != nil {
		return BallotNumber{}, err
	}
	nodeID, err := readByte(r)
	if err != nil {
		return BallotNumber{}, err
	}
	return BallotNumber{Counter: counter, NodeID: nodeID}, nil
}

func readCommand(r *bytes.Reader) (Command, error) {
	kind, err := readByte(r)
	if err != nil {
		return Command{}, err
	}
	if CommandType(kind) == CommandNoOp {
		return NoOp, nil
	}
	uuid, err := readBytes(r)
	if err != nil {
		return Command{}, err
	}
	payload, err := readBytes(r)
	if err != nil {
		return Command{}, err
	}
	return NewAppCommand(uuid, payload), nil
}

func readAcceptRecord(r *bytes.Reader) (Accept, error) {
	fromID, err := readByte(r)
	if err != nil {
		return Accept{}, err
	}
	slot, err := readUint64(r)
	if err != nil {
		return Accept{}, err
	}
	ballot, err := readBallot(r)
	if err != nil {
		return Accept{}, err
	}
	cmd, err := readCommand(r)
	if err != nil {
		return Accept{}, err
	}
	return Accept{FromID: fromID, Slot: Slot(slot), Ballot: ballot, Command: cmd}, nil
}

func readVote(r *bytes.Reader) (Vote, error) {
	voter, err := readByte(r)
	if err != nil {
		return Vote{}, err
	}
	votedFor, err := readByte(r)
	if err != nil {
		return Vote{}, err
	}
	slot, err := readUint64(r)
	if err != nil {
		return Vote{}, err
	}
	yes, err := readBool(r)
	if err != nil {
		return Vote{}, err
	}
	ballot, err := readBallot(r)
	if err != nil {
		return Vote{}, err
	}
	return Vote{Voter: voter, VotedFor: votedFor, Slot: Slot(slot), Yes: yes, Ballot: ballot}, nil
}

// ---------------------------------------------------------------------
// per-message write/read
// ---------------------------------------------------------------------

func writePrepare(buf *bytes.Buffer, m Prepare) {
	buf.WriteByte(m.FromID)
	writeUint64(buf, uint64(m.Slot))
	writeBallot(buf, m.Ballot)
}

func readPrepare(r *bytes.Reader) (Message, error) {
	fromID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	slot, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	ballot, err := readBallot(r)
	if err != nil {
		return nil, err
	}
	return Prepare{FromID: fromID, Slot: Slot(slot), Ballot: ballot}, nil
}

func writePrepareResponse(buf *bytes.Buffer, m PrepareResponse) {
	buf.WriteByte(m.FromID)
	buf.WriteByte(m.ToID)
	writeVote(buf, m.Vote)
	writeUint64(buf, uint64(m.VoterHighestFixed))
	writeBool(buf, m.JournalledAccept != nil)
	if m.JournalledAccept != nil {
		writeAcceptRecord(buf, *m.JournalledAccept)
	}
}

func readPrepareResponse(r *bytes.Reader) (Message, error) {
	fromID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	toID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	vote, err := readVote(r)
	if err != nil {
		return nil, err
	}
	voterHighestFixed, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	hasAccept, err := readBool(r)
	if err != nil {
		return nil, err
	}
	var journalled *Accept
	if hasAccept {
		a, err := readAcceptRecord(r)
		if err != nil {
			return nil, err
		}
		journalled = &a
	}
	return PrepareResponse{
		FromID:            fromID,
		ToID:              toID,
		Vote:              vote,
		VoterHighestFixed: Slot(voterHighestFixed),
		JournalledAccept:  journalled,
	}, nil
}

func writeAccept(buf *bytes.Buffer, m Accept) {
	writeAcceptRecord(buf, m)
}

func readAccept(r *bytes.Reader) (Message, error) {
	return readAcceptRecord(r)
}

func writeAcceptResponse(buf *bytes.Buffer, m AcceptResponse) {
	buf.WriteByte(m.FromID)
	buf.WriteByte(m.ToID)
	writeVote(buf, m.Vote)
	writeUint64(buf, uint64(m.VoterHighestFixed))
}

func readAcceptResponse(r *bytes.Reader) (Message, error) {
	fromID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	toID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	vote, err := readVote(r)
	if err != nil {
		return nil, err
	}
	voterHighestFixed, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	return AcceptResponse{FromID: fromID, ToID: toID, Vote: vote, VoterHighestFixed: Slot(voterHighestFixed)}, nil
}

func writeFixed(buf *bytes.Buffer, m Fixed) {
	buf.WriteByte(m.FromID)
	writeUint64(buf, uint64(m.FixedSlot))
	writeBallot(buf, m.FixedBallot)
}

func readFixed(r *bytes.Reader) (Message, error) {
	fromID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	slot, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	ballot, err := readBallot(r)
	if err != nil {
		return nil, err
	}
	return Fixed{FromID: fromID, FixedSlot: Slot(slot), FixedBallot: ballot}, nil
}

func writeCatchup(buf *bytes.Buffer, m Catchup) {
	buf.WriteByte(m.FromID)
	buf.WriteByte(m.ToID)
	writeUint32(buf, uint32(len(m.Slots)))
	for _, s := range m.Slots {
		writeUint64(buf, uint64(s))
	}
}

func readCatchup(r *bytes.Reader) (Message, error) {
	fromID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	toID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	slots := make([]Slot, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		slots = append(slots, Slot(s))
	}
	return Catchup{FromID: fromID, ToID: toID, Slots: slots}, nil
}

func writeCatchupResponse(buf *bytes.Buffer, m CatchupResponse) {
	buf.WriteByte(m.FromID)
	buf.WriteByte(m.ToID)
	writeUint32(buf, uint32(len(m.Accepts)))
	for _, a := range m.Accepts {
		writeAcceptRecord(buf, a)
	}
}

func readCatchupResponse(r *bytes.Reader) (Message, error) {
	fromID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	toID, err := readByte(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	accepts := make([]Accept, 0, n)
	for i := uint32(0); i < n; i++ {
		a, err := readAcceptRecord(r)
		if err != nil {
			return nil, err
		}
		accepts = append(accepts, a)
	}
	return CatchupResponse{FromID: fromID, ToID: toID, Accepts: accepts}, nil
}
