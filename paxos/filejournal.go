package paxos

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// On-disk record kinds, distinct from the wire message discriminators in
// codec.go: a FileJournal only ever persists Accepts and Progress, never
// in-flight messages.
const (
	recordAccept byte = iota
	recordProgress
)

// FileJournal is a Journal backed by a single append-only file: every
// JournalAccept/SaveProgress call appends a length-prefixed, type-tagged
// frame, and Sync calls File.Sync. Grounded on the framing and replay shape
// of chitsimran-nomos/paxos/wal.go's WAL, reusing this package's own binary
// record encoding (writeAcceptRecord/EncodeProgress) in place of the
// teacher's JSON so the on-disk and on-wire formats share one codec.
type FileJournal struct {
	mu       sync.Mutex
	file     *os.File
	nodeID   uint8
	progress Progress
	accepts  map[Slot]Accept
}

// OpenFileJournal opens (creating if necessary) the journal file at path
// and replays it to reconstruct in-memory Progress/Accept state. A slot
// journalled more than once keeps only the last record, matching the
// overwrite semantics spec.md §6 requires.
func OpenFileJournal(path string, nodeID uint8) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("paxos: open file journal: %w", err)
	}

	j := &FileJournal{
		file:     f,
		nodeID:   nodeID,
		progress: Progress{NodeID: nodeID},
		accepts:  map[Slot]Accept{},
	}
	if err := j.replay(); err != nil {
		f.Close()
		return nil, fmt.Errorf("paxos: replay file journal: %w", err)
	}
	return j, nil
}

func (j *FileJournal) replay() error {
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(j.file, lenBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}

		body := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(j.file, body); err != nil {
			return fmt.Errorf("paxos: truncated file journal record: %w", err)
		}
		if len(body) == 0 {
			continue
		}

		switch body[0] {
		case recordAccept:
			a, err := readAcceptRecord(bytes.NewReader(body[1:]))
			if err != nil {
				return err
			}
			j.accepts[a.Slot] = a
		case recordProgress:
			p, err := DecodeProgress(body[1:])
			if err != nil {
				return err
			}
			j.progress = p
		default:
			return fmt.Errorf("paxos: unknown file journal record kind %d", body[0])
		}
	}

	_, err := j.file.Seek(0, io.SeekEnd)
	return err
}

func (j *FileJournal) append(kind byte, payload []byte) error {
	var frame bytes.Buffer
	frame.WriteByte(kind)
	frame.Write(payload)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(frame.Len()))

	if _, err := j.file.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := j.file.Write(frame.Bytes())
	return err
}

func (j *FileJournal) LoadProgress(nodeID uint8) Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	if nodeID != j.nodeID {
		return Progress{NodeID: nodeID}
	}
	return j.progress
}

func (j *FileJournal) SaveProgress(p Progress) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.append(recordProgress, EncodeProgress(p)); err != nil {
		return fmt.Errorf("paxos: append progress record: %w", err)
	}
	j.progress = p
	return nil
}

func (j *FileJournal) JournalAccept(a Accept) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var buf bytes.Buffer
	writeAcceptRecord(&buf, a)
	if err := j.append(recordAccept, buf.Bytes()); err != nil {
		return fmt.Errorf("paxos: append accept record: %w", err)
	}
	j.accepts[a.Slot] = a
	return nil
}

func (j *FileJournal) LoadAccept(slot Slot) (Accept, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	a, ok := j.accepts[slot]
	return a, ok
}

// Sync blocks until every prior JournalAccept/SaveProgress is durable.
func (j *FileJournal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Sync()
}

// Close releases the underlying file descriptor. Not part of the Journal
// interface: only the host that opened the journal should call it.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

var _ Journal = (*FileJournal)(nil)
