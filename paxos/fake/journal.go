// Package fake provides an in-memory paxos.Journal for tests and for the
// simulate package's deterministic scenarios. Grounded on the teacher's
// paxos/fake in-memory collaborators and on chitsimran-nomos's WAL
// (paxos/wal.go), simplified to a map since nothing here needs to survive
// process exit.
package fake

import (
	"sync"

	"github.com/trex-paxos/trex2/paxos"
)

// Journal is a sync.Mutex-guarded in-memory paxos.Journal. FailSync, when
// set, makes every subsequent Sync call return that error, for exercising
// the host's fatal-on-journal-failure path.
type Journal struct {
	mu sync.Mutex

	nodeID   uint8
	progress paxos.Progress
	accepts  map[paxos.Slot]paxos.Accept

	syncCount int
	FailSync  error
}

// NewJournal returns a Journal that reports an all-zero Progress for
// nodeID until the first SaveProgress call, matching a fresh on-disk
// journal that has never been written to.
func NewJournal(nodeID uint8) *Journal {
	return &Journal{
		nodeID:   nodeID,
		progress: paxos.Progress{NodeID: nodeID},
		accepts:  map[paxos.Slot]paxos.Accept{},
	}
}

func (j *Journal) LoadProgress(nodeID uint8) paxos.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	if nodeID != j.nodeID {
		return paxos.Progress{NodeID: nodeID}
	}
	return j.progress
}

func (j *Journal) SaveProgress(p paxos.Progress) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = p
	return nil
}

func (j *Journal) JournalAccept(a paxos.Accept) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.accepts[a.Slot] = a
	return nil
}

func (j *Journal) LoadAccept(slot paxos.Slot) (paxos.Accept, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	a, ok := j.accepts[slot]
	return a, ok
}

func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.FailSync != nil {
		return j.FailSync
	}
	j.syncCount++
	return nil
}

// SyncCount reports how many times Sync has returned successfully, for
// assertions that a durability barrier actually ran before a send.
func (j *Journal) SyncCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.syncCount
}

var _ paxos.Journal = (*Journal)(nil)
