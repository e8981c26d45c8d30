package paxos

// Journal is the crash-durable collaborator the core depends on (spec.md
// §4.2). The host's Engine owns it exclusively for writes; Sync is the only
// durability barrier and must be called before any outbound message that
// resulted from a journalled write is allowed to leave the process.
//
// Overwrite of the Accept at a slot is only permitted for a slot the caller
// has not yet declared fixed; once fixed, the Accept there is immutable.
// Journalling an identical Accept twice must be safe and observable only as
// a redundant Sync (spec.md §9(iii)).
type Journal interface {
	// LoadProgress is called once, at startup, to recover the last durable
	// Progress for nodeID.
	LoadProgress(nodeID uint8) Progress

	// SaveProgress durably writes the progress triple, overwriting any
	// prior value.
	SaveProgress(p Progress) error

	// JournalAccept durably appends or overwrites the Accept at its slot.
	JournalAccept(a Accept) error

	// LoadAccept returns the Accept journalled at slot, if any.
	LoadAccept(slot Slot) (Accept, bool)

	// Sync blocks until every prior JournalAccept/SaveProgress call is on
	// stable storage.
	Sync() error
}
