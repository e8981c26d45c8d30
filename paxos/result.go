package paxos

// Result is what a single Step call produces: a possibly-empty batch of
// outbound messages and a possibly-empty map of newly fixed commands keyed
// by slot. Grounded on TrexResult.java.
type Result struct {
	Messages []Message
	Fixed    map[Slot]Command
}

func noResult() Result {
	return Result{}
}

// MergeResults combines the per-message Results of a batch into one
// envelope. It is a fatal assertion (spec.md §7, §8 property 6) for two
// results in the same batch to report different commands fixed at the same
// slot: that would mean this node just violated at-most-one-chosen-value.
func MergeResults(results []Result) Result {
	if len(results) == 0 {
		return noResult()
	}
	if len(results) == 1 {
		return results[0]
	}

	var messages []Message
	fixed := map[Slot]Command{}
	for _, r := range results {
		messages = append(messages, r.Messages...)
		for slot, cmd := range r.Fixed {
			if existing, ok := fixed[slot]; ok {
				assertTrue(existing.Equal(cmd), "conflicting commands fixed at the same slot within one batch")
				continue
			}
			fixed[slot] = cmd
		}
	}
	return Result{Messages: messages, Fixed: fixed}
}

// assertTrue panics on violation of an invariant the algorithm proves can
// never occur. Grounded on the teacher's async.AssertTrue helper: a
// panicking assertion, not a returned error, is how this corpus expresses
// "unreachable state" (spec.md §7).
func assertTrue(ok bool, msg string) {
	if !ok {
		panic("paxos: invariant violated: " + msg)
	}
}
