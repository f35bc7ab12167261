package oplog

import "sort"

// Compact reduces entries to one final intent per (kind, id):
//
//	create, update...  -> create with the patches merged into its payload
//	create, ..., delete -> nothing (never existed remotely)
//	update, update...   -> update with merged patches (later fields win)
//	update, ..., delete -> bare delete
//
// Nothing after a delete changes the result. The output is ordered by
// timestamp; ties keep the order in which groups first appear. Payloads are
// deep-copied, so the result shares no maps with the input.
//
// Compact is idempotent: compacting its own output returns the same log.
func Compact(entries []Entry) []Entry {
	groups := make(map[string][]Entry)
	var order []string
	for _, e := range entries {
		k := e.key()
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	compacted := make([]Entry, 0, len(order))
	for _, k := range order {
		if state, ok := fold(groups[k]); ok {
			compacted = append(compacted, state)
		}
	}

	sort.SliceStable(compacted, func(i, j int) bool {
		return compacted[i].TS < compacted[j].TS
	})
	return compacted
}

// fold collapses one group. The second return value is false when the group
// cancels out.
func fold(ops []Entry) (Entry, bool) {
	sorted := append([]Entry(nil), ops...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TS < sorted[j].TS
	})

	var state *Entry
	for _, op := range sorted {
		if state == nil {
			first := op.clone()
			state = &first
			continue
		}

		if state.Op == OpDelete {
			continue
		}

		switch op.Op {
		case OpUpdate:
			// create+update keeps create; update+update stays update
			state.Data = state.Data.Merge(op.Data)
		case OpDelete:
			if state.Op == OpCreate {
				return Entry{}, false
			}
			del := op
			del.Data = nil
			state = &del
		}
	}

	if state == nil {
		return Entry{}, false
	}
	return *state, true
}
