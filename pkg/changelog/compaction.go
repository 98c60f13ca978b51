package changelog

import (
	"github.com/mnohosten/relaydb/pkg/document"
	"github.com/mnohosten/relaydb/pkg/modifier"
)

// ChangeSet is the compacted form of a collection's raw change log, per
// spec §4.8 step 3: a push endpoint is handed this plus the raw entries
// rather than replaying every individual mutation itself.
type ChangeSet struct {
	// Added maps id to the document's final content, for ids inserted
	// during this cycle and not subsequently removed.
	Added map[interface{}]map[string]interface{}
	// Modified holds ids that existed before this cycle and were updated
	// during it.
	Modified map[interface{}]struct{}
	// Removed holds ids that existed before this cycle and were removed
	// during it.
	Removed map[interface{}]struct{}
	// ModifiedFields maps id to the set of top-level field paths touched
	// by update entries, across both Added and Modified ids.
	ModifiedFields map[interface{}]map[string]struct{}
}

func newChangeSet() ChangeSet {
	return ChangeSet{
		Added:          make(map[interface{}]map[string]interface{}),
		Modified:       make(map[interface{}]struct{}),
		Removed:        make(map[interface{}]struct{}),
		ModifiedFields: make(map[interface{}]map[string]struct{}),
	}
}

// bucket classifies one id's net effect across the cycle's raw entries.
type bucket int

const (
	bucketNone bucket = iota
	bucketAdded
	bucketModified
	bucketRemoved
)

// Compact folds entries (already ordered by time, as ChangesFor returns
// them) into a ChangeSet, applying spec §4.8 step 3's rules: an insert not
// later removed becomes "added"; updates to an already-added id fold
// directly into that id's document content via modifier.Apply; a remove
// cancels a same-cycle insert entirely; and otherwise the last-seen state
// of an id (that predates this cycle) determines whether it ends up
// "modified" or "removed".
func Compact(entries []Entry) ChangeSet {
	cs := newChangeSet()
	buckets := make(map[interface{}]bucket)

	touch := func(id interface{}, fields []string) {
		if len(fields) == 0 {
			return
		}
		set, ok := cs.ModifiedFields[id]
		if !ok {
			set = make(map[string]struct{})
			cs.ModifiedFields[id] = set
		}
		for _, f := range fields {
			set[f] = struct{}{}
		}
	}

	for _, e := range entries {
		id := e.DocID
		switch e.Op {
		case OpInsert:
			if buckets[id] == bucketRemoved {
				// Re-added after being removed earlier this cycle: the net
				// effect from here is a fresh add.
				delete(cs.Removed, id)
			}
			buckets[id] = bucketAdded
			cs.Added[id] = cloneMap(e.Doc)

		case OpUpdate:
			switch buckets[id] {
			case bucketAdded:
				if doc, ok := cs.Added[id]; ok {
					cs.Added[id] = applyModifierToMap(doc, e.Modifier)
				}
			case bucketRemoved:
				// Update after a remove with no intervening insert is a
				// no-op: there is nothing left to update.
			default:
				buckets[id] = bucketModified
				cs.Modified[id] = struct{}{}
			}
			touch(id, e.FieldsTouched)

		case OpRemove:
			switch buckets[id] {
			case bucketAdded:
				// Cancels the insert outright; this id never existed as
				// far as the remote side is concerned.
				delete(cs.Added, id)
				delete(cs.ModifiedFields, id)
				delete(buckets, id)
			default:
				delete(cs.Modified, id)
				buckets[id] = bucketRemoved
				cs.Removed[id] = struct{}{}
			}
		}
	}

	return cs
}

func applyModifierToMap(doc map[string]interface{}, mod map[string]interface{}) map[string]interface{} {
	wrapped := document.NewDocumentFromMap(cloneMap(doc))
	if err := modifier.Apply(wrapped, mod, modifier.Options{}); err != nil {
		// A modifier that already applied cleanly to the live collection
		// cannot fail when replayed against the same pre-image recorded
		// at insert time; if it somehow does, keep the last-known-good
		// content rather than losing the row.
		return doc
	}
	return wrapped.ToMap()
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
