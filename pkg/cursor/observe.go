package cursor

import (
	"context"
	"reflect"

	"github.com/mnohosten/relaydb/pkg/document"
	"github.com/mnohosten/relaydb/pkg/reactivity"
)

// Callbacks receives the delta between two consecutive evaluations of a
// Cursor under ObserveChanges. beforeID, where present, is the id of the
// document that now immediately follows the affected one in sort order
// (nil if it is now last) — enough for a consumer to maintain an ordered
// view without re-deriving sort order itself.
type Callbacks struct {
	Added       func(doc *document.Document, beforeID interface{})
	Changed     func(doc *document.Document, oldDoc *document.Document)
	Removed     func(doc *document.Document)
	MovedBefore func(id interface{}, beforeID interface{})
}

// ObserveChanges evaluates the cursor immediately and again every time its
// source changes, diffing each new result against the last and invoking
// Callbacks for what changed, until the returned stop function is called
// or ctx is cancelled.
func (c *Cursor) ObserveChanges(ctx context.Context, cb Callbacks) func() {
	var prev []*document.Document

	handle := reactivity.Autorun(ctx, func(runCtx context.Context, comp *reactivity.Computation) {
		c.source.Dependency().Depend(runCtx)
		current, err := c.evaluate()
		if err != nil {
			// A selector/sort error is a caller programming error, not a
			// transient condition; there is nothing to retry into, so the
			// run simply keeps the previous result rather than emitting a
			// misleading empty diff.
			return
		}
		diff(prev, current, cb)
		prev = current
	})

	return handle.Stop
}

func diff(prev, curr []*document.Document, cb Callbacks) {
	prevByID := make(map[interface{}]*document.Document, len(prev))
	for _, doc := range prev {
		id, _ := doc.ID()
		prevByID[id] = doc
	}
	currByID := make(map[interface{}]*document.Document, len(curr))
	currIDs := make([]interface{}, len(curr))
	for i, doc := range curr {
		id, _ := doc.ID()
		currByID[id] = doc
		currIDs[i] = id
	}

	for _, doc := range prev {
		id, _ := doc.ID()
		if _, stillPresent := currByID[id]; !stillPresent && cb.Removed != nil {
			cb.Removed(doc)
		}
	}

	for i, doc := range curr {
		id := currIDs[i]
		var beforeID interface{}
		if i+1 < len(currIDs) {
			beforeID = currIDs[i+1]
		}

		old, existed := prevByID[id]
		switch {
		case !existed:
			if cb.Added != nil {
				cb.Added(doc, beforeID)
			}
		case !documentsEqual(old, doc):
			if cb.Changed != nil {
				cb.Changed(doc, old)
			}
		}
	}

	emitMoves(prevIDOrder(prev), currIDs, cb)
}

// prevIDOrder extracts prev's id order for the move-detection pass.
func prevIDOrder(prev []*document.Document) []interface{} {
	ids := make([]interface{}, len(prev))
	for i, doc := range prev {
		id, _ := doc.ID()
		ids[i] = id
	}
	return ids
}

// emitMoves reports MovedBefore for ids whose relative order, restricted to
// ids present in both prevIDs and currIDs, differs between the two. This is
// a straightforward O(n^2) comparison, not a minimal-edit-distance diff: it
// can report more moves than the smallest set that would explain the
// reordering, which is an acceptable simplification for collections sized
// for client-side, in-memory use.
func emitMoves(prevIDs, currIDs []interface{}, cb Callbacks) {
	if cb.MovedBefore == nil {
		return
	}

	prevPos := make(map[interface{}]int, len(prevIDs))
	for i, id := range prevIDs {
		prevPos[id] = i
	}

	var commonPrevOrder []interface{}
	for _, id := range prevIDs {
		if containsID(currIDs, id) {
			commonPrevOrder = append(commonPrevOrder, id)
		}
	}
	var commonCurrOrder []interface{}
	for _, id := range currIDs {
		if _, ok := prevPos[id]; ok {
			commonCurrOrder = append(commonCurrOrder, id)
		}
	}

	for i, id := range commonCurrOrder {
		if i >= len(commonPrevOrder) || commonPrevOrder[i] != id {
			var beforeID interface{}
			pos := indexOf(currIDs, id)
			if pos+1 < len(currIDs) {
				beforeID = currIDs[pos+1]
			}
			cb.MovedBefore(id, beforeID)
		}
	}
}

func containsID(ids []interface{}, target interface{}) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func indexOf(ids []interface{}, target interface{}) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}

func documentsEqual(a, b *document.Document) bool {
	return reflect.DeepEqual(a.ToMap(), b.ToMap())
}
