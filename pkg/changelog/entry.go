// Package changelog provides the three bookkeeping collections a sync
// manager instance needs — changes, snapshots, and sync-operations — plus
// the raw-change-log compaction step that turns a collection's append-only
// mutation history into a change set a remote push endpoint can consume.
// Grounded on the teacher's pkg/replication/oplog.go (entry shape: op id,
// timestamp, op type, affected collection/doc), generalized from a
// single binary write-ahead file per database into rows of an ordinary
// pkg/collection.Collection — per spec, the change log is "backed by the
// same storage adapter the sync manager was given", inheriting the
// collection engine's own reactivity and durability instead of building a
// second persistence mechanism.
package changelog

import (
	"time"

	"github.com/mnohosten/relaydb/pkg/document"
)

// OpType classifies one change-log row, mirroring the teacher's OpType
// enum narrowed to the three mutations a Collection can make.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpRemove OpType = "remove"
)

// Entry is one row of the changes collection: a single Collection mutation
// recorded before it is reported complete to the caller (per spec §4.8,
// "every mutation is appended to the changes collection before the local
// in-memory mutation is reported as complete").
type Entry struct {
	ID             interface{}
	CollectionName string
	Time           time.Time
	Op             OpType
	DocID          interface{}
	// Doc is the full document snapshot, set for OpInsert only.
	Doc map[string]interface{}
	// Modifier is the raw modifier applied, set for OpUpdate only.
	Modifier map[string]interface{}
	// FieldsTouched lists the top-level field paths touched by Modifier
	// (spec's modifiedFields), set for OpUpdate only.
	FieldsTouched []string
}

func entryToDocument(e Entry) *document.Document {
	doc := document.NewDocument()
	if e.ID != nil {
		doc.Set(document.IDField, e.ID)
	}
	doc.Set("collectionName", e.CollectionName)
	doc.Set("time", e.Time)
	doc.Set("op", string(e.Op))
	doc.Set("docID", e.DocID)
	if e.Doc != nil {
		doc.Set("doc", e.Doc)
	}
	if e.Modifier != nil {
		doc.Set("modifier", e.Modifier)
	}
	if len(e.FieldsTouched) > 0 {
		fields := make([]interface{}, len(e.FieldsTouched))
		for i, f := range e.FieldsTouched {
			fields[i] = f
		}
		doc.Set("fieldsTouched", fields)
	}
	return doc
}

func documentToEntry(doc *document.Document) Entry {
	e := Entry{}
	if id, ok := doc.Get(document.IDField); ok {
		e.ID = id
	}
	if v, ok := doc.Get("collectionName"); ok {
		e.CollectionName, _ = v.(string)
	}
	if v, ok := doc.Get("time"); ok {
		e.Time, _ = v.(time.Time)
	}
	if v, ok := doc.Get("op"); ok {
		if s, ok := v.(string); ok {
			e.Op = OpType(s)
		}
	}
	if v, ok := doc.Get("docID"); ok {
		e.DocID = v
	}
	if v, ok := doc.Get("doc"); ok {
		if d, ok := v.(*document.Document); ok {
			e.Doc = d.ToMap()
		}
	}
	if v, ok := doc.Get("modifier"); ok {
		if d, ok := v.(*document.Document); ok {
			e.Modifier = d.ToMap()
		}
	}
	if v, ok := doc.Get("fieldsTouched"); ok {
		if arr, ok := v.([]interface{}); ok {
			e.FieldsTouched = make([]string, 0, len(arr))
			for _, item := range arr {
				if s, ok := item.(string); ok {
					e.FieldsTouched = append(e.FieldsTouched, s)
				}
			}
		}
	}
	return e
}
