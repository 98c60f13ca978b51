package changelog

import (
	"context"
	"fmt"
	"time"

	"github.com/mnohosten/relaydb/pkg/collection"
	"github.com/mnohosten/relaydb/pkg/cursor"
	"github.com/mnohosten/relaydb/pkg/document"
	"github.com/mnohosten/relaydb/pkg/storage"
)

// OperationStatus is the lifecycle of one sync-operations row.
type OperationStatus string

const (
	StatusRunning OperationStatus = "running"
	StatusDone    OperationStatus = "done"
	StatusError   OperationStatus = "error"
)

// Operation is one row of the sync-operations collection: a history entry
// for retry and diagnostics, per spec §4.7.
type Operation struct {
	ID             interface{}
	CollectionName string
	Status         OperationStatus
	StartedAt      time.Time
	FinishedAt     time.Time
	Error          string
}

// Snapshot is the single row (per synced collection) of the snapshots
// collection: the last accepted remote view plus sync timing, per §3's
// "Snapshot" glossary entry.
type Snapshot struct {
	CollectionName        string
	Items                 []map[string]interface{}
	LastFinishedSyncStart time.Time
	LastFinishedSyncEnd   time.Time
}

// AdapterFactory builds a storage.Adapter for one of the bookkeeping
// collections. A nil factory leaves the bookkeeping collections purely
// in-memory, matching Collection's own "nil adapter means in-memory"
// convention.
type AdapterFactory func(collectionName string) storage.Adapter

// Store bundles the three bookkeeping collections one sync manager
// instance needs: changes, snapshots, and sync-operations, all ordinary
// collections sharing the sync manager's storage adapter under
// sync-scoped names (e.g. "<syncID>-snapshots"), per spec §4.7.
type Store struct {
	Changes        *collection.Collection
	Snapshots      *collection.Collection
	SyncOperations *collection.Collection
}

// Open creates and loads all three bookkeeping collections for syncID.
func Open(ctx context.Context, syncID string, adapters AdapterFactory) (*Store, error) {
	changes := collection.New(collection.Options{
		Name:    syncID + "-changes",
		Adapter: adapterFor(adapters, syncID+"-changes"),
	})
	if err := changes.Open(ctx); err != nil {
		return nil, fmt.Errorf("changelog: open changes: %w", err)
	}
	if err := changes.EnsureIndex(ctx, "collectionName", false); err != nil {
		return nil, fmt.Errorf("changelog: index changes.collectionName: %w", err)
	}

	snapshots := collection.New(collection.Options{
		Name:    syncID + "-snapshots",
		Adapter: adapterFor(adapters, syncID+"-snapshots"),
	})
	if err := snapshots.Open(ctx); err != nil {
		return nil, fmt.Errorf("changelog: open snapshots: %w", err)
	}
	if err := snapshots.EnsureIndex(ctx, "collectionName", true); err != nil {
		return nil, fmt.Errorf("changelog: index snapshots.collectionName: %w", err)
	}

	syncOps := collection.New(collection.Options{
		Name:    syncID + "-sync-operations",
		Adapter: adapterFor(adapters, syncID+"-sync-operations"),
	})
	if err := syncOps.Open(ctx); err != nil {
		return nil, fmt.Errorf("changelog: open sync-operations: %w", err)
	}

	return &Store{Changes: changes, Snapshots: snapshots, SyncOperations: syncOps}, nil
}

func adapterFor(factory AdapterFactory, name string) storage.Adapter {
	if factory == nil {
		return nil
	}
	return factory(name)
}

// Dispose releases all three collections' storage handles.
func (s *Store) Dispose(ctx context.Context) error {
	for _, c := range []*collection.Collection{s.Changes, s.Snapshots, s.SyncOperations} {
		if err := c.Dispose(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Append records a new change-log entry before the caller reports its
// mutation complete, returning the entry's assigned id.
func (s *Store) Append(ctx context.Context, e Entry) (interface{}, error) {
	return s.Changes.InsertOne(ctx, entryToDocument(e))
}

// ChangesFor returns every change-log entry recorded for collectionName,
// ordered by time ascending (spec §4.8 step 2).
func (s *Store) ChangesFor(ctx context.Context, collectionName string) ([]Entry, error) {
	docs, err := s.Changes.Find(
		map[string]interface{}{"collectionName": collectionName},
		cursor.Options{Sort: []cursor.SortKey{{Field: "time"}}},
	).Fetch(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(docs))
	for i, doc := range docs {
		entries[i] = documentToEntry(doc)
	}
	return entries, nil
}

// TrimChangesThrough deletes every entry for collectionName with Time <=
// cutoff (spec §4.8 step 8: "remove ... all log entries whose time <=
// start").
func (s *Store) TrimChangesThrough(ctx context.Context, collectionName string, cutoff time.Time) (int, error) {
	return s.Changes.DeleteMany(ctx, map[string]interface{}{
		"$and": []interface{}{
			map[string]interface{}{"collectionName": collectionName},
			map[string]interface{}{"time": map[string]interface{}{"$lte": cutoff}},
		},
	})
}

// LoadSnapshot returns the stored snapshot for collectionName, or a fresh
// zero-value Snapshot if none has been persisted yet.
func (s *Store) LoadSnapshot(ctx context.Context, collectionName string) (Snapshot, error) {
	doc, found, err := s.Snapshots.FindOne(ctx, map[string]interface{}{"collectionName": collectionName})
	if err != nil {
		return Snapshot{}, err
	}
	if !found {
		return Snapshot{CollectionName: collectionName}, nil
	}
	return documentToSnapshot(doc), nil
}

// SaveSnapshot persists snap, replacing any previously stored snapshot for
// the same collection.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, _, err := s.Snapshots.UpdateOne(ctx,
		map[string]interface{}{"collectionName": snap.CollectionName},
		snapshotToModifier(snap),
		collection.UpdateOptions{Upsert: true},
	)
	return err
}

// StartOperation appends a "running" sync-operations row and returns its
// id, to be completed later via FinishOperation.
func (s *Store) StartOperation(ctx context.Context, collectionName string, startedAt time.Time) (interface{}, error) {
	doc := document.NewDocument()
	doc.Set("collectionName", collectionName)
	doc.Set("status", string(StatusRunning))
	doc.Set("startedAt", startedAt)
	return s.SyncOperations.InsertOne(ctx, doc)
}

// FinishOperation marks a previously started operation done or error.
func (s *Store) FinishOperation(ctx context.Context, id interface{}, status OperationStatus, finishedAt time.Time, errMsg string) error {
	mod := map[string]interface{}{
		"$set": map[string]interface{}{
			"status":     string(status),
			"finishedAt": finishedAt,
			"error":      errMsg,
		},
	}
	_, _, err := s.SyncOperations.UpdateOne(ctx, map[string]interface{}{document.IDField: id}, mod, collection.UpdateOptions{})
	return err
}

func documentToSnapshot(doc *document.Document) Snapshot {
	snap := Snapshot{}
	if v, ok := doc.Get("collectionName"); ok {
		snap.CollectionName, _ = v.(string)
	}
	if v, ok := doc.Get("items"); ok {
		if arr, ok := v.([]interface{}); ok {
			snap.Items = make([]map[string]interface{}, 0, len(arr))
			for _, item := range arr {
				switch m := item.(type) {
				case map[string]interface{}:
					snap.Items = append(snap.Items, m)
				case *document.Document:
					snap.Items = append(snap.Items, m.ToMap())
				}
			}
		}
	}
	if v, ok := doc.Get("lastFinishedSyncStart"); ok {
		snap.LastFinishedSyncStart, _ = v.(time.Time)
	}
	if v, ok := doc.Get("lastFinishedSyncEnd"); ok {
		snap.LastFinishedSyncEnd, _ = v.(time.Time)
	}
	return snap
}

func snapshotToModifier(snap Snapshot) map[string]interface{} {
	items := make([]interface{}, len(snap.Items))
	for i, item := range snap.Items {
		items[i] = item
	}
	return map[string]interface{}{
		"$set": map[string]interface{}{
			"collectionName":        snap.CollectionName,
			"items":                 items,
			"lastFinishedSyncStart": snap.LastFinishedSyncStart,
			"lastFinishedSyncEnd":   snap.LastFinishedSyncEnd,
		},
	}
}
