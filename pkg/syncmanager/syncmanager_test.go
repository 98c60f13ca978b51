package syncmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mnohosten/relaydb/pkg/collection"
	"github.com/mnohosten/relaydb/pkg/document"
	"github.com/mnohosten/relaydb/pkg/relayerr"
)

func newOpenCollection(t *testing.T, name string) *collection.Collection {
	t.Helper()
	c := collection.New(collection.Options{Name: name})
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

// fakeRemote is an in-memory stand-in for a remote source of truth,
// always answering pull with a full {items} snapshot.
type fakeRemote struct {
	mu    sync.Mutex
	items map[interface{}]map[string]interface{}
	pushes []PushRequest
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{items: make(map[interface{}]map[string]interface{})}
}

func (r *fakeRemote) pull(ctx context.Context, syncCtx SyncContext, params PullParams) (PullResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]map[string]interface{}, 0, len(r.items))
	for _, doc := range r.items {
		items = append(items, doc)
	}
	return PullResult{Items: items}, nil
}

func (r *fakeRemote) push(ctx context.Context, syncCtx SyncContext, req PushRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, req)
	for id, doc := range req.Changes.Added {
		r.items[id] = doc
	}
	for id := range req.Changes.Removed {
		delete(r.items, id)
	}
	return nil
}

func TestSyncManagerPushesLocalInsertToRemote(t *testing.T) {
	ctx := context.Background()
	coll := newOpenCollection(t, "widgets")
	remote := newFakeRemote()

	sm, err := New(ctx, Config{Pull: remote.pull, Push: remote.push})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sm.Dispose(ctx)

	if err := sm.AddCollection(ctx, coll, SyncContext{"name": "widgets"}); err != nil {
		t.Fatalf("AddCollection: %v", err)
	}

	doc := document.NewDocument()
	doc.Set(document.IDField, "a")
	doc.Set("name", "gizmo")
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	if err := sm.StartSync(ctx, "widgets"); err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	waitForNoPending(t, sm, "widgets")

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.pushes) == 0 {
		t.Fatal("expected at least one push to the remote")
	}
	if _, ok := remote.items["a"]; !ok {
		t.Errorf("expected the inserted document to reach the remote, got %+v", remote.items)
	}
}

func TestSyncManagerPullsRemoteStateIntoCollection(t *testing.T) {
	ctx := context.Background()
	coll := newOpenCollection(t, "widgets")
	remote := newFakeRemote()
	remote.items["z"] = map[string]interface{}{"id": "z", "name": "remote-only"}

	sm, err := New(ctx, Config{Pull: remote.pull, Push: remote.push})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sm.Dispose(ctx)

	if err := sm.AddCollection(ctx, coll, SyncContext{"name": "widgets"}); err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	if err := sm.StartSync(ctx, "widgets"); err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	waitForNoPending(t, sm, "widgets")

	doc, found := coll.DocumentByID("z")
	if !found {
		t.Fatal("expected the remote-only document to be reconciled into the collection")
	}
	if v, _ := doc.Get("name"); v != "remote-only" {
		t.Errorf("expected reconciled content to match the remote, got %v", v)
	}
}

func TestSyncManagerReconciliationDoesNotReenterChangeLog(t *testing.T) {
	ctx := context.Background()
	coll := newOpenCollection(t, "widgets")
	remote := newFakeRemote()
	remote.items["z"] = map[string]interface{}{"id": "z", "name": "remote-only"}

	sm, err := New(ctx, Config{Pull: remote.pull, Push: remote.push})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sm.Dispose(ctx)

	if err := sm.AddCollection(ctx, coll, SyncContext{"name": "widgets"}); err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	if err := sm.StartSync(ctx, "widgets"); err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	waitForNoPending(t, sm, "widgets")

	entries, err := sm.store.ChangesFor(ctx, "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected reconciliation writes to be suppressed from the change log, got %+v", entries)
	}
}

func TestSyncManagerPullFailureWrapsAsSyncError(t *testing.T) {
	ctx := context.Background()
	coll := newOpenCollection(t, "widgets")

	pullErr := errors.New("remote unreachable")
	sm, err := New(ctx, Config{
		Pull: func(context.Context, SyncContext, PullParams) (PullResult, error) {
			return PullResult{}, pullErr
		},
		Push: func(context.Context, SyncContext, PushRequest) error { return nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sm.Dispose(ctx)

	if err := sm.AddCollection(ctx, coll, SyncContext{"name": "widgets"}); err != nil {
		t.Fatalf("AddCollection: %v", err)
	}

	err = sm.runCycle(ctx, "widgets", false)
	if !errors.Is(err, pullErr) {
		t.Errorf("expected the cycle error to wrap the pull failure, got %v", err)
	}
	if !relayerr.IsSync(err) {
		t.Errorf("expected a SyncError, got %v", err)
	}
}

func TestSyncManagerUnregisteredCollectionIsValidationError(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	sm, err := New(ctx, Config{Pull: remote.pull, Push: remote.push})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sm.Dispose(ctx)

	if err := sm.StartSync(ctx, "missing"); !relayerr.IsValidation(err) {
		t.Errorf("expected a ValidationError, got %v", err)
	}
}

func waitForNoPending(t *testing.T, sm *SyncManager, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !sm.tasks.HasPending(name) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q to finish syncing", name)
}
