// Package collection implements the in-memory document collection: the
// core data structure the rest of the engine (cursors, the sync manager,
// the change log) is built on. A Collection holds documents keyed by id,
// maintains zero or more single-field equality indexes over them, mirrors
// writes through a pluggable storage.Adapter, and exposes a reactivity
// Dependency so cursors can recompute when the collection changes.
package collection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mnohosten/relaydb/pkg/cursor"
	"github.com/mnohosten/relaydb/pkg/document"
	"github.com/mnohosten/relaydb/pkg/index"
	"github.com/mnohosten/relaydb/pkg/modifier"
	"github.com/mnohosten/relaydb/pkg/reactivity"
	"github.com/mnohosten/relaydb/pkg/relayerr"
	"github.com/mnohosten/relaydb/pkg/selector"
	"github.com/mnohosten/relaydb/pkg/storage"
)

// MutationOp classifies a mutation reported to a MutationHook.
type MutationOp int

const (
	MutationInsert MutationOp = iota
	MutationUpdate
	MutationRemove
)

// Mutation describes one committed write, handed to a collection's
// MutationHook (if any) after the in-memory write succeeds and the
// storage-adapter write has either succeeded or been queued for background
// retry, but before the caller that triggered it observes completion —
// this lets a sync manager append it to a change log before the caller
// sees the mutation as done.
type Mutation struct {
	Op            MutationOp
	ID            interface{}
	Doc           map[string]interface{} // set for MutationInsert
	Modifier      map[string]interface{} // set for MutationUpdate
	FieldsTouched []string                // set for MutationUpdate
}

// MutationHook receives every committed mutation on a collection, unless
// suppressed via WithHookSuppressed.
type MutationHook func(Mutation)

// Options configures a new Collection.
type Options struct {
	Name       string
	Adapter    storage.Adapter    // nil means purely in-memory, no persistence
	Reactivity reactivity.Adapter // nil defaults to reactivity.DefaultAdapter{}
	Events     *EventBus          // nil disables debug instrumentation
}

// Collection is a mutable set of documents addressed by their id field,
// queryable through pkg/selector and mutable through pkg/modifier.
type Collection struct {
	name    string
	adapter storage.Adapter
	react   reactivity.Adapter
	events  *EventBus

	state linkage

	mu      sync.RWMutex
	docs    map[interface{}]*document.Document
	order   []interface{}
	indexes map[string]index.Provider

	changed *reactivity.Dependency

	hookMu       sync.RWMutex
	hook         MutationHook
	hookSuppress int32

	pendingMu    sync.Mutex
	pendingOps   []func(ctx context.Context) error
	retryRunning bool
	retryDone    chan struct{}
	stopRetry    chan struct{}
}

// New constructs a Collection in the uninitialized state; call Open before
// using it.
func New(opts Options) *Collection {
	react := opts.Reactivity
	if react == nil {
		react = reactivity.DefaultAdapter{}
	}
	return &Collection{
		name:      opts.Name,
		adapter:   opts.Adapter,
		react:     react,
		events:    opts.Events,
		docs:      make(map[interface{}]*document.Document),
		indexes:   make(map[string]index.Provider),
		changed:   react.Create(),
		stopRetry: make(chan struct{}),
	}
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// State returns the current linkage state.
func (c *Collection) State() LinkageState { return c.state.get() }

// Open transitions the collection from uninitialized to ready, loading any
// existing documents from the storage adapter (if one is configured) and
// rebuilding every index over them.
func (c *Collection) Open(ctx context.Context) error {
	if !c.state.beginLoad() {
		return fmt.Errorf("collection %q: Open called from state %s", c.name, c.state.get())
	}
	c.debug("_debug.loading", nil)

	if c.adapter != nil {
		if err := c.adapter.Setup(ctx, c.name); err != nil {
			c.state.set(StateUninitialized)
			return relayerr.Storage(fmt.Errorf("collection %q: setup: %w", c.name, err))
		}
		docs, err := c.adapter.ReadAll(ctx)
		if err != nil {
			c.state.set(StateUninitialized)
			return relayerr.Storage(fmt.Errorf("collection %q: read all: %w", c.name, err))
		}
		c.mu.Lock()
		for _, d := range docs {
			id, ok := d.ID()
			if !ok {
				continue
			}
			if _, exists := c.docs[id]; !exists {
				c.order = append(c.order, id)
			}
			c.docs[id] = d
		}
		c.mu.Unlock()
	}

	c.state.set(StateReady)
	c.debug("_debug.ready", map[string]interface{}{"count": c.Count()})
	return nil
}

// Dispose awaits any pending degraded-storage writes, then tears down the
// storage adapter and marks the collection unusable.
func (c *Collection) Dispose(ctx context.Context) error {
	c.state.set(StateDisposed)
	c.awaitFlush(ctx)
	close(c.stopRetry)
	c.changed.Notify()
	c.debug("_debug.disposed", nil)
	if c.adapter != nil {
		return c.adapter.Teardown(ctx)
	}
	return nil
}

// Dependency exposes the collection-wide reactivity Dependency: any write
// notifies it, and a Cursor depends on it to know when to recompute.
// Implements pkg/cursor.Source.
func (c *Collection) Dependency() *reactivity.Dependency { return c.changed }

// ReactivityAdapter exposes the collection's reactivity.Adapter.
// Implements pkg/cursor.Source.
func (c *Collection) ReactivityAdapter() reactivity.Adapter { return c.react }

// SetMutationHook installs fn to be called after every committed mutation
// (spec §4.8: "addCollection ... begins observing its mutations"). Pass nil
// to remove a previously installed hook. Only one hook is supported per
// collection, matching the one-sync-manager-per-collection ownership rule.
func (c *Collection) SetMutationHook(fn MutationHook) {
	c.hookMu.Lock()
	c.hook = fn
	c.hookMu.Unlock()
}

// WithHookSuppressed runs fn with the mutation hook temporarily disabled,
// so that reconciliation writes driven by a sync cycle do not loop back
// into its own change log (spec §4.8 step 7: "suppress re-emission into
// the change log while doing so").
func (c *Collection) WithHookSuppressed(fn func() error) error {
	atomic.AddInt32(&c.hookSuppress, 1)
	defer atomic.AddInt32(&c.hookSuppress, -1)
	return fn()
}

func (c *Collection) emitMutation(m Mutation) {
	if atomic.LoadInt32(&c.hookSuppress) > 0 {
		return
	}
	c.hookMu.RLock()
	hook := c.hook
	c.hookMu.RUnlock()
	if hook != nil {
		hook(m)
	}
}

// Count returns the number of documents currently in the collection.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// AllDocuments returns every document in insertion order. Implements
// pkg/cursor.Source. Callers must not mutate the returned documents; clone
// first.
func (c *Collection) AllDocuments() []*document.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*document.Document, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.docs[id])
	}
	return out
}

// DocumentByID returns the document with the given id, if any. Implements
// pkg/cursor.Source.
func (c *Collection) DocumentByID(id interface{}) (*document.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	return d, ok
}

// QueryCandidates consults an equality index over fieldPath, if one exists,
// returning the ids whose indexed value equals value. The bool result is
// false when no such index exists (the caller must fall back to a full
// scan). Implements pkg/cursor.Source.
func (c *Collection) QueryCandidates(fieldPath string, value interface{}) ([]interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[fieldPath]
	if !ok {
		return nil, false
	}
	return idx.Query(value), true
}

// EnsureIndex creates (or replaces) a single-field equality index over
// fieldPath and rebuilds it from the current documents.
func (c *Collection) EnsureIndex(ctx context.Context, fieldPath string, unique bool) error {
	if fieldPath == document.IDField {
		return relayerr.Validation(ErrIDNotIndexable)
	}
	if c.state.get() != StateReady {
		return relayerr.Validation(ErrNotReady)
	}
	idx := index.New(index.Config{FieldPath: fieldPath, Unique: unique})

	c.mu.Lock()
	docs := make([]*document.Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, c.docs[id])
	}
	c.mu.Unlock()

	if err := idx.Rebuild(docs); err != nil {
		return relayerr.Validation(fmt.Errorf("collection %q: rebuild index %s: %w", c.name, fieldPath, err))
	}

	c.mu.Lock()
	c.indexes[fieldPath] = idx
	c.mu.Unlock()

	if c.adapter != nil {
		if err := c.adapter.CreateIndex(ctx, fieldPath, unique); err != nil {
			return relayerr.Storage(fmt.Errorf("collection %q: adapter create index %s: %w", c.name, fieldPath, err))
		}
	}
	c.debug("_debug.rebuildIndex", map[string]interface{}{"field": fieldPath})
	return nil
}

// DropIndex removes a previously created index.
func (c *Collection) DropIndex(ctx context.Context, fieldPath string) error {
	c.mu.Lock()
	delete(c.indexes, fieldPath)
	c.mu.Unlock()
	if c.adapter != nil {
		if err := c.adapter.DropIndex(ctx, fieldPath); err != nil {
			return relayerr.Storage(err)
		}
	}
	return nil
}

// InsertOne adds doc to the collection, assigning a generated id if one is
// not already set, and returns the id used.
func (c *Collection) InsertOne(ctx context.Context, doc *document.Document) (interface{}, error) {
	if !c.state.beginMutation() {
		return nil, relayerr.Validation(ErrNotReady)
	}
	defer func() { c.state.endMutation(c.hasPendingOps()) }()

	id, ok := doc.ID()
	if !ok || id == nil {
		id = document.NewObjectID().Hex()
		doc.Set(document.IDField, id)
	}

	c.mu.Lock()
	if _, exists := c.docs[id]; exists {
		c.mu.Unlock()
		return nil, relayerr.Validation(ErrDuplicateID)
	}
	c.docs[id] = doc
	c.order = append(c.order, id)
	indexes := c.indexesSnapshot()
	c.mu.Unlock()

	for _, idx := range indexes {
		if err := idx.OnInsert(doc); err != nil {
			c.mu.Lock()
			delete(c.docs, id)
			c.order = removeID(c.order, id)
			c.mu.Unlock()
			return nil, relayerr.Validation(err)
		}
	}

	if c.adapter != nil {
		if err := c.adapter.Insert(ctx, doc); err != nil {
			c.debug("_debug.storageDegraded", map[string]interface{}{"op": "insert", "id": id, "error": err.Error()})
			c.scheduleRetry(func(ctx context.Context) error { return c.adapter.Insert(ctx, doc) })
		}
	}

	c.changed.Notify()
	c.debug("_debug.insert", map[string]interface{}{"id": id})
	c.emitMutation(Mutation{Op: MutationInsert, ID: id, Doc: doc.ToMap()})
	return id, nil
}

// Find returns a cursor over sel/opts against this collection; nothing is
// evaluated until the cursor's Fetch or ObserveChanges is called.
func (c *Collection) Find(sel map[string]interface{}, opts cursor.Options) *cursor.Cursor {
	return cursor.New(c, sel, opts)
}

// InsertMany inserts docs in order, stopping at (and returning) the first
// error; documents inserted before the failing one remain inserted.
func (c *Collection) InsertMany(ctx context.Context, docs []*document.Document) ([]interface{}, error) {
	ids := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		id, err := c.InsertOne(ctx, doc)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FindOne returns the first document matching sel, in collection order.
func (c *Collection) FindOne(ctx context.Context, sel map[string]interface{}) (*document.Document, bool, error) {
	c.mu.RLock()
	docs := make([]*document.Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, c.docs[id])
	}
	c.mu.RUnlock()

	for _, d := range docs {
		ok, err := selector.Match(sel, d)
		if err != nil {
			return nil, false, relayerr.Validation(err)
		}
		if ok {
			return d, true, nil
		}
	}
	return nil, false, nil
}

// UpdateOptions configures UpdateOne/UpdateMany.
type UpdateOptions struct {
	Upsert       bool
	ArrayFilters []modifier.ArrayFilter
}

// UpdateOne applies mod to the first document matching sel. If Upsert is
// set and nothing matches, a new document is inserted from sel's equality
// fields plus mod. Returns the affected document's id and whether a new
// document was inserted.
func (c *Collection) UpdateOne(ctx context.Context, sel map[string]interface{}, mod map[string]interface{}, opts UpdateOptions) (interface{}, bool, error) {
	existing, found, err := c.FindOne(ctx, sel)
	if err != nil {
		return nil, false, err
	}
	if !found {
		if !opts.Upsert {
			return nil, false, nil
		}
		doc := document.NewDocument()
		for k, v := range sel {
			if _, isOperator := v.(map[string]interface{}); !isOperator && len(k) > 0 && k[0] != '$' {
				doc.Set(k, v)
			}
		}
		if err := modifier.Apply(doc, mod, modifier.Options{IsInsert: true, ArrayFilters: opts.ArrayFilters}); err != nil {
			return nil, false, relayerr.Validation(err)
		}
		id, err := c.InsertOne(ctx, doc)
		return id, true, err
	}

	return c.applyModifierToID(ctx, existing, mod, opts)
}

// UpdateMany applies mod to every document matching sel, returning the
// number of documents modified.
func (c *Collection) UpdateMany(ctx context.Context, sel map[string]interface{}, mod map[string]interface{}, opts UpdateOptions) (int, error) {
	c.mu.RLock()
	docs := make([]*document.Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, c.docs[id])
	}
	c.mu.RUnlock()

	count := 0
	for _, d := range docs {
		ok, err := selector.Match(sel, d)
		if err != nil {
			return count, relayerr.Validation(err)
		}
		if !ok {
			continue
		}
		if _, _, err := c.applyModifierToID(ctx, d, mod, opts); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (c *Collection) applyModifierToID(ctx context.Context, existing *document.Document, mod map[string]interface{}, opts UpdateOptions) (interface{}, bool, error) {
	if !c.state.beginMutation() {
		return nil, false, relayerr.Validation(ErrNotReady)
	}
	defer func() { c.state.endMutation(c.hasPendingOps()) }()

	id, _ := existing.ID()
	updated := existing.Clone()
	if err := modifier.Apply(updated, mod, modifier.Options{ArrayFilters: opts.ArrayFilters}); err != nil {
		return nil, false, relayerr.Validation(err)
	}

	c.mu.Lock()
	c.docs[id] = updated
	indexes := c.indexesSnapshot()
	c.mu.Unlock()

	for _, idx := range indexes {
		if err := idx.OnUpdate(existing, updated); err != nil {
			return nil, false, relayerr.Validation(err)
		}
	}

	if c.adapter != nil {
		if err := c.adapter.Replace(ctx, updated); err != nil {
			c.debug("_debug.storageDegraded", map[string]interface{}{"op": "update", "id": id, "error": err.Error()})
			c.scheduleRetry(func(ctx context.Context) error { return c.adapter.Replace(ctx, updated) })
		}
	}

	c.changed.Notify()
	c.debug("_debug.update", map[string]interface{}{"id": id})
	c.emitMutation(Mutation{Op: MutationUpdate, ID: id, Modifier: mod, FieldsTouched: touchedFields(mod)})
	return id, false, nil
}

// touchedFields returns the top-level field paths named by mod's operator
// argument maps (e.g. "$set": {"a.b": 1} contributes "a.b"), matching spec
// §4.8's modifiedFields: "the literal paths touched by $set/$unset". When
// mod carries no operator keys at all, it is a full replacement (see
// modifier.Apply), so its own top-level keys (besides id) are the touched
// fields.
func touchedFields(mod map[string]interface{}) []string {
	isOperatorForm := false
	for key := range mod {
		if strings.HasPrefix(key, "$") {
			isOperatorForm = true
			break
		}
	}

	seen := make(map[string]struct{})
	if !isOperatorForm {
		for path := range mod {
			if path == document.IDField {
				continue
			}
			seen[path] = struct{}{}
		}
	} else {
		for _, arg := range mod {
			fields, ok := arg.(map[string]interface{})
			if !ok {
				continue
			}
			for path := range fields {
				seen[path] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for path := range seen {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// DeleteOne removes the first document matching sel.
func (c *Collection) DeleteOne(ctx context.Context, sel map[string]interface{}) (bool, error) {
	existing, found, err := c.FindOne(ctx, sel)
	if err != nil || !found {
		return false, err
	}
	return true, c.deleteDocument(ctx, existing)
}

// DeleteMany removes every document matching sel, returning the count
// removed.
func (c *Collection) DeleteMany(ctx context.Context, sel map[string]interface{}) (int, error) {
	c.mu.RLock()
	docs := make([]*document.Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, c.docs[id])
	}
	c.mu.RUnlock()

	count := 0
	for _, d := range docs {
		ok, err := selector.Match(sel, d)
		if err != nil {
			return count, relayerr.Validation(err)
		}
		if !ok {
			continue
		}
		if err := c.deleteDocument(ctx, d); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (c *Collection) deleteDocument(ctx context.Context, existing *document.Document) error {
	if !c.state.beginMutation() {
		return relayerr.Validation(ErrNotReady)
	}
	defer func() { c.state.endMutation(c.hasPendingOps()) }()

	id, _ := existing.ID()

	c.mu.Lock()
	if _, ok := c.docs[id]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.docs, id)
	c.order = removeID(c.order, id)
	indexes := c.indexesSnapshot()
	c.mu.Unlock()

	for _, idx := range indexes {
		if err := idx.OnRemove(existing); err != nil {
			return relayerr.Validation(err)
		}
	}

	if c.adapter != nil {
		if err := c.adapter.Remove(ctx, id); err != nil {
			c.debug("_debug.storageDegraded", map[string]interface{}{"op": "remove", "id": id, "error": err.Error()})
			c.scheduleRetry(func(ctx context.Context) error { return c.adapter.Remove(ctx, id) })
		}
	}

	c.changed.Notify()
	c.debug("_debug.remove", map[string]interface{}{"id": id})
	c.emitMutation(Mutation{Op: MutationRemove, ID: id})
	return nil
}

func (c *Collection) indexesSnapshot() []index.Provider {
	out := make([]index.Provider, 0, len(c.indexes))
	for _, idx := range c.indexes {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (c *Collection) debug(name string, data map[string]interface{}) {
	if c.events != nil {
		c.events.Emit(name, data)
	}
}

func removeID(order []interface{}, id interface{}) []interface{} {
	for i, existing := range order {
		if existing == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
