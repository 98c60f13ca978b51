package syncmanager

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/mnohosten/relaydb/pkg/changelog"
	"github.com/mnohosten/relaydb/pkg/collection"
	"github.com/mnohosten/relaydb/pkg/document"
	"github.com/mnohosten/relaydb/pkg/modifier"
	"github.com/mnohosten/relaydb/pkg/relayerr"
)

// runCycle performs one full sync cycle for name (spec §4.8 steps 1–9).
// When pullOnly is true, steps 2–4 (load/compact/push) are skipped — used
// for remote-change-triggered cycles, which only need to pull.
func (sm *SyncManager) runCycle(ctx context.Context, name string, pullOnly bool) error {
	tc, err := sm.lookup(name)
	if err != nil {
		return err
	}

	start := time.Now()
	opID, err := sm.store.StartOperation(ctx, name, start)
	if err != nil {
		return relayerr.Sync(fmt.Errorf("syncmanager: start operation for %q: %w", name, err))
	}

	snapshot, err := sm.store.LoadSnapshot(ctx, name)
	if err != nil {
		sm.failCycle(ctx, opID, name, err)
		return relayerr.Sync(err)
	}

	var rawChanges []changelog.Entry
	if !pullOnly {
		rawChanges, err = sm.store.ChangesFor(ctx, name)
		if err != nil {
			sm.failCycle(ctx, opID, name, err)
			return relayerr.Sync(err)
		}
		changeSet := changelog.Compact(rawChanges)
		if len(changeSet.Added) > 0 || len(changeSet.Modified) > 0 || len(changeSet.Removed) > 0 {
			err := sm.cfg.Push(ctx, tc.syncCtx, PushRequest{Changes: changeSet, RawChanges: rawChanges})
			if err != nil {
				wrapped := fmt.Errorf("push: %w", err)
				sm.failCycle(ctx, opID, name, wrapped)
				return relayerr.Sync(wrapped)
			}
		}
	}

	pullResult, err := sm.cfg.Pull(ctx, tc.syncCtx, PullParams{
		LastFinishedSyncStart: snapshot.LastFinishedSyncStart,
		LastFinishedSyncEnd:   snapshot.LastFinishedSyncEnd,
	})
	if err != nil {
		wrapped := fmt.Errorf("pull: %w", err)
		sm.failCycle(ctx, opID, name, wrapped)
		return relayerr.Sync(wrapped)
	}

	newSnapshotItems := resolvePull(snapshot.Items, pullResult)

	// localChangesNotYetConfirmed: entries created after this cycle's
	// start, i.e. edits made during the push/pull round trip.
	allChanges, err := sm.store.ChangesFor(ctx, name)
	if err != nil {
		sm.failCycle(ctx, opID, name, err)
		return relayerr.Sync(err)
	}
	var notYetConfirmed []changelog.Entry
	for _, e := range allChanges {
		if e.Time.After(start) {
			notYetConfirmed = append(notYetConfirmed, e)
		}
	}

	authoritative := replay(newSnapshotItems, notYetConfirmed)

	if err := reconcile(ctx, tc.collection, authoritative); err != nil {
		wrapped := fmt.Errorf("reconcile: %w", err)
		sm.failCycle(ctx, opID, name, wrapped)
		return relayerr.Sync(wrapped)
	}

	if !pullOnly {
		if _, err := sm.store.TrimChangesThrough(ctx, name, start); err != nil {
			sm.failCycle(ctx, opID, name, err)
			return relayerr.Sync(err)
		}
	}

	end := time.Now()
	if err := sm.store.SaveSnapshot(ctx, changelog.Snapshot{
		CollectionName:        name,
		Items:                 authoritativeItems(authoritative),
		LastFinishedSyncStart: start,
		LastFinishedSyncEnd:   end,
	}); err != nil {
		sm.failCycle(ctx, opID, name, err)
		return relayerr.Sync(err)
	}
	if err := sm.store.FinishOperation(ctx, opID, changelog.StatusDone, end, ""); err != nil {
		return relayerr.Sync(err)
	}
	resetFailures(tc)
	return nil
}

func (sm *SyncManager) failCycle(ctx context.Context, opID interface{}, name string, cause error) {
	sm.store.FinishOperation(ctx, opID, changelog.StatusError, time.Now(), cause.Error())
}

// resolvePull turns a PullResult into the new snapshot's items, keyed by
// id: a full {items} result replaces the stored snapshot outright; a
// {changes} result is applied on top of it.
func resolvePull(stored []map[string]interface{}, result PullResult) map[interface{}]map[string]interface{} {
	items := make(map[interface{}]map[string]interface{})

	if result.Items != nil {
		for _, doc := range result.Items {
			items[doc[document.IDField]] = doc
		}
		return items
	}

	for _, doc := range stored {
		items[doc[document.IDField]] = doc
	}
	if result.Changes == nil {
		return items
	}
	for _, doc := range result.Changes.Added {
		items[doc[document.IDField]] = doc
	}
	for _, doc := range result.Changes.Modified {
		items[doc[document.IDField]] = doc
	}
	for _, id := range result.Changes.Removed {
		delete(items, id)
	}
	return items
}

// replay applies notYetConfirmed (already ordered by Time ascending, as
// ChangesFor returns them) on top of the remote snapshot, recovering any
// local edits made during the push/pull round trip (spec §4.8 step 6).
func replay(snapshot map[interface{}]map[string]interface{}, notYetConfirmed []changelog.Entry) map[interface{}]map[string]interface{} {
	out := make(map[interface{}]map[string]interface{}, len(snapshot))
	for id, doc := range snapshot {
		out[id] = doc
	}

	for _, e := range notYetConfirmed {
		switch e.Op {
		case changelog.OpInsert:
			out[e.DocID] = e.Doc
		case changelog.OpUpdate:
			if doc, ok := out[e.DocID]; ok {
				wrapped := document.NewDocumentFromMap(cloneDocMap(doc))
				if err := modifier.Apply(wrapped, e.Modifier, modifier.Options{}); err == nil {
					out[e.DocID] = wrapped.ToMap()
				}
			}
		case changelog.OpRemove:
			delete(out, e.DocID)
		}
	}
	return out
}

func cloneDocMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func authoritativeItems(authoritative map[interface{}]map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(authoritative))
	for _, doc := range authoritative {
		out = append(out, doc)
	}
	return out
}

// reconcile diffs authoritative against coll's current in-memory state
// and issues the minimum insert/update/remove operations to match it,
// with the collection's mutation hook suppressed so these writes do not
// loop back into the change log (spec §4.8 step 7).
func reconcile(ctx context.Context, coll *collection.Collection, authoritative map[interface{}]map[string]interface{}) error {
	current := make(map[interface{}]map[string]interface{})
	for _, doc := range coll.AllDocuments() {
		if id, ok := doc.ID(); ok {
			current[id] = doc.ToMap()
		}
	}

	return coll.WithHookSuppressed(func() error {
		for id, newDoc := range authoritative {
			oldDoc, existed := current[id]
			if !existed {
				if _, err := coll.InsertOne(ctx, document.NewDocumentFromMap(cloneDocMap(newDoc))); err != nil {
					return fmt.Errorf("reconcile insert %v: %w", id, err)
				}
				continue
			}
			if mod, changed := diffModifier(oldDoc, newDoc); changed {
				if _, _, err := coll.UpdateOne(ctx, map[string]interface{}{document.IDField: id}, mod, collection.UpdateOptions{}); err != nil {
					return fmt.Errorf("reconcile update %v: %w", id, err)
				}
			}
		}
		for id := range current {
			if _, stillPresent := authoritative[id]; !stillPresent {
				if _, err := coll.DeleteOne(ctx, map[string]interface{}{document.IDField: id}); err != nil {
					return fmt.Errorf("reconcile remove %v: %w", id, err)
				}
			}
		}
		return nil
	})
}

// diffModifier builds a $set/$unset modifier turning oldDoc into newDoc,
// reporting false if they are already equal.
func diffModifier(oldDoc, newDoc map[string]interface{}) (map[string]interface{}, bool) {
	set := make(map[string]interface{})
	unset := make(map[string]interface{})
	changed := false

	for k, v := range newDoc {
		if k == document.IDField {
			continue
		}
		if old, ok := oldDoc[k]; !ok || !valuesEqual(old, v) {
			set[k] = v
			changed = true
		}
	}
	for k := range oldDoc {
		if k == document.IDField {
			continue
		}
		if _, ok := newDoc[k]; !ok {
			unset[k] = ""
			changed = true
		}
	}

	mod := make(map[string]interface{})
	if len(set) > 0 {
		mod["$set"] = set
	}
	if len(unset) > 0 {
		mod["$unset"] = unset
	}
	return mod, changed
}

func valuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}
