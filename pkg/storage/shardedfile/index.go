package shardedfile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mnohosten/relaydb/pkg/document"
)

const manifestDir = "index"
const manifestName = "_manifest.json"

// indexConfig is one registered index, as recorded in the manifest file so
// Setup can rehydrate it on a later process start without re-scanning every
// index bucket's (one-way, hashed) directory name.
type indexConfig struct {
	FieldPath string `json:"field_path"`
	Unique    bool   `json:"unique"`
}

func (a *Adapter) loadManifest() error {
	var entries []indexConfig
	found, err := a.files.readJSON(manifestDir, manifestName, &entries)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	a.indexesMu.Lock()
	defer a.indexesMu.Unlock()
	for _, e := range entries {
		a.indexes[e.FieldPath] = e.Unique
	}
	return nil
}

func (a *Adapter) writeManifest() error {
	a.indexesMu.RLock()
	entries := make([]indexConfig, 0, len(a.indexes))
	for field, unique := range a.indexes {
		entries = append(entries, indexConfig{FieldPath: field, Unique: unique})
	}
	a.indexesMu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].FieldPath < entries[j].FieldPath })
	return a.files.writeJSON(manifestDir, manifestName, entries)
}

// CreateIndex registers fieldPath as indexed and rebuilds its buckets from
// every currently stored document. Rebuilding is not transactional: if a
// uniqueness violation is found partway through, the buckets already
// written for earlier documents are left in place. Acceptable for a
// client-side store, where CreateIndex runs against a collection the
// caller just loaded and can re-open on failure.
func (a *Adapter) CreateIndex(ctx context.Context, fieldPath string, unique bool) error {
	a.indexesMu.Lock()
	a.indexes[fieldPath] = unique
	a.indexesMu.Unlock()
	if err := a.writeManifest(); err != nil {
		return err
	}

	if err := a.files.removeAll(indexFieldDir(fieldPath)); err != nil {
		return err
	}

	docs, err := a.ReadAll(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		id, ok := doc.ID()
		if !ok {
			continue
		}
		for _, key := range keysForDoc(doc, fieldPath) {
			if err := a.addToBucket(fieldPath, key, id, unique); err != nil {
				return err
			}
		}
	}
	return nil
}

// DropIndex unregisters fieldPath and discards its buckets.
func (a *Adapter) DropIndex(ctx context.Context, fieldPath string) error {
	a.indexesMu.Lock()
	delete(a.indexes, fieldPath)
	a.indexesMu.Unlock()
	if err := a.writeManifest(); err != nil {
		return err
	}
	return a.files.removeAll(indexFieldDir(fieldPath))
}

// ReadIndex returns the ids of documents whose fieldPath canonicalizes to
// the same key as value. Fails with ErrIndexNotFound if fieldPath was never
// indexed, or was already dropped (spec: dropIndex then readIndex "fails
// with a does not exist error").
func (a *Adapter) ReadIndex(ctx context.Context, fieldPath string, value interface{}) ([]interface{}, error) {
	a.indexesMu.RLock()
	_, registered := a.indexes[fieldPath]
	a.indexesMu.RUnlock()
	if !registered {
		return nil, ErrIndexNotFound
	}

	dir, name := indexBucketPath(fieldPath, value)
	var stored []interface{}
	found, err := a.files.readJSON(dir, name, &stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	out := make([]interface{}, len(stored))
	for i, v := range stored {
		out[i] = fromStorageValue(v)
	}
	return out, nil
}

func indexFieldDir(fieldPath string) string {
	return manifestDir + "/" + safeName(fieldPath)
}

// registeredIndexes returns a snapshot of fieldPath->unique, safe to range
// over without holding a.indexesMu.
func (a *Adapter) registeredIndexes() map[string]bool {
	a.indexesMu.RLock()
	defer a.indexesMu.RUnlock()
	out := make(map[string]bool, len(a.indexes))
	for field, unique := range a.indexes {
		out[field] = unique
	}
	return out
}

// keysForDoc resolves fieldPath on doc into zero, one, or (for an array
// field — a "multikey" index, in MongoDB's terms) several distinct index
// keys.
func keysForDoc(doc *document.Document, fieldPath string) []interface{} {
	v, ok := document.GetPath(doc, fieldPath)
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return []interface{}{v}
	}

	seen := make(map[string]bool, len(arr))
	out := make([]interface{}, 0, len(arr))
	for _, item := range arr {
		c := document.CanonicalString(item)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, item)
	}
	return out
}

// bucketLock returns a mutex scoped to one bucket file, so concurrent
// inserts targeting the same key serialize their read-modify-write instead
// of racing to overwrite each other's delta.
func (a *Adapter) bucketLock(path string) *sync.Mutex {
	v, _ := a.bucketLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (a *Adapter) addToBucket(fieldPath string, key, id interface{}, unique bool) error {
	dir, name := indexBucketPath(fieldPath, key)
	lock := a.bucketLock(dir + "/" + name)
	lock.Lock()
	defer lock.Unlock()

	var stored []interface{}
	if _, err := a.files.readJSON(dir, name, &stored); err != nil {
		return err
	}

	idCanon := document.CanonicalString(id)
	for _, v := range stored {
		existingID := fromStorageValue(v)
		if document.CanonicalString(existingID) == idCanon {
			return nil // already present, nothing to do
		}
		if unique {
			return fmt.Errorf("%w: field %q key %v already maps to %v", ErrDuplicateKey, fieldPath, key, existingID)
		}
	}

	stored = append(stored, toStorageValue(id))
	return a.files.writeJSON(dir, name, stored)
}

func (a *Adapter) removeFromBucket(fieldPath string, key, id interface{}) error {
	dir, name := indexBucketPath(fieldPath, key)
	lock := a.bucketLock(dir + "/" + name)
	lock.Lock()
	defer lock.Unlock()

	var stored []interface{}
	found, err := a.files.readJSON(dir, name, &stored)
	if err != nil || !found {
		return err
	}

	idCanon := document.CanonicalString(id)
	out := stored[:0]
	for _, v := range stored {
		if document.CanonicalString(fromStorageValue(v)) == idCanon {
			continue
		}
		out = append(out, v)
	}

	if len(out) == 0 {
		return a.files.removeFile(dir, name)
	}
	return a.files.writeJSON(dir, name, out)
}

// updateIndexesOnInsert adds id to every registered index's buckets for
// doc's current field values.
func (a *Adapter) updateIndexesOnInsert(doc *document.Document) error {
	id, ok := doc.ID()
	if !ok {
		return nil
	}
	for field, unique := range a.registeredIndexes() {
		for _, key := range keysForDoc(doc, field) {
			if err := a.addToBucket(field, key, id, unique); err != nil {
				return err
			}
		}
	}
	return nil
}

// updateIndexesOnReplace moves id between old's and new's buckets for every
// registered index, touching only the keys that actually differ.
func (a *Adapter) updateIndexesOnReplace(oldDoc, newDoc *document.Document) error {
	id, ok := newDoc.ID()
	if !ok {
		return nil
	}
	for field, unique := range a.registeredIndexes() {
		oldKeys := keySet(oldDoc, field)
		newKeys := keySet(newDoc, field)

		for canon, key := range oldKeys {
			if _, stillPresent := newKeys[canon]; !stillPresent {
				if err := a.removeFromBucket(field, key, id); err != nil {
					return err
				}
			}
		}
		for canon, key := range newKeys {
			if _, alreadyPresent := oldKeys[canon]; !alreadyPresent {
				if err := a.addToBucket(field, key, id, unique); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// updateIndexesOnRemove drops id from every registered index's buckets for
// doc's field values.
func (a *Adapter) updateIndexesOnRemove(doc *document.Document) error {
	id, ok := doc.ID()
	if !ok {
		return nil
	}
	for field := range a.registeredIndexes() {
		for _, key := range keysForDoc(doc, field) {
			if err := a.removeFromBucket(field, key, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func keySet(doc *document.Document, fieldPath string) map[string]interface{} {
	if doc == nil {
		return nil
	}
	keys := keysForDoc(doc, fieldPath)
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		out[document.CanonicalString(k)] = k
	}
	return out
}
