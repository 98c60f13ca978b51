// Package index implements the single-field equality index providers the
// collection layer consults to avoid full scans. Range queries, compound
// keys, and full-text/geo indexing are out of scope; see SPEC_FULL.md.
package index

import (
	"fmt"
	"sync"

	"github.com/mnohosten/relaydb/pkg/document"
)

// Provider is the contract a Collection uses to keep an index in sync with
// its documents and to answer equality lookups. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Name identifies the index, typically "<fieldPath>_1".
	Name() string
	// FieldPath is the (possibly dotted) field this index covers.
	FieldPath() string
	// Rebuild discards the current index contents and re-derives them from
	// docs. Collection calls it when EnsureIndex creates an index.
	Rebuild(docs []*document.Document) error
	// OnInsert indexes a newly inserted document.
	OnInsert(doc *document.Document) error
	// OnUpdate re-indexes a document whose value changed from oldDoc to
	// newDoc (same id).
	OnUpdate(oldDoc, newDoc *document.Document) error
	// OnRemove removes a document's entries from the index.
	OnRemove(doc *document.Document) error
	// Query returns the ids of documents whose indexed field equals value.
	Query(value interface{}) []interface{}
	// Stats reports index size and build state for debug instrumentation.
	Stats() map[string]interface{}
}

// Config describes an index to create.
type Config struct {
	Name      string
	FieldPath string
	Unique    bool
}

// EqualityIndex is a single-field equality index: a canonical-key -> id-set
// multimap. Values that are arrays index each element individually
// (Mongo's "multikey" behavior), so {tags: "x"} matches a document whose
// tags array contains "x".
type EqualityIndex struct {
	name      string
	fieldPath string
	unique    bool

	mu       sync.RWMutex
	keyToIDs map[string]map[interface{}]struct{}
	idToKeys map[interface{}][]string
	progress *buildProgress
}

var _ Provider = (*EqualityIndex)(nil)

// New creates an equality index provider for a single field.
func New(cfg Config) *EqualityIndex {
	name := cfg.Name
	if name == "" {
		name = cfg.FieldPath + "_1"
	}
	return &EqualityIndex{
		name:      name,
		fieldPath: cfg.FieldPath,
		unique:    cfg.Unique,
		keyToIDs:  make(map[string]map[interface{}]struct{}),
		idToKeys:  make(map[interface{}][]string),
		progress:  newBuildProgress(),
	}
}

func (idx *EqualityIndex) Name() string      { return idx.name }
func (idx *EqualityIndex) FieldPath() string { return idx.fieldPath }

func (idx *EqualityIndex) Rebuild(docs []*document.Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.progress.start(len(docs))
	idx.keyToIDs = make(map[string]map[interface{}]struct{})
	idx.idToKeys = make(map[interface{}][]string)

	for _, doc := range docs {
		if err := idx.insertLocked(doc); err != nil {
			idx.progress.fail(err)
			return err
		}
		idx.progress.increment()
	}
	idx.progress.complete()
	return nil
}

func (idx *EqualityIndex) OnInsert(doc *document.Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.insertLocked(doc)
}

func (idx *EqualityIndex) OnUpdate(oldDoc, newDoc *document.Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(oldDoc)
	return idx.insertLocked(newDoc)
}

func (idx *EqualityIndex) OnRemove(doc *document.Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(doc)
	return nil
}

func (idx *EqualityIndex) Query(value interface{}) []interface{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	key := document.CanonicalString(value)
	set, ok := idx.keyToIDs[key]
	if !ok {
		return nil
	}
	out := make([]interface{}, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (idx *EqualityIndex) Stats() map[string]interface{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return map[string]interface{}{
		"name":       idx.name,
		"field":      idx.fieldPath,
		"unique":     idx.unique,
		"keys":       len(idx.keyToIDs),
		"documents":  len(idx.idToKeys),
		"buildState": idx.progress.State().String(),
	}
}

func (idx *EqualityIndex) insertLocked(doc *document.Document) error {
	id, ok := doc.ID()
	if !ok {
		return fmt.Errorf("document missing %q field, cannot index", document.IDField)
	}
	keys := idx.keysFor(doc)
	if idx.unique {
		for _, key := range keys {
			if set, exists := idx.keyToIDs[key]; exists {
				for existingID := range set {
					if existingID != id {
						return fmt.Errorf("%w: %s=%v", ErrDuplicateKey, idx.fieldPath, key)
					}
				}
			}
		}
	}
	for _, key := range keys {
		set, ok := idx.keyToIDs[key]
		if !ok {
			set = make(map[interface{}]struct{})
			idx.keyToIDs[key] = set
		}
		set[id] = struct{}{}
	}
	idx.idToKeys[id] = keys
	return nil
}

func (idx *EqualityIndex) removeLocked(doc *document.Document) {
	id, ok := doc.ID()
	if !ok {
		return
	}
	for _, key := range idx.idToKeys[id] {
		if set, ok := idx.keyToIDs[key]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(idx.keyToIDs, key)
			}
		}
	}
	delete(idx.idToKeys, id)
}

// keysFor returns the canonical key(s) a document contributes to the index:
// one key for a scalar field value, one key per element for an array value.
func (idx *EqualityIndex) keysFor(doc *document.Document) []string {
	value, exists := document.GetPath(doc, idx.fieldPath)
	if !exists {
		return nil
	}
	if arr, ok := value.([]interface{}); ok {
		keys := make([]string, 0, len(arr))
		seen := make(map[string]struct{}, len(arr))
		for _, item := range arr {
			k := document.CanonicalString(item)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		return keys
	}
	return []string{document.CanonicalString(value)}
}
