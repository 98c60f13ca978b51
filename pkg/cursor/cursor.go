// Package cursor implements the read side of a query: given a selector and
// a Source of documents, it narrows candidates through an equality index
// when one is available, applies the residual selector, sorts, paginates,
// and optionally projects — then, reactively, re-runs that whole pipeline
// and diffs the result whenever the Source's Dependency fires, the way the
// teacher's database/cursor.go batches and tracks a result set over time,
// generalized here from a server cursor protocol to an in-process diff
// feed (pkg/database/cursor.go's batching/positional-token bookkeeping
// does not apply to an eager, always-materialized result set).
package cursor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mnohosten/relaydb/pkg/cache"
	"github.com/mnohosten/relaydb/pkg/document"
	"github.com/mnohosten/relaydb/pkg/reactivity"
	"github.com/mnohosten/relaydb/pkg/selector"
)

// Source is the read surface a Cursor needs from a document store.
// pkg/collection.Collection implements it; nothing in this package imports
// pkg/collection, avoiding an import cycle between the two.
type Source interface {
	QueryCandidates(fieldPath string, value interface{}) ([]interface{}, bool)
	AllDocuments() []*document.Document
	DocumentByID(id interface{}) (*document.Document, bool)
	Dependency() *reactivity.Dependency
	ReactivityAdapter() reactivity.Adapter
}

// SortKey orders a Cursor's results by one field.
type SortKey struct {
	Field      string
	Descending bool
}

// Options configures a Cursor's pipeline beyond the selector itself.
type Options struct {
	Sort  []SortKey
	Skip  int
	Limit int // 0 means unlimited
	// Fields, if non-empty, projects the result: a map with any value
	// true puts the cursor in inclusion mode (only id + those fields
	// survive); a map with only false values puts it in exclusion mode
	// (those fields are dropped, everything else survives). Mixing true
	// and false (other than for the id field) is rejected by the
	// teacher's own query engine convention and rejected here too.
	Fields map[string]bool
}

// candidateCacheCapacity and candidateCacheTTL bound the per-cursor
// equality-index lookup cache: small because a cursor only ever asks for
// its own selector's candidates, short-lived because a stale candidate
// list is still re-verified against the full selector before being
// trusted, so the cost of a stale hit is a wasted recompute, not a wrong
// answer.
const (
	candidateCacheCapacity = 8
	candidateCacheTTL      = 2 * time.Second
)

// Cursor runs sel against a Source, applying opts's sort/skip/limit/project
// pipeline, either once (Fetch) or continuously (ObserveChanges).
type Cursor struct {
	source Source
	sel    map[string]interface{}
	opts   Options
	cache  *cache.LRUCache
}

// New creates a Cursor. sel and opts are not copied; callers should treat
// them as immutable for the Cursor's lifetime.
func New(source Source, sel map[string]interface{}, opts Options) *Cursor {
	return &Cursor{
		source: source,
		sel:    sel,
		opts:   opts,
		cache:  cache.NewLRUCache(candidateCacheCapacity, candidateCacheTTL),
	}
}

// Fetch runs the pipeline once and returns the resulting documents. If
// called from within a reactive computation (ctx carries one, per
// pkg/reactivity), the cursor also registers that computation as a
// dependent of the source, so it reruns when the source changes.
func (c *Cursor) Fetch(ctx context.Context) ([]*document.Document, error) {
	c.source.Dependency().Depend(ctx)
	return c.evaluate()
}

// Count runs the selector (ignoring sort/skip/limit/projection) and
// returns the number of matching documents.
func (c *Cursor) Count(ctx context.Context) (int, error) {
	c.source.Dependency().Depend(ctx)
	docs, err := c.filteredCandidates()
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (c *Cursor) evaluate() ([]*document.Document, error) {
	docs, err := c.filteredCandidates()
	if err != nil {
		return nil, err
	}

	if len(c.opts.Sort) > 0 {
		sortDocuments(docs, c.opts.Sort)
	}
	docs = paginate(docs, c.opts.Skip, c.opts.Limit)
	if len(c.opts.Fields) > 0 {
		docs, err = projectAll(docs, c.opts.Fields)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// filteredCandidates narrows to an equality index's candidates when the
// selector has a usable top-level equality clause and the source has a
// matching index, then always re-verifies every candidate (and, absent a
// usable index, every document) against the full selector.
func (c *Cursor) filteredCandidates() ([]*document.Document, error) {
	pool := c.candidatePool()

	out := make([]*document.Document, 0, len(pool))
	for _, doc := range pool {
		ok, err := selector.Match(c.sel, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (c *Cursor) candidatePool() []*document.Document {
	field, value, ok := equalityHint(c.sel)
	if !ok {
		return c.source.AllDocuments()
	}

	cacheKey := cache.GenerateKey(map[string]interface{}{field: value}, nil, 0, 0, nil)
	if cached, hit := c.cache.Get(cacheKey); hit {
		return c.resolveIDs(cached.([]interface{}))
	}

	ids, ok := c.source.QueryCandidates(field, value)
	if !ok {
		return c.source.AllDocuments()
	}
	c.cache.Put(cacheKey, ids)
	return c.resolveIDs(ids)
}

func (c *Cursor) resolveIDs(ids []interface{}) []*document.Document {
	out := make([]*document.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := c.source.DocumentByID(id); ok {
			out = append(out, doc)
		}
	}
	return out
}

// equalityHint extracts a single top-level field/value equality condition
// from sel suitable for an index lookup: either {field: scalar} or
// {field: {$eq: scalar}}. Any other shape (operators, $and, no fields)
// returns ok=false, falling back to a full scan.
func equalityHint(sel map[string]interface{}) (string, interface{}, bool) {
	for field, expr := range sel {
		if len(field) > 0 && field[0] == '$' {
			continue
		}
		switch v := expr.(type) {
		case map[string]interface{}:
			if len(v) == 1 {
				if eq, ok := v["$eq"]; ok {
					return field, eq, true
				}
			}
		default:
			return field, expr, true
		}
	}
	return "", nil, false
}

func sortDocuments(docs []*document.Document, keys []SortKey) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range keys {
			a, _ := document.GetPath(docs[i], key.Field)
			b, _ := document.GetPath(docs[j], key.Field)
			cmp := selector.Compare(a, b)
			if cmp == 0 {
				continue
			}
			if key.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func paginate(docs []*document.Document, skip, limit int) []*document.Document {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

func projectAll(docs []*document.Document, fields map[string]bool) ([]*document.Document, error) {
	inclusion, err := isInclusion(fields)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, len(docs))
	for i, doc := range docs {
		out[i] = project(doc, fields, inclusion)
	}
	return out, nil
}

func project(doc *document.Document, fields map[string]bool, inclusion bool) *document.Document {
	out := document.NewDocument()

	if id, ok := doc.Get(document.IDField); ok {
		if want, specified := fields[document.IDField]; !specified || want {
			out.Set(document.IDField, id)
		}
	}

	for _, key := range doc.Keys() {
		if key == document.IDField {
			continue
		}
		want, specified := fields[key]
		switch {
		case inclusion && specified && want:
			v, _ := doc.Get(key)
			out.Set(key, v)
		case !inclusion && (!specified || want):
			v, _ := doc.Get(key)
			out.Set(key, v)
		}
	}
	return out
}

// isInclusion reports whether fields is an inclusion projection. id is
// exempt from the mixing check in either direction (it may always be
// included or excluded alongside other inclusion/exclusion fields); any
// other field mixing inclusion (want=true) with exclusion (want=false) is
// a validation error (spec §4.4 step 6, §7 "mixed projection modes").
func isInclusion(fields map[string]bool) (bool, error) {
	sawInclude := false
	sawExclude := false
	for field, want := range fields {
		if field == document.IDField {
			continue
		}
		if want {
			sawInclude = true
		} else {
			sawExclude = true
		}
	}
	if sawInclude && sawExclude {
		return false, fmt.Errorf("projection cannot mix inclusion and exclusion of fields")
	}
	if !sawInclude && !sawExclude {
		return fields[document.IDField], nil
	}
	return sawInclude, nil
}
