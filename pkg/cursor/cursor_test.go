package cursor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mnohosten/relaydb/pkg/document"
	"github.com/mnohosten/relaydb/pkg/reactivity"
)

// fakeSource is a minimal in-memory Source for cursor tests.
type fakeSource struct {
	mu    sync.Mutex
	docs  map[interface{}]*document.Document
	order []interface{}
	dep   *reactivity.Dependency
	react reactivity.Adapter
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		docs:  make(map[interface{}]*document.Document),
		dep:   reactivity.NewDependency(),
		react: reactivity.DefaultAdapter{},
	}
}

func (s *fakeSource) put(id interface{}, fields map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := document.NewDocument()
	doc.Set(document.IDField, id)
	for k, v := range fields {
		doc.Set(k, v)
	}
	if _, exists := s.docs[id]; !exists {
		s.order = append(s.order, id)
	}
	s.docs[id] = doc
	s.dep.Notify()
}

func (s *fakeSource) remove(id interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.dep.Notify()
}

func (s *fakeSource) QueryCandidates(string, interface{}) ([]interface{}, bool) { return nil, false }

func (s *fakeSource) AllDocuments() []*document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*document.Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id])
	}
	return out
}

func (s *fakeSource) DocumentByID(id interface{}) (*document.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	return d, ok
}

func (s *fakeSource) Dependency() *reactivity.Dependency         { return s.dep }
func (s *fakeSource) ReactivityAdapter() reactivity.Adapter { return s.react }

func TestCursorFetchFiltersAndSorts(t *testing.T) {
	src := newFakeSource()
	src.put("a", map[string]interface{}{"age": int64(3)})
	src.put("b", map[string]interface{}{"age": int64(1)})
	src.put("c", map[string]interface{}{"age": int64(2)})

	c := New(src, map[string]interface{}{"age": map[string]interface{}{"$gte": int64(1)}}, Options{
		Sort: []SortKey{{Field: "age"}},
	})

	docs, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	ages := make([]int64, len(docs))
	for i, d := range docs {
		v, _ := d.Get("age")
		ages[i] = v.(int64)
	}
	if ages[0] != 1 || ages[1] != 2 || ages[2] != 3 {
		t.Errorf("expected ascending ages, got %v", ages)
	}
}

func TestCursorSkipLimit(t *testing.T) {
	src := newFakeSource()
	for i, id := range []string{"a", "b", "c", "d"} {
		src.put(id, map[string]interface{}{"n": int64(i)})
	}
	c := New(src, map[string]interface{}{}, Options{Sort: []SortKey{{Field: "n"}}, Skip: 1, Limit: 2})
	docs, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	v, _ := docs[0].Get("n")
	if v.(int64) != 1 {
		t.Errorf("expected skip to drop first doc, got n=%v", v)
	}
}

func TestCursorProjectionInclusion(t *testing.T) {
	src := newFakeSource()
	src.put("a", map[string]interface{}{"name": "rex", "age": int64(3)})

	c := New(src, map[string]interface{}{}, Options{Fields: map[string]bool{"name": true}})
	docs, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if docs[0].Has("age") {
		t.Error("expected age excluded under inclusion projection")
	}
	if !docs[0].Has("name") {
		t.Error("expected name included")
	}
	if !docs[0].Has(document.IDField) {
		t.Error("expected id to survive projection")
	}
}

func TestCursorCount(t *testing.T) {
	src := newFakeSource()
	src.put("a", map[string]interface{}{"species": "cat"})
	src.put("b", map[string]interface{}{"species": "dog"})

	c := New(src, map[string]interface{}{"species": "cat"}, Options{})
	n, err := c.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected count 1, got %d", n)
	}
}

func TestCursorObserveChangesEmitsAddedChangedRemoved(t *testing.T) {
	src := newFakeSource()
	src.put("a", map[string]interface{}{"n": int64(1)})

	var mu sync.Mutex
	var added, changedCount, removed int

	c := New(src, map[string]interface{}{}, Options{Sort: []SortKey{{Field: "n"}}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := c.ObserveChanges(ctx, Callbacks{
		Added: func(doc *document.Document, beforeID interface{}) {
			mu.Lock()
			added++
			mu.Unlock()
		},
		Changed: func(doc, old *document.Document) {
			mu.Lock()
			changedCount++
			mu.Unlock()
		},
		Removed: func(doc *document.Document) {
			mu.Lock()
			removed++
			mu.Unlock()
		},
	})
	defer stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return added == 1
	})

	src.put("a", map[string]interface{}{"n": int64(2)})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return changedCount == 1
	})

	src.remove("a")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return removed == 1
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
