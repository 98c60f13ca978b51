package shardedfile

import (
	"context"
	"errors"
	"testing"

	"github.com/mnohosten/relaydb/pkg/document"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := New(Config{BaseDir: t.TempDir()})
	if err := a.Setup(context.Background(), "pets"); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { a.Teardown(context.Background()) })
	return a
}

func docWithID(id interface{}, fields map[string]interface{}) *document.Document {
	doc := document.NewDocument()
	doc.Set(document.IDField, id)
	for k, v := range fields {
		doc.Set(k, v)
	}
	return doc
}

func TestAdapterInsertAndReadAll(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if err := a.Insert(ctx, docWithID("a", map[string]interface{}{"name": "fluffy"})); err != nil {
		t.Fatal(err)
	}
	if err := a.Insert(ctx, docWithID("b", map[string]interface{}{"name": "rex"})); err != nil {
		t.Fatal(err)
	}

	docs, err := a.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
}

func TestAdapterInsertDuplicateID(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	doc := docWithID("a", nil)
	if err := a.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := a.Insert(ctx, doc); err != ErrDuplicateID {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestAdapterReplaceAndRemove(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	doc := docWithID("a", map[string]interface{}{"age": int64(3)})
	if err := a.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	updated := docWithID("a", map[string]interface{}{"age": int64(4)})
	if err := a.Replace(ctx, updated); err != nil {
		t.Fatal(err)
	}

	docs, err := a.ReadAll(ctx)
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected 1 document after replace, got %d (err=%v)", len(docs), err)
	}
	age, _ := docs[0].Get("age")
	if age.(int64) != 4 {
		t.Errorf("expected age 4 after replace, got %v", age)
	}

	if err := a.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	docs, err = a.ReadAll(ctx)
	if err != nil || len(docs) != 0 {
		t.Fatalf("expected 0 documents after remove, got %d (err=%v)", len(docs), err)
	}
}

func TestAdapterRemoveMissingIsNoop(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.Remove(context.Background(), "nonexistent"); err != nil {
		t.Fatalf("expected no error removing a missing id, got %v", err)
	}
}

func TestAdapterCreateIndexAndReadIndex(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	for _, species := range []struct {
		id, species string
	}{{"a", "cat"}, {"b", "dog"}, {"c", "cat"}} {
		if err := a.Insert(ctx, docWithID(species.id, map[string]interface{}{"species": species.species})); err != nil {
			t.Fatal(err)
		}
	}

	if err := a.CreateIndex(ctx, "species", false); err != nil {
		t.Fatal(err)
	}

	ids, err := a.ReadIndex(ctx, "species", "cat")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 cats, got %v", ids)
	}
}

func TestAdapterReadIndexFailsForUncreatedOrDroppedField(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if _, err := a.ReadIndex(ctx, "species", "cat"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound before the index was ever created, got %v", err)
	}

	if err := a.CreateIndex(ctx, "species", false); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ReadIndex(ctx, "species", "cat"); err != nil {
		t.Errorf("expected no error once the index exists, got %v", err)
	}

	if err := a.DropIndex(ctx, "species"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ReadIndex(ctx, "species", "cat"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound after the index was dropped, got %v", err)
	}
}

func TestAdapterIndexTracksInsertReplaceRemove(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if err := a.CreateIndex(ctx, "species", false); err != nil {
		t.Fatal(err)
	}
	if err := a.Insert(ctx, docWithID("a", map[string]interface{}{"species": "cat"})); err != nil {
		t.Fatal(err)
	}

	ids, _ := a.ReadIndex(ctx, "species", "cat")
	if len(ids) != 1 {
		t.Fatalf("expected 1 cat after insert, got %v", ids)
	}

	if err := a.Replace(ctx, docWithID("a", map[string]interface{}{"species": "dog"})); err != nil {
		t.Fatal(err)
	}
	ids, _ = a.ReadIndex(ctx, "species", "cat")
	if len(ids) != 0 {
		t.Errorf("expected no cats after replace moved the doc to dog, got %v", ids)
	}
	ids, _ = a.ReadIndex(ctx, "species", "dog")
	if len(ids) != 1 {
		t.Errorf("expected 1 dog after replace, got %v", ids)
	}

	if err := a.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	ids, _ = a.ReadIndex(ctx, "species", "dog")
	if len(ids) != 0 {
		t.Errorf("expected no dogs after remove, got %v", ids)
	}
}

func TestAdapterUniqueIndexRejectsDuplicateKey(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if err := a.Insert(ctx, docWithID("a", map[string]interface{}{"email": "x@example.com"})); err != nil {
		t.Fatal(err)
	}
	if err := a.Insert(ctx, docWithID("b", map[string]interface{}{"email": "x@example.com"})); err != nil {
		t.Fatal(err)
	}

	if err := a.CreateIndex(ctx, "email", true); err == nil {
		t.Fatal("expected a unique-index rebuild over duplicate emails to fail")
	}
}

func TestAdapterMultikeyArrayIndex(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	doc := docWithID("a", map[string]interface{}{"tags": []interface{}{"x", "y"}})
	if err := a.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := a.CreateIndex(ctx, "tags", false); err != nil {
		t.Fatal(err)
	}

	ids, err := a.ReadIndex(ctx, "tags", "x")
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected doc indexed under tag x, got %v (err=%v)", ids, err)
	}
	ids, err = a.ReadIndex(ctx, "tags", "y")
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected doc indexed under tag y, got %v (err=%v)", ids, err)
	}
}

func TestAdapterPreservesTypedValuesAcrossReload(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	oid := document.NewObjectID()
	doc := docWithID("a", map[string]interface{}{"ownerID": oid})
	if err := a.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	docs, err := a.ReadAll(ctx)
	if err != nil || len(docs) != 1 {
		t.Fatalf("ReadAll: %v (err=%v)", docs, err)
	}
	v, _ := docs[0].Get("ownerID")
	got, ok := v.(document.ObjectID)
	if !ok || got != oid {
		t.Errorf("expected ObjectID %v to round-trip, got %v (%T)", oid, v, v)
	}
}

func TestAdapterRemoveAllClearsDocumentsAndIndexes(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if err := a.Insert(ctx, docWithID("a", map[string]interface{}{"species": "cat"})); err != nil {
		t.Fatal(err)
	}
	if err := a.CreateIndex(ctx, "species", false); err != nil {
		t.Fatal(err)
	}

	if err := a.RemoveAll(ctx); err != nil {
		t.Fatal(err)
	}

	docs, err := a.ReadAll(ctx)
	if err != nil || len(docs) != 0 {
		t.Fatalf("expected no documents after RemoveAll, got %v (err=%v)", docs, err)
	}
	// RemoveAll drops index registrations along with their buckets, so a
	// field indexed before it reports ErrIndexNotFound afterward, same as
	// a field that was never indexed.
	if _, err := a.ReadIndex(ctx, "species", "cat"); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound after RemoveAll, got %v", err)
	}

	if err := a.CreateIndex(ctx, "species", false); err != nil {
		t.Fatal(err)
	}
	if ids, err := a.ReadIndex(ctx, "species", "cat"); err != nil || len(ids) != 0 {
		t.Fatalf("expected empty bucket for a freshly re-created index, got %v (err=%v)", ids, err)
	}
}

func TestAdapterReopenRehydratesIndexRegistration(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	a := New(Config{BaseDir: base})
	if err := a.Setup(ctx, "pets"); err != nil {
		t.Fatal(err)
	}
	if err := a.Insert(ctx, docWithID("a", map[string]interface{}{"species": "cat"})); err != nil {
		t.Fatal(err)
	}
	if err := a.CreateIndex(ctx, "species", false); err != nil {
		t.Fatal(err)
	}
	a.Teardown(ctx)

	reopened := New(Config{BaseDir: base})
	if err := reopened.Setup(ctx, "pets"); err != nil {
		t.Fatal(err)
	}
	defer reopened.Teardown(ctx)

	if err := reopened.Insert(ctx, docWithID("b", map[string]interface{}{"species": "cat"})); err != nil {
		t.Fatal(err)
	}
	ids, err := reopened.ReadIndex(ctx, "species", "cat")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("expected the reopened adapter to keep indexing species on insert, got %v", ids)
	}
}
