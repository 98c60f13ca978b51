// Package storage defines the contract a Collection uses to persist its
// documents, decoupled from any one backing implementation. The generic
// sharded-file algorithm lives in pkg/storage/shardedfile; other adapters
// (an in-memory adapter for tests, a remote adapter) need only satisfy
// Adapter.
package storage

import (
	"context"

	"github.com/mnohosten/relaydb/pkg/document"
)

// Adapter is the storage contract a Collection drives. Every method must be
// safe to call concurrently with itself for different arguments; a
// Collection serializes writes to the same document through its own
// mutating state, not through the adapter.
type Adapter interface {
	// Setup prepares the adapter to store documents for the named
	// collection (e.g. creating a root directory), and must be
	// idempotent — called once per Collection.Open.
	Setup(ctx context.Context, collectionName string) error
	// Teardown releases any resources Setup acquired. It does not delete
	// persisted data.
	Teardown(ctx context.Context) error

	// ReadAll returns every document currently stored, in unspecified
	// order. Called once, at collection load.
	ReadAll(ctx context.Context) ([]*document.Document, error)
	// ReadIds returns every document id currently stored, without
	// reading full document bodies.
	ReadIds(ctx context.Context) ([]interface{}, error)

	// CreateIndex declares that the adapter should maintain an equality
	// index over fieldPath, used to accelerate ReadIndex.
	CreateIndex(ctx context.Context, fieldPath string, unique bool) error
	// DropIndex removes a previously created index.
	DropIndex(ctx context.Context, fieldPath string) error
	// ReadIndex returns the ids of documents whose fieldPath equals
	// value, using a previously created index. Fails if fieldPath was
	// never created, or was already dropped.
	ReadIndex(ctx context.Context, fieldPath string, value interface{}) ([]interface{}, error)

	// Insert persists a new document. It is an error to Insert a
	// document whose id already exists.
	Insert(ctx context.Context, doc *document.Document) error
	// Replace overwrites the stored document sharing doc's id.
	Replace(ctx context.Context, doc *document.Document) error
	// Remove deletes the document with the given id, if present.
	Remove(ctx context.Context, id interface{}) error
	// RemoveAll deletes every document the adapter holds.
	RemoveAll(ctx context.Context) error
}
