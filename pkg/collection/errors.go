package collection

import "errors"

var (
	// ErrNotFound is returned when an operation targets a document id that
	// does not exist in the collection.
	ErrNotFound = errors.New("collection: document not found")

	// ErrDuplicateID is returned by InsertOne when the document's id
	// already exists.
	ErrDuplicateID = errors.New("collection: duplicate document id")

	// ErrNotReady is returned when an operation is attempted before Open
	// has completed or after Dispose.
	ErrNotReady = errors.New("collection: not ready")

	// ErrIDNotIndexable is returned by EnsureIndex when asked to index the
	// id field: the primary key is already the implicit, always-present
	// unique index, so a secondary one would be redundant.
	ErrIDNotIndexable = errors.New("collection: id is not a valid index field")
)
