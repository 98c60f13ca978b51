package shardedfile

import "errors"

var (
	// ErrMissingID is returned by Insert and Replace for a document with no
	// id field set.
	ErrMissingID = errors.New("shardedfile: document has no id")
	// ErrDuplicateID is returned by Insert when a document with the same id
	// is already stored.
	ErrDuplicateID = errors.New("shardedfile: duplicate id")
	// ErrDuplicateKey is returned by CreateIndex when rebuilding a unique
	// index finds two stored documents sharing a key.
	ErrDuplicateKey = errors.New("shardedfile: duplicate key for unique index")
	// ErrIndexNotFound is returned by ReadIndex for a field that was never
	// created, or was already dropped.
	ErrIndexNotFound = errors.New("shardedfile: index does not exist")
)
