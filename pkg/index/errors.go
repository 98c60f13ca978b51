package index

import "errors"

var (
	// ErrDuplicateKey is returned when inserting a duplicate key into a
	// unique equality index.
	ErrDuplicateKey = errors.New("duplicate key")
)
