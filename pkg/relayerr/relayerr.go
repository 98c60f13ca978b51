// Package relayerr classifies the errors that cross a Collection, storage
// adapter, or sync manager boundary into the three kinds a caller actually
// needs to branch on: bad input, a storage adapter that could not complete
// an operation, and a sync cycle that failed against the remote. Each kind
// wraps the underlying sentinel or cause, so errors.Is/errors.As still see
// through to it.
package relayerr

import "errors"

// ValidationError reports that the caller's input was rejected before any
// storage or network operation was attempted: a duplicate id, an unknown
// index field, a malformed selector or modifier.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Validation wraps err as a *ValidationError. Returns nil if err is nil.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Err: err}
}

// StorageError reports that a storage.Adapter operation (disk, or whatever
// backs it) failed: setup, a read, a write that isn't being retried in the
// background, an index rebuild.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a *StorageError. Returns nil if err is nil.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Err: err}
}

// SyncError reports that a sync cycle failed: the remote push/pull
// callback errored, or reconciling the pulled state back into the local
// collection failed.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string { return e.Err.Error() }
func (e *SyncError) Unwrap() error { return e.Err }

// Sync wraps err as a *SyncError. Returns nil if err is nil.
func Sync(err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{Err: err}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsStorage reports whether err is (or wraps) a *StorageError.
func IsStorage(err error) bool {
	var v *StorageError
	return errors.As(err, &v)
}

// IsSync reports whether err is (or wraps) a *SyncError.
func IsSync(err error) bool {
	var v *SyncError
	return errors.As(err, &v)
}
