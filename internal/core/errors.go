package core

import "errors"

// Error kinds returned by the ledger and statistics components. Callers
// classify with errors.Is; everything else is a storage-layer failure.
var (
	// ErrInvalidInput marks malformed or out-of-range arguments. Rejected
	// before any mutation takes place.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a referenced entity that is absent or not owned by
	// the calling user. An id owned by another user is indistinguishable
	// from a non-existent one.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation that would violate an invariant, such
	// as deleting a source that still has expenses recorded against it.
	ErrConflict = errors.New("conflict")
)
