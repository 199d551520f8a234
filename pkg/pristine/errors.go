package pristine

import (
	"errors"
	"fmt"
)

var (
	// ErrReadOnly is returned when a write is attempted inside a
	// read-only transaction.
	ErrReadOnly = errors.New("pristine: read-only transaction")

	// ErrChannelNotFound is returned when opening a channel that was
	// never created.
	ErrChannelNotFound = errors.New("pristine: channel not found")

	// ErrChannelExists is returned when creating a channel whose name
	// is taken.
	ErrChannelExists = errors.New("pristine: channel already exists")

	// ErrBlockNotFound is returned when a position resolves to no
	// stored vertex. Seeing it during apply means the change is
	// inconsistent with the graph, usually a missing dependency that
	// slipped past the declared set.
	ErrBlockNotFound = errors.New("pristine: no block at position")

	// ErrNotFound is the generic missing-row error for lookups.
	ErrNotFound = errors.New("pristine: not found")
)

// StorageError wraps an I/O fault or corruption detected by the
// backing store. It is fatal to the enclosing transaction and is never
// retried by the core.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("pristine: storage fault in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
