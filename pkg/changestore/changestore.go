// Package changestore persists Change objects outside the pristine.
// Change files are immutable and content-addressed: the file name is
// the hash, the payload is the canonical encoding compressed with
// LZMA, and a fast checksum trailer catches on-disk corruption before
// the slower hash verification runs.
package changestore

import (
	"errors"

	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/types"
)

var (
	// ErrNotFound is returned for hashes the store has never seen.
	ErrNotFound = errors.New("changestore: change not found")

	// ErrCorrupt is returned when a stored frame fails its checksum.
	// Treated like any other storage fault: surfaced, never retried.
	ErrCorrupt = errors.New("changestore: corrupt change file")
)

// Store is the interface both engines consume. Implementations must
// verify content hashes on Get so untrusted bytes never reach apply.
type Store interface {
	// Put stores c and returns its hash. Storing the same change
	// twice is a no-op.
	Put(c *change.Change) (types.Hash, error)

	// Get returns the change with the given hash after verifying it.
	Get(h types.Hash) (*change.Change, error)

	// Has reports whether the store holds h.
	Has(h types.Hash) (bool, error)

	// Del removes h. Deleting an absent change is a no-op; callers
	// (unrecord, GC) decide when removal is safe.
	Del(h types.Hash) error

	// Contents returns the byte range [start, end) of the bytes the
	// change introduced. The retrieve engine reads vertex payloads
	// through this.
	Contents(h types.Hash, start, end uint64) ([]byte, error)
}
