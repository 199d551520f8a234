// Package change defines the immutable, content-addressed description
// of a graph transformation: typed edits (atoms) over positions in
// hash space, the minimal dependency set those edits presuppose, and
// authorship metadata kept outside the hashed region.
package change

import (
	"errors"
	"time"

	"github.com/und3fined/pijul/pkg/types"
)

var (
	// ErrMalformed is returned when bytes do not decode as a change.
	ErrMalformed = errors.New("change: malformed")

	// ErrHashMismatch is returned when a decoded change does not hash
	// to the identity it was requested under.
	ErrHashMismatch = errors.New("change: hash mismatch")

	// ErrBadSignature is returned when the attached signature does not
	// verify against the attached key.
	ErrBadSignature = errors.New("change: bad signature")
)

// Position addresses a byte in hash space: a change hash plus an
// offset into the bytes that change introduced. The zero hash refers
// to the change containing the atom ("this change").
type Position struct {
	Change types.Hash
	Offset uint64
}

// IsLocal reports whether the position refers to the containing
// change's own contents.
func (p Position) IsLocal() bool {
	return p.Change.IsNone()
}

// PositionRoot is the hash-space position of the virtual root vertex,
// the up context of every top-level file.
var PositionRoot = Position{Change: types.RootChangeHash, Offset: 0}

// Atom is one typed edit. The two concrete kinds mirror the theory:
// NewVertex introduces bytes, EdgeMap rewrites edge flags.
type Atom interface {
	atom()
	// Inode returns the file root this edit belongs to.
	InodePos() Position
}

// NewVertex introduces the byte range [Start, End) of the change's
// contents as a fresh vertex, anchored between the up context (the
// bytes it comes after) and the down context (the bytes it comes
// before).
type NewVertex struct {
	UpContext   []Position
	DownContext []Position
	Flags       types.EdgeFlags
	Start       uint64
	End         uint64
	Inode       Position
}

func (NewVertex) atom() {}

func (n NewVertex) InodePos() Position { return n.Inode }

// NewEdge rewrites one edge: the stored edge from From to the target
// range carrying the Previous flags (introduced by IntroducedBy) is
// replaced by the same edge carrying Flags, attributed to the change
// containing the atom. The target is the byte range [To.Offset, ToEnd)
// so partial rewrites bound the split they force.
type NewEdge struct {
	Previous     types.EdgeFlags
	Flags        types.EdgeFlags
	From         Position
	To           Position
	ToEnd        uint64
	IntroducedBy types.Hash
}

// EdgeMap groups edge rewrites touching one file.
type EdgeMap struct {
	Edges []NewEdge
	Inode Position
}

func (EdgeMap) atom() {}

func (e EdgeMap) InodePos() Position { return e.Inode }

// Author identifies who recorded a change. Presentation only: not part
// of the hashed region.
type Author struct {
	Name     string
	FullName string
	Email    string
}

// Header is the presentation metadata of a change. Two changes with
// identical edits but different headers hash identically and are the
// same change.
type Header struct {
	Message   string
	Author    Author
	Timestamp time.Time
}

// Change is an immutable graph transformation. Build one with the
// record engine or decode one from canonical bytes; mutate neither.
type Change struct {
	Header       Header
	Dependencies []types.Hash
	Atoms        []Atom
	Contents     []byte

	// ExtraKnown lists changes the recorder could see but does not
	// depend on. References to them are valid without forcing them
	// onto every channel that applies this change.
	ExtraKnown []types.Hash

	// Signature material, optional. The signature covers the content
	// hash, so it authenticates exactly what the hash identifies.
	PublicKey []byte
	Signature []byte
}

// Hash returns the content identity: BLAKE3 over the canonical hashed
// region (atoms, dependencies, extra-known, contents).
func (c *Change) Hash() types.Hash {
	return hashRegionDigest(c)
}

// Knows reports whether h is this change's own hash sentinel, among
// its dependencies, or among its extra-known hashes. Apply uses it to
// validate references.
func (c *Change) Knows(h types.Hash) bool {
	if h.IsNone() || h.IsRootChange() {
		return true
	}
	for _, d := range c.Dependencies {
		if d == h {
			return true
		}
	}
	for _, d := range c.ExtraKnown {
		if d == h {
			return true
		}
	}
	return false
}

// ContentsSlice bounds-checks a [start, end) range of the contents.
func (c *Change) ContentsSlice(start, end uint64) ([]byte, error) {
	if start > end || end > uint64(len(c.Contents)) {
		return nil, ErrMalformed
	}
	return c.Contents[start:end], nil
}
