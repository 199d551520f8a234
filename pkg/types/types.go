// Package types defines the identifiers and graph primitives shared by
// every layer of the repository: change hashes, internal change ids,
// vertices (immutable byte ranges), typed edges and inodes.
package types

import (
	"bytes"
	"encoding/base32"
	"fmt"

	"github.com/google/uuid"
)

// HashSize is the width of a change hash (BLAKE3-256).
const HashSize = 32

// Hash is the content hash identifying a change. The zero value is the
// "none" hash and, inside a change, refers to the change itself.
type Hash [HashSize]byte

// Merkle is a state hash committing to a channel's full applied log.
type Merkle [HashSize]byte

var hashEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func (h Hash) String() string {
	return hashEncoding.EncodeToString(h[:])
}

func (h Hash) IsNone() bool {
	return h == Hash{}
}

// RootChangeHash identifies the virtual root change in hash space.
// Changes reference the folder-graph root through it; it is never a
// real change and never a dependency.
var RootChangeHash = func() Hash {
	var h Hash
	for i := range h {
		h[i] = 0xff
	}
	return h
}()

func (h Hash) IsRootChange() bool {
	return h == RootChangeHash
}

// ParseHash decodes the base32 form produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hashEncoding.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parsing hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("parsing hash %q: got %d bytes, want %d", s, len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

func (m Merkle) String() string {
	return hashEncoding.EncodeToString(m[:])
}

// ChangeID is the pristine-internal 8-byte id of a registered change.
// Internal ids are allocated per pristine and are never exchanged
// between replicas; the external Hash is the portable identity.
type ChangeID uint64

// Root is the internal id of the virtual root change that owns the
// folder-graph root vertex.
const Root ChangeID = 0

// Position addresses one byte introduced by a change. Positions are
// stable: splitting a vertex never changes the positions of its bytes.
type Position struct {
	Change ChangeID
	Offset uint64
}

// RootPosition is the anchor of the folder graph.
var RootPosition = Position{Change: Root, Offset: 0}

func (p Position) IsRoot() bool {
	return p == RootPosition
}

// Vertex is a contiguous byte range [Start, End) introduced by a
// single change. Folder-structure vertices may be empty (Start == End).
type Vertex struct {
	Change ChangeID
	Start  uint64
	End    uint64
}

// RootVertex anchors the folder graph.
var RootVertex = Vertex{Change: Root, Start: 0, End: 0}

func (v Vertex) Len() uint64 {
	return v.End - v.Start
}

// StartPos is the position of the first byte (or the anchor offset for
// empty vertices).
func (v Vertex) StartPos() Position {
	return Position{Change: v.Change, Offset: v.Start}
}

// EndPos is the position of the last byte, used as the anchor of
// outgoing order edges. For empty vertices it equals StartPos.
func (v Vertex) EndPos() Position {
	if v.End == v.Start {
		return Position{Change: v.Change, Offset: v.Start}
	}
	return Position{Change: v.Change, Offset: v.End - 1}
}

// Contains reports whether pos addresses a byte of v.
func (v Vertex) Contains(pos Position) bool {
	if pos.Change != v.Change {
		return false
	}
	if v.Start == v.End {
		return pos.Offset == v.Start
	}
	return pos.Offset >= v.Start && pos.Offset < v.End
}

func (v Vertex) String() string {
	return fmt.Sprintf("%d[%d,%d)", v.Change, v.Start, v.End)
}

// EdgeFlags is the type tag of a graph edge. Values match the original
// theory so that on-disk dumps are comparable across implementations.
type EdgeFlags uint8

const (
	// Block marks a sequential ordering edge: the destination byte
	// range follows the source range in file order.
	Block EdgeFlags = 1
	// Pseudo marks an edge materialized by the engine itself to keep
	// alive vertices reachable after concurrent deletions. Pseudo
	// edges are presentation glue, never part of a change.
	Pseudo EdgeFlags = 4
	// Deleted marks the destination range as removed by the
	// introducing change.
	Deleted EdgeFlags = 8
	// Folder marks directory-tree structure edges.
	Folder EdgeFlags = 16
	// Parent marks the stored mirror of an edge, pointing from the
	// destination back to the source.
	Parent EdgeFlags = 32
)

func (f EdgeFlags) Has(bit EdgeFlags) bool {
	return f&bit != 0
}

func (f EdgeFlags) String() string {
	var buf bytes.Buffer
	put := func(bit EdgeFlags, name string) {
		if f.Has(bit) {
			if buf.Len() > 0 {
				buf.WriteByte('|')
			}
			buf.WriteString(name)
		}
	}
	put(Block, "BLOCK")
	put(Pseudo, "PSEUDO")
	put(Deleted, "DELETED")
	put(Folder, "FOLDER")
	put(Parent, "PARENT")
	if buf.Len() == 0 {
		return "NONE"
	}
	return buf.String()
}

// Edge is one stored adjacency row: a typed relation from the vertex
// it is stored under to Dest, attributed to the change that wrote it.
type Edge struct {
	Flags        EdgeFlags
	Dest         Position
	IntroducedBy ChangeID
}

// InodeSize is the width of a working-copy inode identifier.
const InodeSize = 16

// Inode is a random stable identifier tying a working-copy path to the
// graph vertex of its file root. The zero inode is the tree root.
type Inode [InodeSize]byte

var RootInode = Inode{}

// NewInode returns a fresh random inode.
func NewInode() Inode {
	return Inode(uuid.New())
}

func (i Inode) String() string {
	return uuid.UUID(i).String()
}

func (i Inode) IsRoot() bool {
	return i == RootInode
}
