package change

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"lukechampine.com/blake3"

	"github.com/und3fined/pijul/pkg/types"
)

// Canonical encoding. The wire form is
//
//	magic "PJLC" | version u16 | hashedLen u64 | hashed region |
//	header region | signature region
//
// and the content hash is BLAKE3-256 of the hashed region alone, so
// identity covers the edits, dependencies, extra-known hashes and
// contents but not the presentation header. All integers are little-endian fixed width; no
// floating point appears anywhere, keeping hashes stable across
// platforms.

var magic = [4]byte{'P', 'J', 'L', 'C'}

const version = 1

const (
	atomTagNewVertex = 1
	atomTagEdgeMap   = 2
)

func putU16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func putU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func putU64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func putPosition(w *bytes.Buffer, p Position) {
	w.Write(p.Change[:])
	putU64(w, p.Offset)
}

func putString(w *bytes.Buffer, s string) {
	putU32(w, uint32(len(s)))
	w.WriteString(s)
}

func appendHashedRegion(w *bytes.Buffer, c *Change) {
	putU32(w, uint32(len(c.Dependencies)))
	for _, d := range c.Dependencies {
		w.Write(d[:])
	}
	putU32(w, uint32(len(c.ExtraKnown)))
	for _, d := range c.ExtraKnown {
		w.Write(d[:])
	}
	putU32(w, uint32(len(c.Atoms)))
	for _, a := range c.Atoms {
		switch at := a.(type) {
		case NewVertex:
			w.WriteByte(atomTagNewVertex)
			w.WriteByte(byte(at.Flags))
			putU64(w, at.Start)
			putU64(w, at.End)
			putPosition(w, at.Inode)
			putU32(w, uint32(len(at.UpContext)))
			for _, p := range at.UpContext {
				putPosition(w, p)
			}
			putU32(w, uint32(len(at.DownContext)))
			for _, p := range at.DownContext {
				putPosition(w, p)
			}
		case EdgeMap:
			w.WriteByte(atomTagEdgeMap)
			putPosition(w, at.Inode)
			putU32(w, uint32(len(at.Edges)))
			for _, e := range at.Edges {
				w.WriteByte(byte(e.Previous))
				w.WriteByte(byte(e.Flags))
				putPosition(w, e.From)
				putPosition(w, e.To)
				putU64(w, e.ToEnd)
				w.Write(e.IntroducedBy[:])
			}
		}
	}
	putU64(w, uint64(len(c.Contents)))
	w.Write(c.Contents)
}

func hashRegionDigest(c *Change) types.Hash {
	var w bytes.Buffer
	appendHashedRegion(&w, c)
	return types.Hash(blake3.Sum256(w.Bytes()))
}

// Encode serializes c to its canonical byte form.
func (c *Change) Encode() ([]byte, error) {
	for _, a := range c.Atoms {
		if nv, ok := a.(NewVertex); ok {
			if nv.Start > nv.End || nv.End > uint64(len(c.Contents)) {
				return nil, fmt.Errorf("%w: vertex range [%d,%d) outside contents", ErrMalformed, nv.Start, nv.End)
			}
		}
	}

	var w bytes.Buffer
	w.Write(magic[:])
	putU16(&w, version)

	var hashed bytes.Buffer
	appendHashedRegion(&hashed, c)
	putU64(&w, uint64(hashed.Len()))
	w.Write(hashed.Bytes())

	putString(&w, c.Header.Message)
	putString(&w, c.Header.Author.Name)
	putString(&w, c.Header.Author.FullName)
	putString(&w, c.Header.Author.Email)
	putU64(&w, uint64(c.Header.Timestamp.Unix()))

	putU32(&w, uint32(len(c.PublicKey)))
	w.Write(c.PublicKey)
	putU32(&w, uint32(len(c.Signature)))
	w.Write(c.Signature)

	return w.Bytes(), nil
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.err = ErrMalformed
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) hash() types.Hash {
	var h types.Hash
	copy(h[:], r.take(types.HashSize))
	return h
}

func (r *reader) position() Position {
	return Position{Change: r.hash(), Offset: r.u64()}
}

func (r *reader) string() string {
	n := r.u32()
	if n > uint32(len(r.b)) {
		r.err = ErrMalformed
		return ""
	}
	return string(r.take(int(n)))
}

// maxCount caps per-collection lengths so hostile length prefixes
// cannot drive huge allocations before the bounds check would fail.
func (r *reader) count(width int) int {
	n := int(r.u32())
	if r.err == nil && n*width > len(r.b)-r.off {
		r.err = ErrMalformed
		return 0
	}
	return n
}

// Decode parses canonical bytes. It verifies structure only; use
// DecodeVerify when the expected identity is known.
func Decode(b []byte) (*Change, error) {
	r := &reader{b: b}
	if !bytes.Equal(r.take(4), magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	if v := r.u16(); v != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, v)
	}

	hashedLen := r.u64()
	if r.err != nil || hashedLen > uint64(len(b)-r.off) {
		return nil, fmt.Errorf("%w: truncated hashed region", ErrMalformed)
	}

	c := &Change{}
	nDeps := r.count(types.HashSize)
	for i := 0; i < nDeps; i++ {
		c.Dependencies = append(c.Dependencies, r.hash())
	}
	nExtra := r.count(types.HashSize)
	for i := 0; i < nExtra; i++ {
		c.ExtraKnown = append(c.ExtraKnown, r.hash())
	}
	nAtoms := r.count(1)
	for i := 0; i < nAtoms && r.err == nil; i++ {
		switch r.byte() {
		case atomTagNewVertex:
			nv := NewVertex{}
			nv.Flags = types.EdgeFlags(r.byte())
			nv.Start = r.u64()
			nv.End = r.u64()
			nv.Inode = r.position()
			nUp := r.count(types.HashSize + 8)
			for j := 0; j < nUp; j++ {
				nv.UpContext = append(nv.UpContext, r.position())
			}
			nDown := r.count(types.HashSize + 8)
			for j := 0; j < nDown; j++ {
				nv.DownContext = append(nv.DownContext, r.position())
			}
			c.Atoms = append(c.Atoms, nv)
		case atomTagEdgeMap:
			em := EdgeMap{}
			em.Inode = r.position()
			nEdges := r.count(2 + 2*(types.HashSize+8) + 8 + types.HashSize)
			for j := 0; j < nEdges; j++ {
				e := NewEdge{}
				e.Previous = types.EdgeFlags(r.byte())
				e.Flags = types.EdgeFlags(r.byte())
				e.From = r.position()
				e.To = r.position()
				e.ToEnd = r.u64()
				e.IntroducedBy = r.hash()
				em.Edges = append(em.Edges, e)
			}
			c.Atoms = append(c.Atoms, em)
		default:
			return nil, fmt.Errorf("%w: unknown atom tag", ErrMalformed)
		}
	}
	contentsLen := r.u64()
	if r.err != nil || contentsLen > uint64(len(b)-r.off) {
		return nil, fmt.Errorf("%w: truncated contents", ErrMalformed)
	}
	c.Contents = append([]byte(nil), r.take(int(contentsLen))...)

	c.Header.Message = r.string()
	c.Header.Author.Name = r.string()
	c.Header.Author.FullName = r.string()
	c.Header.Author.Email = r.string()
	c.Header.Timestamp = time.Unix(int64(r.u64()), 0).UTC()

	nPub := r.count(1)
	c.PublicKey = append([]byte(nil), r.take(nPub)...)
	nSig := r.count(1)
	c.Signature = append([]byte(nil), r.take(nSig)...)

	if r.err != nil {
		return nil, r.err
	}
	for _, a := range c.Atoms {
		if nv, ok := a.(NewVertex); ok {
			if nv.Start > nv.End || nv.End > uint64(len(c.Contents)) {
				return nil, fmt.Errorf("%w: vertex range outside contents", ErrMalformed)
			}
		}
	}
	return c, nil
}

// DecodeVerify decodes and checks that the bytes hash to want.
// Untrusted input goes through here before any graph mutation.
func DecodeVerify(b []byte, want types.Hash) (*Change, error) {
	c, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if got := c.Hash(); got != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrHashMismatch, got, want)
	}
	if len(c.Signature) > 0 {
		if err := c.VerifySignature(); err != nil {
			return nil, err
		}
	}
	return c, nil
}
