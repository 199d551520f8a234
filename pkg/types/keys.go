package types

import (
	"encoding/binary"
	"fmt"
)

// Binary codecs for store keys. All integers are big-endian so that
// the store's lexicographic key order equals logical order.

const (
	PositionKeyLen = 16
	VertexKeyLen   = 24
	EdgeKeyLen     = 1 + PositionKeyLen + 8
)

func (p Position) Bytes() []byte {
	b := make([]byte, PositionKeyLen)
	binary.BigEndian.PutUint64(b[0:8], uint64(p.Change))
	binary.BigEndian.PutUint64(b[8:16], p.Offset)
	return b
}

func PositionFromBytes(b []byte) (Position, error) {
	if len(b) < PositionKeyLen {
		return Position{}, fmt.Errorf("position key too short: %d bytes", len(b))
	}
	return Position{
		Change: ChangeID(binary.BigEndian.Uint64(b[0:8])),
		Offset: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

func (v Vertex) Bytes() []byte {
	b := make([]byte, VertexKeyLen)
	binary.BigEndian.PutUint64(b[0:8], uint64(v.Change))
	binary.BigEndian.PutUint64(b[8:16], v.Start)
	binary.BigEndian.PutUint64(b[16:24], v.End)
	return b
}

func VertexFromBytes(b []byte) (Vertex, error) {
	if len(b) < VertexKeyLen {
		return Vertex{}, fmt.Errorf("vertex key too short: %d bytes", len(b))
	}
	return Vertex{
		Change: ChangeID(binary.BigEndian.Uint64(b[0:8])),
		Start:  binary.BigEndian.Uint64(b[8:16]),
		End:    binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

// Bytes encodes an edge row suffix: flag, destination, introducer.
func (e Edge) Bytes() []byte {
	b := make([]byte, EdgeKeyLen)
	b[0] = byte(e.Flags)
	copy(b[1:17], e.Dest.Bytes())
	binary.BigEndian.PutUint64(b[17:25], uint64(e.IntroducedBy))
	return b
}

func EdgeFromBytes(b []byte) (Edge, error) {
	if len(b) < EdgeKeyLen {
		return Edge{}, fmt.Errorf("edge key too short: %d bytes", len(b))
	}
	dest, err := PositionFromBytes(b[1:17])
	if err != nil {
		return Edge{}, err
	}
	return Edge{
		Flags:        EdgeFlags(b[0]),
		Dest:         dest,
		IntroducedBy: ChangeID(binary.BigEndian.Uint64(b[17:25])),
	}, nil
}

func (c ChangeID) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return b
}

func ChangeIDFromBytes(b []byte) (ChangeID, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("change id too short: %d bytes", len(b))
	}
	return ChangeID(binary.BigEndian.Uint64(b)), nil
}
