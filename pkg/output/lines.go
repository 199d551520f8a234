package output

import (
	"fmt"

	"github.com/und3fined/pijul/pkg/apply"
	"github.com/und3fined/pijul/pkg/types"
)

// Line-level view of a retrieved file. The record engine diffs the
// working copy against these lines and maps each edit back to graph
// positions through the pieces, so rendering and provenance must come
// from the same walk: FileText is defined as the concatenation of
// Lines.

// Piece is a contiguous byte run of one vertex inside a line.
type Piece struct {
	Change types.Hash
	Vertex types.Vertex
	// [Start, End) in the owning change's contents
	Start, End uint64
}

// Line is one rendered line, terminator included. Synthetic lines are
// conflict markers; they carry no pieces and never anchor edits. A
// line may end with a synthetic newline (marker alignment) while its
// pieces cover only the real bytes.
type Line struct {
	Bytes     []byte
	Pieces    []Piece
	Synthetic bool
	// Zombie marks lines rendered inside a zombie conflict.
	Zombie bool
}

// Lines flattens segments into rendered lines with provenance.
func Lines(segs []Segment) []Line {
	f := &liner{}
	f.segments(segs, false)
	f.flush()
	return f.lines
}

// FileText flattens segments into the marked-up byte form written to
// the working copy.
func FileText(segs []Segment) []byte {
	var out []byte
	for _, l := range Lines(segs) {
		out = append(out, l.Bytes...)
	}
	return out
}

const (
	markerStart  = ">>>>>>>"
	markerSep    = "======="
	markerEnd    = "<<<<<<<"
	markerZombie = "zombie"
	markerCycle  = "cycle"
)

type liner struct {
	lines []Line
	cur   Line
}

func (f *liner) segments(segs []Segment, zombie bool) {
	for _, s := range segs {
		switch seg := s.(type) {
		case Text:
			f.text(seg, zombie)
		case Conflict:
			f.conflict(seg)
		}
	}
}

func (f *liner) conflict(c Conflict) {
	f.breakLine()
	switch c.Kind {
	case apply.ConflictZombie:
		f.marker(fmt.Sprintf("%s %s\n", markerStart, markerZombie))
	case apply.ConflictCycle:
		f.marker(fmt.Sprintf("%s %s\n", markerStart, markerCycle))
	default:
		f.marker(fmt.Sprintf("%s 1\n", markerStart))
	}
	zombie := c.Kind == apply.ConflictZombie
	for i, side := range c.Sides {
		if i > 0 {
			f.breakLine()
			f.marker(fmt.Sprintf("%s %d\n", markerSep, i+1))
		}
		f.segments(side, zombie)
	}
	f.breakLine()
	f.marker(markerEnd + "\n")
}

func (f *liner) text(seg Text, zombie bool) {
	b := seg.Bytes
	off := seg.Vertex.Start
	for len(b) > 0 {
		n := 0
		for n < len(b) && b[n] != '\n' {
			n++
		}
		terminated := n < len(b)
		if terminated {
			n++
		}
		f.cur.Bytes = append(f.cur.Bytes, b[:n]...)
		f.cur.Pieces = append(f.cur.Pieces, Piece{
			Change: seg.Change,
			Vertex: seg.Vertex,
			Start:  off,
			End:    off + uint64(n),
		})
		f.cur.Zombie = f.cur.Zombie || zombie
		off += uint64(n)
		b = b[n:]
		if terminated {
			f.flush()
		}
	}
}

// breakLine terminates a dangling unterminated line with a synthetic
// newline so a marker starts in column zero.
func (f *liner) breakLine() {
	if len(f.cur.Bytes) > 0 {
		f.cur.Bytes = append(f.cur.Bytes, '\n')
		f.flush()
	}
}

func (f *liner) marker(s string) {
	f.flush()
	f.lines = append(f.lines, Line{Bytes: []byte(s), Synthetic: true})
}

func (f *liner) flush() {
	if len(f.cur.Bytes) == 0 {
		return
	}
	f.lines = append(f.lines, f.cur)
	f.cur = Line{}
}
