package output

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/und3fined/pijul/pkg/apply"
	"github.com/und3fined/pijul/pkg/changestore"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
)

// Segment is one piece of a retrieved file: plain text or a conflict.
type Segment interface {
	segment()
}

// Text is a run of ordered, alive bytes. Change is the external hash
// of the vertex's owner, carried so consumers can anchor edits in
// hash space without another lookup.
type Text struct {
	Vertex types.Vertex
	Change types.Hash
	Bytes  []byte
}

func (Text) segment() {}

// Conflict is an unresolvable region, presented side by side. Orders
// and cycles carry one side per alternative; zombies carry the
// contested content as their single side.
type Conflict struct {
	Kind  apply.ConflictKind
	Sides [][]Segment
}

func (Conflict) segment() {}

// Outputter retrieves files from a pristine graph.
type Outputter struct {
	Store  changestore.Store
	Logger *logrus.Logger
}

// Retrieve linearizes the file rooted at pos into segments. The same
// graph always yields the same segments, on every replica: sides are
// ordered by change hash, never by local ids.
func (o *Outputter) Retrieve(txn *pristine.Txn, ch *pristine.Channel, pos types.Position) ([]Segment, error) {
	g, err := loadGraph(txn, ch, pos)
	if err != nil {
		return nil, err
	}
	cond := condense(g)
	w := &walker{o: o, g: g, c: cond, reach: make(map[int]map[int]bool)}
	segs, err := w.linearize(cond.comp[g.root], -1)
	if err != nil {
		return nil, err
	}
	return segs, nil
}

type walker struct {
	o     *Outputter
	g     *graph
	c     *condensation
	reach map[int]map[int]bool
}

func (w *walker) reachable(n int) map[int]bool {
	if r, ok := w.reach[n]; ok {
		return r
	}
	r := w.c.reachableComps(n)
	w.reach[n] = r
	return r
}

// linearize walks the condensation from comp until stop (-1 for the
// end), emitting text and conflicts. Forks whose branches reconverge
// become order conflicts spanning up to the join component.
func (w *walker) linearize(comp, stop int) ([]Segment, error) {
	var segs []Segment
	var zombies []Segment

	flushZombies := func() {
		if len(zombies) > 0 {
			segs = append(segs, Conflict{Kind: apply.ConflictZombie, Sides: [][]Segment{zombies}})
			zombies = nil
		}
	}

	n := comp
	for n != stop {
		sc := w.c.comps[n]
		if len(sc.vertices) > 1 {
			flushZombies()
			conflict, err := w.cycleConflict(sc)
			if err != nil {
				return nil, err
			}
			segs = append(segs, conflict)
		} else {
			v := sc.vertices[0]
			text, err := w.textOf(v)
			if err != nil {
				return nil, err
			}
			if text != nil {
				if w.g.nodes[v].zombie {
					zombies = append(zombies, *text)
				} else {
					flushZombies()
					segs = append(segs, *text)
				}
			}
		}

		kept := w.pruneChildren(w.c.succ[n])
		switch len(kept) {
		case 0:
			flushZombies()
			return segs, nil
		case 1:
			n = kept[0]
		default:
			flushZombies()
			join := w.joinOf(kept)
			var sides [][]Segment
			for _, child := range kept {
				side, err := w.linearize(child, join)
				if err != nil {
					return nil, err
				}
				sides = append(sides, side)
			}
			segs = append(segs, Conflict{Kind: apply.ConflictOrder, Sides: sides})
			if join < 0 {
				return segs, nil
			}
			n = join
		}
	}
	flushZombies()
	return segs, nil
}

// pruneChildren drops successors already ordered behind a sibling: a
// child another child reaches is not an alternative, it is further
// down the same path.
func (w *walker) pruneChildren(children []int) []int {
	var kept []int
	for _, c := range children {
		dominated := false
		for _, other := range children {
			if other != c && w.reachable(other)[c] {
				dominated = true
				break
			}
		}
		if !dominated && !slices.Contains(kept, c) {
			kept = append(kept, c)
		}
	}
	return kept
}

// joinOf finds where the branches reconverge: the component closest to
// the fork that every branch reaches. Tarjan indexes decrease along
// edges, so the largest shared index is the nearest join.
func (w *walker) joinOf(kept []int) int {
	shared := w.reachable(kept[0])
	counts := make(map[int]int)
	for n := range shared {
		counts[n] = 1
	}
	for _, c := range kept[1:] {
		for n := range w.reachable(c) {
			counts[n]++
		}
	}
	join := -1
	for n, cnt := range counts {
		if cnt == len(kept) && n > join && !slices.Contains(kept, n) {
			join = n
		}
	}
	return join
}

func (w *walker) textOf(v types.Vertex) (*Text, error) {
	if v.Start == v.End || v.Change == types.Root {
		return nil, nil
	}
	h := w.g.nodes[v].hash
	b, err := w.o.Store.Contents(h, v.Start, v.End)
	if err != nil {
		return nil, err
	}
	return &Text{Vertex: v, Change: h, Bytes: b}, nil
}

func (w *walker) cycleConflict(sc *scc) (Conflict, error) {
	var sides [][]Segment
	for _, v := range sc.vertices {
		text, err := w.textOf(v)
		if err != nil {
			return Conflict{}, err
		}
		if text != nil {
			sides = append(sides, []Segment{*text})
		}
	}
	return Conflict{Kind: apply.ConflictCycle, Sides: sides}, nil
}

// RetrievePath is Retrieve addressed by working-copy path.
func (o *Outputter) RetrievePath(txn *pristine.Txn, ch *pristine.Channel, path string) ([]Segment, error) {
	inode, err := txn.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	pos, err := txn.InodePosition(inode)
	if err != nil {
		return nil, err
	}
	return o.Retrieve(txn, ch, pos)
}

// HasConflicts reports whether any segment is a conflict.
func HasConflicts(segs []Segment) bool {
	for _, s := range segs {
		if _, ok := s.(Conflict); ok {
			return true
		}
	}
	return false
}
