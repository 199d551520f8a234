package record

import (
	"errors"
	"path"

	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/output"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
)

// builder accumulates the atoms and contents of one change while the
// record pass walks the working copy.
type builder struct {
	txn       *pristine.Txn
	ch        *pristine.Channel
	out       *output.Outputter
	chunkSize int64

	contents []byte
	atoms    []change.Atom
	deps     map[types.Hash]struct{}

	// directories created by this change, path to local inode position
	dirs map[string]change.Position
}

func newBuilder(txn *pristine.Txn, ch *pristine.Channel, out *output.Outputter, chunkSize int64) *builder {
	return &builder{
		txn:       txn,
		ch:        ch,
		out:       out,
		chunkSize: chunkSize,
		deps:      make(map[types.Hash]struct{}),
		dirs:      make(map[string]change.Position),
	}
}

func (b *builder) dep(h types.Hash) {
	if h.IsNone() || h.IsRootChange() {
		return
	}
	b.deps[h] = struct{}{}
}

func (b *builder) depPos(p change.Position) {
	b.dep(p.Change)
}

// external maps an internal id to the portable hash. The virtual root
// change maps to the root sentinel.
func (b *builder) external(id types.ChangeID) (types.Hash, error) {
	if id == types.Root {
		return types.RootChangeHash, nil
	}
	return b.txn.External(id)
}

// hashPos rewrites an internal position into hash space.
func (b *builder) hashPos(p types.Position) (change.Position, error) {
	h, err := b.external(p.Change)
	if err != nil {
		return change.Position{}, err
	}
	b.dep(h)
	return change.Position{Change: h, Offset: p.Offset}, nil
}

// ensureDir returns the inode position of the directory at dir,
// creating the folder structure in this change when the pristine does
// not have it yet.
func (b *builder) ensureDir(dir string) (change.Position, error) {
	if dir == "" || dir == "." || dir == "/" {
		return change.PositionRoot, nil
	}
	if pos, ok := b.dirs[dir]; ok {
		return pos, nil
	}
	inode, err := b.txn.ResolvePath(dir)
	if err == nil {
		ipos, err := b.txn.InodePosition(inode)
		if err != nil {
			return change.Position{}, err
		}
		pos, err := b.hashPos(ipos)
		if err != nil {
			return change.Position{}, err
		}
		b.dirs[dir] = pos
		return pos, nil
	}
	if !errors.Is(err, pristine.ErrNotFound) {
		return change.Position{}, err
	}
	parent, err := b.ensureDir(path.Dir(dir))
	if err != nil {
		return change.Position{}, err
	}
	pos := b.folderVertex(parent, path.Base(dir))
	b.dirs[dir] = pos
	return pos, nil
}

// folderVertex emits the two folder atoms naming one tree entry: the
// name vertex holding the entry's name bytes and the empty inode
// vertex the entry's contents hang from. Returns the inode vertex
// position, local to this change.
func (b *builder) folderVertex(parent change.Position, name string) change.Position {
	b.depPos(parent)
	nameStart := uint64(len(b.contents))
	b.contents = append(b.contents, name...)
	nameEnd := uint64(len(b.contents))
	b.atoms = append(b.atoms, change.NewVertex{
		UpContext: []change.Position{parent},
		Flags:     types.Folder,
		Start:     nameStart,
		End:       nameEnd,
		Inode:     parent,
	})
	b.atoms = append(b.atoms, change.NewVertex{
		UpContext: []change.Position{{Offset: nameEnd - 1}},
		Flags:     types.Folder,
		Start:     nameEnd,
		End:       nameEnd,
		Inode:     parent,
	})
	// hole byte so the inode vertex keeps a position of its own
	b.contents = append(b.contents, 0)
	return change.Position{Offset: nameEnd}
}

// addFile records a file the pristine has never seen: folder atoms for
// the path, then the contents as a chain of chunk vertices.
func (b *builder) addFile(p string, data []byte) error {
	parent, err := b.ensureDir(path.Dir(p))
	if err != nil {
		return err
	}
	inodePos := b.folderVertex(parent, path.Base(p))

	pieces, err := chunks(data, b.chunkSize)
	if err != nil {
		return err
	}
	up := inodePos
	for _, piece := range pieces {
		start := uint64(len(b.contents))
		b.contents = append(b.contents, piece...)
		end := uint64(len(b.contents))
		b.atoms = append(b.atoms, change.NewVertex{
			UpContext: []change.Position{up},
			Start:     start,
			End:       end,
			Inode:     inodePos,
		})
		up = change.Position{Offset: end - 1}
	}
	return nil
}

// deleteFile records the removal of a whole file: the folder edges
// naming it and every live content edge of its graph flip to Deleted.
func (b *builder) deleteFile(entry output.FileEntry) error {
	filePos, err := b.hashPos(entry.Pos)
	if err != nil {
		return err
	}
	inodeV, err := b.txn.FindBlock(b.ch, entry.Pos)
	if err != nil {
		return err
	}

	var edges []change.NewEdge

	// folder edges: parent to name vertex, name vertex to inode vertex
	inodeRows, err := b.txn.Adjacent(b.ch, inodeV)
	if err != nil {
		return err
	}
	for _, r := range inodeRows {
		if !r.Flags.Has(types.Parent) || !r.Flags.Has(types.Folder) {
			continue
		}
		if r.Flags.Has(types.Deleted) || r.Flags.Has(types.Pseudo) {
			continue
		}
		nameV, err := b.txn.FindBlock(b.ch, r.Dest)
		if err != nil {
			return err
		}
		nameRows, err := b.txn.Adjacent(b.ch, nameV)
		if err != nil {
			return err
		}
		for _, nr := range nameRows {
			if !nr.Flags.Has(types.Parent) || !nr.Flags.Has(types.Folder) {
				continue
			}
			if nr.Flags.Has(types.Deleted) || nr.Flags.Has(types.Pseudo) {
				continue
			}
			e, err := b.deleteEdge(nr, nameV)
			if err != nil {
				return err
			}
			edges = append(edges, e)
		}
		e, err := b.deleteEdge(r, inodeV)
		if err != nil {
			return err
		}
		edges = append(edges, e)
	}

	// content edges, depth first from the inode vertex
	seen := map[types.Vertex]bool{inodeV: true}
	var walk func(v types.Vertex) error
	walk = func(v types.Vertex) error {
		rows, err := b.txn.Adjacent(b.ch, v)
		if err != nil {
			return err
		}
		for _, e := range rows {
			if e.Flags.Has(types.Parent) || e.Flags.Has(types.Deleted) || e.Flags.Has(types.Pseudo) {
				continue
			}
			tv, err := b.txn.FindBlock(b.ch, e.Dest)
			if err != nil {
				return err
			}
			from, err := b.hashPos(v.EndPos())
			if err != nil {
				return err
			}
			to, err := b.hashPos(tv.StartPos())
			if err != nil {
				return err
			}
			intro, err := b.external(e.IntroducedBy)
			if err != nil {
				return err
			}
			b.dep(intro)
			edges = append(edges, change.NewEdge{
				Previous:     e.Flags,
				Flags:        e.Flags | types.Deleted,
				From:         from,
				To:           to,
				ToEnd:        tv.End,
				IntroducedBy: intro,
			})
			if !seen[tv] {
				seen[tv] = true
				if err := walk(tv); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(inodeV); err != nil {
		return err
	}

	b.atoms = append(b.atoms, change.EdgeMap{Edges: edges, Inode: filePos})
	return nil
}

// deleteEdge rewrites one stored parent row into the NewEdge that
// flips it to Deleted. The row's Dest names the source vertex's last
// byte, which is exactly the From anchor.
func (b *builder) deleteEdge(r types.Edge, target types.Vertex) (change.NewEdge, error) {
	from, err := b.hashPos(r.Dest)
	if err != nil {
		return change.NewEdge{}, err
	}
	to, err := b.hashPos(target.StartPos())
	if err != nil {
		return change.NewEdge{}, err
	}
	intro, err := b.external(r.IntroducedBy)
	if err != nil {
		return change.NewEdge{}, err
	}
	b.dep(intro)
	prev := r.Flags &^ types.Parent
	return change.NewEdge{
		Previous:     prev,
		Flags:        prev | types.Deleted,
		From:         from,
		To:           to,
		ToEnd:        target.End,
		IntroducedBy: intro,
	}, nil
}

// region is a contiguous deleted byte range inside one stored vertex.
type region struct {
	vertex types.Vertex
	hash   types.Hash
	start  uint64
	end    uint64
}

// diffFile diffs the retrieved file against the working-copy bytes and
// emits deletion edges and anchored insertions for each hunk.
func (b *builder) diffFile(entry output.FileEntry, data []byte) error {
	segs, err := b.out.Retrieve(b.txn, b.ch, entry.Pos)
	if err != nil {
		return err
	}
	lines := output.Lines(segs)
	old := make([][]byte, len(lines))
	for i, l := range lines {
		old[i] = l.Bytes
	}
	newLines := splitLines(data)
	edits := diffLines(old, newLines)

	changed := false
	for _, e := range edits {
		if e.op != opEqual {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}

	filePos, err := b.hashPos(entry.Pos)
	if err != nil {
		return err
	}

	deleted := make([]bool, len(lines))
	for _, e := range edits {
		if e.op != opDelete {
			continue
		}
		for i := e.aStart; i < e.aEnd; i++ {
			deleted[i] = true
		}
	}

	var edges []change.NewEdge
	for _, reg := range b.deletedRegions(lines, deleted) {
		es, err := b.deleteRegion(reg)
		if err != nil {
			return err
		}
		edges = append(edges, es...)
	}
	if len(edges) > 0 {
		b.atoms = append(b.atoms, change.EdgeMap{Edges: edges, Inode: filePos})
	}

	for _, e := range edits {
		if e.op != opInsert {
			continue
		}
		var buf []byte
		for _, l := range newLines[e.bStart:e.bEnd] {
			buf = append(buf, l...)
		}
		if err := b.insert(lines, deleted, e.aStart, buf, filePos); err != nil {
			return err
		}
	}
	return nil
}

// deletedRegions merges the pieces of deleted lines into per-vertex
// contiguous byte ranges.
func (b *builder) deletedRegions(lines []output.Line, deleted []bool) []region {
	var out []region
	for i, l := range lines {
		if !deleted[i] || l.Synthetic {
			continue
		}
		for _, p := range l.Pieces {
			if n := len(out); n > 0 && out[n-1].vertex == p.Vertex && out[n-1].end == p.Start {
				out[n-1].end = p.End
				continue
			}
			out = append(out, region{vertex: p.Vertex, hash: p.Change, start: p.Start, end: p.End})
		}
	}
	return out
}

// deleteRegion emits the edges deleting [reg.start, reg.end) of one
// stored vertex. A region starting mid-vertex replaces the ordering
// edge the forced split will leave behind; a region starting at the
// vertex boundary replaces each live parent edge of the vertex.
func (b *builder) deleteRegion(reg region) ([]change.NewEdge, error) {
	if reg.start > reg.vertex.Start {
		owner := reg.hash
		b.dep(owner)
		return []change.NewEdge{{
			Previous:     types.Block,
			Flags:        types.Block | types.Deleted,
			From:         change.Position{Change: owner, Offset: reg.start - 1},
			To:           change.Position{Change: owner, Offset: reg.start},
			ToEnd:        reg.end,
			IntroducedBy: owner,
		}}, nil
	}

	rows, err := b.txn.Adjacent(b.ch, reg.vertex)
	if err != nil {
		return nil, err
	}
	var out []change.NewEdge
	for _, r := range rows {
		if !r.Flags.Has(types.Parent) || r.Flags.Has(types.Deleted) || r.Flags.Has(types.Pseudo) {
			continue
		}
		if r.Flags.Has(types.Folder) {
			continue
		}
		from, err := b.hashPos(r.Dest)
		if err != nil {
			return nil, err
		}
		intro, err := b.external(r.IntroducedBy)
		if err != nil {
			return nil, err
		}
		b.dep(intro)
		prev := r.Flags &^ types.Parent
		out = append(out, change.NewEdge{
			Previous:     prev,
			Flags:        prev | types.Deleted,
			From:         from,
			To:           change.Position{Change: reg.hash, Offset: reg.start},
			ToEnd:        reg.end,
			IntroducedBy: intro,
		})
	}
	return out, nil
}

// insert emits the chunk vertices of one inserted run, anchored to the
// nearest surviving lines around the insertion point. Synthetic lines
// and lines this change deletes cannot anchor anything.
func (b *builder) insert(lines []output.Line, deleted []bool, at int, data []byte, filePos change.Position) error {
	up := filePos
	for i := at - 1; i >= 0; i-- {
		if lines[i].Synthetic || deleted[i] || len(lines[i].Pieces) == 0 {
			continue
		}
		p := lines[i].Pieces[len(lines[i].Pieces)-1]
		up = change.Position{Change: p.Change, Offset: p.End - 1}
		break
	}
	b.depPos(up)

	var down *change.Position
	for i := at; i < len(lines); i++ {
		if lines[i].Synthetic || deleted[i] || len(lines[i].Pieces) == 0 {
			continue
		}
		p := lines[i].Pieces[0]
		down = &change.Position{Change: p.Change, Offset: p.Start}
		break
	}
	if down != nil {
		b.depPos(*down)
	}

	pieces, err := chunks(data, b.chunkSize)
	if err != nil {
		return err
	}
	for i, piece := range pieces {
		start := uint64(len(b.contents))
		b.contents = append(b.contents, piece...)
		end := uint64(len(b.contents))
		nv := change.NewVertex{
			UpContext: []change.Position{up},
			Start:     start,
			End:       end,
			Inode:     filePos,
		}
		if i == len(pieces)-1 && down != nil {
			nv.DownContext = []change.Position{*down}
		}
		b.atoms = append(b.atoms, nv)
		up = change.Position{Offset: end - 1}
	}
	return nil
}
