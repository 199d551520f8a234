package output

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
	"github.com/und3fined/pijul/pkg/workingcopy"
)

// FileEntry names one working-copy file and its graph root.
type FileEntry struct {
	Path string
	Pos  types.Position
}

// Files walks the path index and returns the inodes whose vertices
// anchor content rather than further folder structure, sorted by
// path.
func (o *Outputter) Files(txn *pristine.Txn, ch *pristine.Channel) ([]FileEntry, error) {
	var out []FileEntry
	var walk func(parent types.Inode, prefix string) error
	walk = func(parent types.Inode, prefix string) error {
		children, err := txn.TreeChildren(parent)
		if err != nil {
			return err
		}
		for name, inode := range children {
			path := name
			if prefix != "" {
				path = prefix + "/" + name
			}
			pos, err := txn.InodePosition(inode)
			if err != nil {
				return err
			}
			dir, err := o.isDirectory(txn, ch, pos)
			if err != nil {
				return err
			}
			if dir {
				if err := walk(inode, path); err != nil {
					return err
				}
				continue
			}
			out = append(out, FileEntry{Path: path, Pos: pos})
		}
		return nil
	}
	if err := walk(types.RootInode, ""); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// isDirectory reports whether the inode vertex at pos has live folder
// children.
func (o *Outputter) isDirectory(txn *pristine.Txn, ch *pristine.Channel, pos types.Position) (bool, error) {
	v, err := txn.FindBlock(ch, pos)
	if err != nil {
		return false, err
	}
	rows, err := txn.Adjacent(ch, v)
	if err != nil {
		return false, err
	}
	for _, e := range rows {
		if e.Flags.Has(types.Parent) || e.Flags.Has(types.Deleted) {
			continue
		}
		if e.Flags.Has(types.Folder) {
			return true, nil
		}
	}
	return false, nil
}

// OutputRepository retrieves every file of the channel into the
// working copy, one goroutine per file over concurrent read
// transactions.
func (o *Outputter) OutputRepository(p *pristine.Pristine, channel string, wc workingcopy.Provider) error {
	var files []FileEntry
	err := p.View(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			return err
		}
		files, err = o.Files(txn, ch)
		return err
	})
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, f := range files {
		f := f
		g.Go(func() error {
			return p.View(func(txn *pristine.Txn) error {
				ch, err := txn.OpenChannel(channel)
				if err != nil {
					return err
				}
				segs, err := o.Retrieve(txn, ch, f.Pos)
				if err != nil {
					return err
				}
				if o.Logger != nil && HasConflicts(segs) {
					o.Logger.WithField("path", f.Path).Warn("file has conflicts")
				}
				return wc.Write(f.Path, FileText(segs))
			})
		})
	}
	return g.Wait()
}
