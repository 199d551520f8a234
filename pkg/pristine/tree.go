package pristine

import (
	"fmt"
	"strings"

	"github.com/und3fined/pijul/pkg/types"
)

// Working-copy path index. Paths map to inodes (random, stable across
// renames) and inodes map to the graph position of the file's root
// vertex. The index is rebuilt incrementally as folder edits apply.

// PutTree records name under parent as inode.
func (t *Txn) PutTree(parent types.Inode, name string, inode types.Inode) error {
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("pristine: file name contains NUL")
	}
	if err := t.set(flatKey(prefixTree, parent[:], []byte(name)), inode[:]); err != nil {
		return err
	}
	val := make([]byte, types.InodeSize+len(name))
	copy(val, parent[:])
	copy(val[types.InodeSize:], name)
	return t.set(flatKey(prefixRtree, inode[:]), val)
}

// DelTree removes the path row for inode.
func (t *Txn) DelTree(inode types.Inode) error {
	parent, name, err := t.TreeParent(inode)
	if err != nil {
		return err
	}
	if err := t.del(flatKey(prefixTree, parent[:], []byte(name))); err != nil {
		return err
	}
	return t.del(flatKey(prefixRtree, inode[:]))
}

// TreeLookup resolves one path component.
func (t *Txn) TreeLookup(parent types.Inode, name string) (types.Inode, error) {
	val, err := t.get(flatKey(prefixTree, parent[:], []byte(name)))
	if err != nil {
		return types.Inode{}, err
	}
	var inode types.Inode
	copy(inode[:], val)
	return inode, nil
}

// TreeParent returns the parent inode and name of inode.
func (t *Txn) TreeParent(inode types.Inode) (types.Inode, string, error) {
	val, err := t.get(flatKey(prefixRtree, inode[:]))
	if err != nil {
		return types.Inode{}, "", err
	}
	if len(val) < types.InodeSize {
		return types.Inode{}, "", storageErr("tree", fmt.Errorf("truncated revtree row"))
	}
	var parent types.Inode
	copy(parent[:], val[:types.InodeSize])
	return parent, string(val[types.InodeSize:]), nil
}

// TreeChildren lists the names under parent, in lexicographic order.
func (t *Txn) TreeChildren(parent types.Inode) (map[string]types.Inode, error) {
	out := make(map[string]types.Inode)
	err := t.iterPrefix(flatKey(prefixTree, parent[:]), func(suffix, val []byte) error {
		var inode types.Inode
		copy(inode[:], val)
		out[string(suffix)] = inode
		return nil
	})
	return out, err
}

// PutInode ties inode to the graph position of its file root.
func (t *Txn) PutInode(inode types.Inode, pos types.Position) error {
	if err := t.set(flatKey(prefixInode, inode[:]), pos.Bytes()); err != nil {
		return err
	}
	return t.set(flatKey(prefixRino, pos.Bytes()), inode[:])
}

// DelInode removes the inode↔position rows.
func (t *Txn) DelInode(inode types.Inode) error {
	pos, err := t.InodePosition(inode)
	if err != nil {
		return err
	}
	if err := t.del(flatKey(prefixInode, inode[:])); err != nil {
		return err
	}
	return t.del(flatKey(prefixRino, pos.Bytes()))
}

// InodePosition returns the graph position of inode's file root.
func (t *Txn) InodePosition(inode types.Inode) (types.Position, error) {
	val, err := t.get(flatKey(prefixInode, inode[:]))
	if err != nil {
		return types.Position{}, err
	}
	return types.PositionFromBytes(val)
}

// PositionInode is the reverse lookup: which inode owns pos.
func (t *Txn) PositionInode(pos types.Position) (types.Inode, error) {
	val, err := t.get(flatKey(prefixRino, pos.Bytes()))
	if err != nil {
		return types.Inode{}, err
	}
	var inode types.Inode
	copy(inode[:], val)
	return inode, nil
}

// ResolvePath walks a slash-separated path from the tree root.
func (t *Txn) ResolvePath(path string) (types.Inode, error) {
	inode := types.RootInode
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		next, err := t.TreeLookup(inode, part)
		if err != nil {
			return types.Inode{}, err
		}
		inode = next
	}
	return inode, nil
}

// InodePath reconstructs the slash-separated path of inode.
func (t *Txn) InodePath(inode types.Inode) (string, error) {
	var parts []string
	for !inode.IsRoot() {
		parent, name, err := t.TreeParent(inode)
		if err != nil {
			return "", err
		}
		parts = append([]string{name}, parts...)
		inode = parent
	}
	return strings.Join(parts, "/"), nil
}
