package pristine

import (
	"encoding/binary"

	"github.com/und3fined/pijul/pkg/types"
)

// Table prefixes. Every row in the store belongs to exactly one of
// these namespaces; channel-scoped tables splice the channel name in
// behind the prefix, terminated by 0x00 (channel names are validated
// to exclude it).
var (
	keySeq      = []byte("seq")
	prefixInt   = []byte("int:")
	prefixExt   = []byte("ext:")
	prefixDep   = []byte("dep:")
	prefixRdep  = []byte("rdp:")
	prefixChan  = []byte("chn:")
	prefixLog   = []byte("log:")
	prefixSet   = []byte("set:")
	prefixBlock = []byte("blk:")
	prefixEdge  = []byte("edg:")
	prefixTree  = []byte("tre:")
	prefixRtree = []byte("rtr:")
	prefixInode = []byte("ino:")
	prefixRino  = []byte("rin:")
)

func chanKey(prefix []byte, channel string, rest ...[]byte) []byte {
	k := make([]byte, 0, len(prefix)+len(channel)+1+16)
	k = append(k, prefix...)
	k = append(k, channel...)
	k = append(k, 0)
	for _, r := range rest {
		k = append(k, r...)
	}
	return k
}

func flatKey(prefix []byte, rest ...[]byte) []byte {
	k := append([]byte{}, prefix...)
	for _, r := range rest {
		k = append(k, r...)
	}
	return k
}

// Internal resolves an external hash to the pristine-internal change
// id, if the change has been registered here.
func (t *Txn) Internal(h types.Hash) (types.ChangeID, bool, error) {
	val, err := t.get(flatKey(prefixInt, h[:]))
	if err == ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := types.ChangeIDFromBytes(val)
	return id, err == nil, err
}

// External resolves an internal id back to the portable hash.
func (t *Txn) External(id types.ChangeID) (types.Hash, error) {
	var h types.Hash
	if id == types.Root {
		return h, nil
	}
	val, err := t.get(flatKey(prefixExt, id.Bytes()))
	if err != nil {
		return h, err
	}
	copy(h[:], val)
	return h, nil
}

// MakeChangeID registers h and allocates its internal id, returning
// the existing id when h is already registered.
func (t *Txn) MakeChangeID(h types.Hash) (types.ChangeID, error) {
	if id, ok, err := t.Internal(h); err != nil || ok {
		return id, err
	}
	next := types.ChangeID(1)
	if val, err := t.get(keySeq); err == nil {
		n, err := types.ChangeIDFromBytes(val)
		if err != nil {
			return 0, err
		}
		next = n
	} else if err != ErrNotFound {
		return 0, err
	}
	if err := t.set(keySeq, (next + 1).Bytes()); err != nil {
		return 0, err
	}
	if err := t.set(flatKey(prefixInt, h[:]), next.Bytes()); err != nil {
		return 0, err
	}
	if err := t.set(flatKey(prefixExt, next.Bytes()), h[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// PutDeps records the dependency rows of id, both directions.
func (t *Txn) PutDeps(id types.ChangeID, deps []types.ChangeID) error {
	for _, dep := range deps {
		if err := t.set(flatKey(prefixDep, id.Bytes(), dep.Bytes()), nil); err != nil {
			return err
		}
		if err := t.set(flatKey(prefixRdep, dep.Bytes(), id.Bytes()), nil); err != nil {
			return err
		}
	}
	return nil
}

// DelDeps removes the dependency rows of id, both directions.
func (t *Txn) DelDeps(id types.ChangeID) error {
	deps, err := t.Deps(id)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		if err := t.del(flatKey(prefixDep, id.Bytes(), dep.Bytes())); err != nil {
			return err
		}
		if err := t.del(flatKey(prefixRdep, dep.Bytes(), id.Bytes())); err != nil {
			return err
		}
	}
	return nil
}

// Deps returns the registered dependencies of id.
func (t *Txn) Deps(id types.ChangeID) ([]types.ChangeID, error) {
	var out []types.ChangeID
	err := t.iterPrefixKeys(flatKey(prefixDep, id.Bytes()), func(suffix []byte) error {
		dep, err := types.ChangeIDFromBytes(suffix)
		if err != nil {
			return err
		}
		out = append(out, dep)
		return nil
	})
	return out, err
}

// RevDeps returns every registered change that depends on id.
func (t *Txn) RevDeps(id types.ChangeID) ([]types.ChangeID, error) {
	var out []types.ChangeID
	err := t.iterPrefixKeys(flatKey(prefixRdep, id.Bytes()), func(suffix []byte) error {
		dep, err := types.ChangeIDFromBytes(suffix)
		if err != nil {
			return err
		}
		out = append(out, dep)
		return nil
	})
	return out, err
}

func u64Bytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}
