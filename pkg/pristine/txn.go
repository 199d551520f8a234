package pristine

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"
)

// Txn is a pristine transaction. Writable transactions hold the
// store's exclusive write lock; all mutation helpers in this package
// hang off Txn so that nothing can bypass the lock.
type Txn struct {
	p        *Pristine
	txn      *badger.Txn
	writable bool
	done     bool
}

// Writable reports whether the transaction may mutate the store.
func (t *Txn) Writable() bool {
	return t.writable
}

// Commit makes the transaction's writes durable and releases the
// write lock. Committing a read-only transaction is a no-op release.
func (t *Txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.txn.Commit()
	if t.writable {
		t.p.writeMu.Unlock()
	}
	if err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// Rollback discards all writes. Safe to call after Commit, so callers
// can unconditionally defer it.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
	if t.writable {
		t.p.writeMu.Unlock()
	}
}

// get returns the value for key, or ErrNotFound.
func (t *Txn) get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, storageErr("get", err)
	}
	return val, nil
}

func (t *Txn) has(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, storageErr("get", err)
	}
	return true, nil
}

func (t *Txn) set(key, val []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.txn.Set(key, val); err != nil {
		return storageErr("set", err)
	}
	return nil
}

func (t *Txn) del(key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.txn.Delete(key); err != nil {
		return storageErr("del", err)
	}
	return nil
}

// iterPrefix calls fn for every key with the given prefix, in key
// order, passing the key without the prefix and the value. fn may
// return errStopIteration to end the scan early.
func (t *Txn) iterPrefix(prefix []byte, fn func(suffix, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return storageErr("iter", err)
		}
		if err := fn(key[len(prefix):], val); err != nil {
			if err == errStopIteration {
				return nil
			}
			return err
		}
	}
	return nil
}

// iterPrefixKeys is iterPrefix without value loads, for tables whose
// rows are key-only.
func (t *Txn) iterPrefixKeys(prefix []byte, fn func(suffix []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		if err := fn(key[len(prefix):]); err != nil {
			if err == errStopIteration {
				return nil
			}
			return err
		}
	}
	return nil
}

// seekBefore returns the last key-only row with the given prefix whose
// full key is <= the prefix joined with upTo, or nil when none exists.
func (t *Txn) seekBefore(prefix, upTo []byte) ([]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	opts.Reverse = true
	it := t.txn.NewIterator(opts)
	defer it.Close()

	seek := make([]byte, 0, len(prefix)+len(upTo))
	seek = append(seek, prefix...)
	seek = append(seek, upTo...)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return nil, nil
	}
	key := it.Item().KeyCopy(nil)
	if !bytes.HasPrefix(key, prefix) {
		return nil, nil
	}
	return key[len(prefix):], nil
}

var errStopIteration = stopIteration{}

type stopIteration struct{}

func (stopIteration) Error() string { return "stop iteration" }
