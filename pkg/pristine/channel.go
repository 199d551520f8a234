package pristine

import (
	"encoding/binary"
	"fmt"
	"strings"

	"lukechampine.com/blake3"

	"github.com/und3fined/pijul/pkg/types"
)

// Channel is a named frontier of applied changes. The value is a
// handle; all state lives in the store.
type Channel struct {
	Name string
}

func validChannelName(name string) error {
	if name == "" {
		return fmt.Errorf("pristine: empty channel name")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("pristine: channel name contains NUL")
	}
	return nil
}

// CreateChannel creates an empty channel.
func (t *Txn) CreateChannel(name string) (*Channel, error) {
	if err := validChannelName(name); err != nil {
		return nil, err
	}
	ok, err := t.has(chanKey(prefixChan, name))
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, ErrChannelExists
	}
	if err := t.set(chanKey(prefixChan, name), nil); err != nil {
		return nil, err
	}
	return &Channel{Name: name}, nil
}

// OpenChannel returns a handle to an existing channel.
func (t *Txn) OpenChannel(name string) (*Channel, error) {
	if err := validChannelName(name); err != nil {
		return nil, err
	}
	ok, err := t.has(chanKey(prefixChan, name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChannelNotFound
	}
	return &Channel{Name: name}, nil
}

// Channels lists all channel names in lexicographic order.
func (t *Txn) Channels() ([]string, error) {
	var names []string
	err := t.iterPrefixKeys(prefixChan, func(suffix []byte) error {
		// Strip the NUL terminator.
		names = append(names, string(suffix[:len(suffix)-1]))
		return nil
	})
	return names, err
}

// ForkChannel copies from's applied state (log, change set, graph,
// blocks) into a new channel named to. Change files are shared; only
// frontier state is duplicated.
func (t *Txn) ForkChannel(from, to string) (*Channel, error) {
	src, err := t.OpenChannel(from)
	if err != nil {
		return nil, err
	}
	dst, err := t.CreateChannel(to)
	if err != nil {
		return nil, err
	}
	for _, prefix := range [][]byte{prefixLog, prefixSet, prefixBlock, prefixEdge} {
		err := t.iterPrefix(chanKey(prefix, src.Name), func(suffix, val []byte) error {
			return t.set(chanKey(prefix, dst.Name, suffix), val)
		})
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// LogEntry is one applied change on a channel.
type LogEntry struct {
	N      uint64
	Change types.ChangeID
	State  types.Merkle
}

func logEntryValue(id types.ChangeID, m types.Merkle) []byte {
	val := make([]byte, 8+types.HashSize)
	copy(val[:8], id.Bytes())
	copy(val[8:], m[:])
	return val
}

// nextMerkle chains the channel state hash over the applied hash.
func nextMerkle(prev types.Merkle, h types.Hash) types.Merkle {
	buf := make([]byte, 0, 2*types.HashSize)
	buf = append(buf, prev[:]...)
	buf = append(buf, h[:]...)
	return types.Merkle(blake3.Sum256(buf))
}

// AppendLog records id (external hash h) as the next applied change on
// the channel, returning its position and the new state hash.
func (t *Txn) AppendLog(ch *Channel, id types.ChangeID, h types.Hash) (uint64, types.Merkle, error) {
	n, state, err := t.State(ch)
	if err != nil {
		return 0, types.Merkle{}, err
	}
	m := nextMerkle(state, h)
	if err := t.set(chanKey(prefixLog, ch.Name, u64Bytes(n)), logEntryValue(id, m)); err != nil {
		return 0, types.Merkle{}, err
	}
	val := make([]byte, 8+types.HashSize)
	copy(val[:8], u64Bytes(n))
	copy(val[8:], m[:])
	if err := t.set(chanKey(prefixSet, ch.Name, id.Bytes()), val); err != nil {
		return 0, types.Merkle{}, err
	}
	return n, m, nil
}

// OnChannel reports whether id is applied on the channel.
func (t *Txn) OnChannel(ch *Channel, id types.ChangeID) (bool, error) {
	return t.has(chanKey(prefixSet, ch.Name, id.Bytes()))
}

// RemoveFromLog deletes id from the channel's applied set and rechains
// the state hashes of every later entry.
func (t *Txn) RemoveFromLog(ch *Channel, id types.ChangeID) error {
	entries, err := t.Log(ch)
	if err != nil {
		return err
	}
	at := -1
	for i, e := range entries {
		if e.Change == id {
			at = i
			break
		}
	}
	if at < 0 {
		return ErrNotFound
	}
	// Drop every row from `at` on, then replay the survivors.
	for _, e := range entries[at:] {
		if err := t.del(chanKey(prefixLog, ch.Name, u64Bytes(e.N))); err != nil {
			return err
		}
		if err := t.del(chanKey(prefixSet, ch.Name, e.Change.Bytes())); err != nil {
			return err
		}
	}
	for _, e := range entries[at+1:] {
		h, err := t.External(e.Change)
		if err != nil {
			return err
		}
		if _, _, err := t.AppendLog(ch, e.Change, h); err != nil {
			return err
		}
	}
	return nil
}

// Log returns the channel's applied changes in application order.
func (t *Txn) Log(ch *Channel) ([]LogEntry, error) {
	var out []LogEntry
	err := t.iterPrefix(chanKey(prefixLog, ch.Name), func(suffix, val []byte) error {
		if len(suffix) < 8 || len(val) < 8+types.HashSize {
			return storageErr("log", fmt.Errorf("truncated log row"))
		}
		id, err := types.ChangeIDFromBytes(val[:8])
		if err != nil {
			return err
		}
		var m types.Merkle
		copy(m[:], val[8:])
		out = append(out, LogEntry{
			N:      binary.BigEndian.Uint64(suffix[:8]),
			Change: id,
			State:  m,
		})
		return nil
	})
	return out, err
}

// State returns the number of applied changes and the channel's
// current state hash.
func (t *Txn) State(ch *Channel) (uint64, types.Merkle, error) {
	entries, err := t.Log(ch)
	if err != nil {
		return 0, types.Merkle{}, err
	}
	if len(entries) == 0 {
		return 0, types.Merkle{}, nil
	}
	last := entries[len(entries)-1]
	return last.N + 1, last.State, nil
}
