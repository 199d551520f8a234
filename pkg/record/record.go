package record

import (
	"bytes"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/changestore"
	"github.com/und3fined/pijul/pkg/output"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
	"github.com/und3fined/pijul/pkg/workingcopy"
)

// ErrNothingToRecord is returned when the working copy matches the
// channel exactly.
var ErrNothingToRecord = errors.New("record: nothing to record")

// Recorder builds changes from working-copy state.
type Recorder struct {
	Store changestore.Store
	// ChunkSize bounds content vertices; zero means DefaultChunkSize.
	ChunkSize int64
	Logger    *logrus.Logger
}

// Record compares the working copy against the channel and returns the
// change that transforms one into the other. The change is not stored
// and not applied; the caller decides both.
func (r *Recorder) Record(txn *pristine.Txn, ch *pristine.Channel, wc workingcopy.Provider, header change.Header) (*change.Change, error) {
	out := &output.Outputter{Store: r.Store, Logger: r.Logger}

	tracked, err := out.Files(txn, ch)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]output.FileEntry, len(tracked))
	for _, f := range tracked {
		byPath[f.Path] = f
	}

	paths, err := wc.List()
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]struct{}, len(paths))

	b := newBuilder(txn, ch, out, r.ChunkSize)
	for _, p := range paths {
		onDisk[p] = struct{}{}
		data, err := wc.Read(p)
		if err != nil {
			return nil, err
		}
		if entry, ok := byPath[p]; ok {
			err = b.diffFile(entry, data)
		} else {
			err = b.addFile(p, data)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, f := range tracked {
		if _, ok := onDisk[f.Path]; ok {
			continue
		}
		if err := b.deleteFile(f); err != nil {
			return nil, err
		}
	}

	if len(b.atoms) == 0 {
		return nil, ErrNothingToRecord
	}

	deps := make([]types.Hash, 0, len(b.deps))
	for h := range b.deps {
		deps = append(deps, h)
	}
	deps, err = minimizeDeps(txn, deps)
	if err != nil {
		return nil, err
	}
	sort.Slice(deps, func(i, j int) bool {
		return bytes.Compare(deps[i][:], deps[j][:]) < 0
	})

	if r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"atoms": len(b.atoms),
			"deps":  len(deps),
		}).Debug("recorded change")
	}
	return &change.Change{
		Header:       header,
		Dependencies: deps,
		Atoms:        b.atoms,
		Contents:     b.contents,
	}, nil
}

// minimizeDeps drops every dependency another dependency already
// implies transitively, leaving the minimal set whose closure covers
// all referenced changes. The stored dependency rows are the source
// of the closure.
func minimizeDeps(txn *pristine.Txn, deps []types.Hash) ([]types.Hash, error) {
	ids := make(map[types.Hash]types.ChangeID, len(deps))
	for _, h := range deps {
		id, ok, err := txn.Internal(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ids[h] = id
	}

	implied := make(map[types.ChangeID]bool)
	for _, id := range ids {
		stack, err := txn.Deps(id)
		if err != nil {
			return nil, err
		}
		for len(stack) > 0 {
			d := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if implied[d] {
				continue
			}
			implied[d] = true
			more, err := txn.Deps(d)
			if err != nil {
				return nil, err
			}
			stack = append(stack, more...)
		}
	}

	kept := deps[:0]
	for _, h := range deps {
		if id, ok := ids[h]; ok && implied[id] {
			continue
		}
		kept = append(kept, h)
	}
	return kept, nil
}
