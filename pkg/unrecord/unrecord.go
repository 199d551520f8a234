// Package unrecord removes recorded changes from a channel again. It
// is the porcelain over unapply: it resolves the dependent changes
// that must go first and can forget a change from the store once no
// channel holds it.
package unrecord

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/und3fined/pijul/pkg/apply"
	"github.com/und3fined/pijul/pkg/changestore"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
)

type Unrecorder struct {
	Store  changestore.Store
	Logger *logrus.Logger
}

// Unrecord removes h from the channel. Without cascade, changes
// depending on h block the removal with a DependentsError. With
// cascade, those changes are unapplied first, newest first, and every
// removed hash is returned in removal order.
func (u *Unrecorder) Unrecord(txn *pristine.Txn, ch *pristine.Channel, h types.Hash, cascade bool) ([]types.Hash, error) {
	ap := &apply.Applier{Store: u.Store, Logger: u.Logger}
	if !cascade {
		if err := ap.Unapply(txn, ch, h, false); err != nil {
			return nil, err
		}
		return []types.Hash{h}, nil
	}

	order, err := u.removalOrder(txn, ch, h)
	if err != nil {
		return nil, err
	}
	for _, rh := range order {
		if err := ap.Unapply(txn, ch, rh, false); err != nil {
			return nil, err
		}
	}
	if u.Logger != nil {
		u.Logger.WithFields(logrus.Fields{
			"channel": ch.Name,
			"removed": len(order),
		}).Debug("unrecorded changes")
	}
	return order, nil
}

// removalOrder collects h and its transitive dependents on the
// channel, ordered so every change precedes its dependencies.
func (u *Unrecorder) removalOrder(txn *pristine.Txn, ch *pristine.Channel, h types.Hash) ([]types.Hash, error) {
	id, ok, err := txn.Internal(h)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apply.ErrNotOnChannel
	}

	seen := map[types.ChangeID]struct{}{id: {}}
	queue := []types.ChangeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		revs, err := txn.RevDeps(cur)
		if err != nil {
			return nil, err
		}
		for _, r := range revs {
			on, err := txn.OnChannel(ch, r)
			if err != nil {
				return nil, err
			}
			if !on {
				continue
			}
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			queue = append(queue, r)
		}
	}

	// log position orders the removals: later entries depend only on
	// earlier ones, so walking the log backwards is a safe order
	entries, err := txn.Log(ch)
	if err != nil {
		return nil, err
	}
	posOf := make(map[types.ChangeID]int, len(entries))
	for i, e := range entries {
		posOf[e.Change] = i
	}
	order := make([]types.ChangeID, 0, len(seen))
	for cid := range seen {
		order = append(order, cid)
	}
	sort.Slice(order, func(i, j int) bool {
		return posOf[order[i]] > posOf[order[j]]
	})

	out := make([]types.Hash, len(order))
	for i, cid := range order {
		eh, err := txn.External(cid)
		if err != nil {
			return nil, err
		}
		out[i] = eh
	}
	return out, nil
}

// Forget drops h from the change store. Refused while any channel of
// the pristine still holds it.
func (u *Unrecorder) Forget(txn *pristine.Txn, h types.Hash) error {
	id, ok, err := txn.Internal(h)
	if err != nil {
		return err
	}
	if ok {
		names, err := txn.Channels()
		if err != nil {
			return err
		}
		for _, name := range names {
			ch, err := txn.OpenChannel(name)
			if err != nil {
				return err
			}
			on, err := txn.OnChannel(ch, id)
			if err != nil {
				return err
			}
			if on {
				return &apply.DependentsError{Blocking: []types.Hash{h}}
			}
		}
	}
	return u.Store.Del(h)
}
