// Package apply mutates the pristine graph to reflect a change's
// edits, or reverses them. Application is transactional: the caller
// owns the pristine transaction and nothing is visible until commit.
//
// Concurrent edits never fail to apply. Anything the theory cannot
// order becomes a recorded structural conflict in the graph itself,
// returned as data.
package apply

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/changestore"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/types"
)

var (
	// ErrAlreadyApplied is returned when the change is already on the
	// channel.
	ErrAlreadyApplied = errors.New("apply: change already on channel")

	// ErrNotOnChannel is returned by Unapply for changes the channel
	// never applied.
	ErrNotOnChannel = errors.New("apply: change not on channel")

	// ErrUnknownReference is returned when an atom names a change
	// outside the applying change's dependency and extra-known sets.
	ErrUnknownReference = errors.New("apply: reference to undeclared change")
)

// DependencyError reports an apply attempted before its prerequisites.
// Recoverable: the caller applies the missing change first.
type DependencyError struct {
	Missing types.Hash
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("apply: missing dependency %s", e.Missing)
}

// DependentsError blocks unapply while applied changes still depend on
// the target. Recoverable: the caller unapplies the dependents first.
type DependentsError struct {
	Blocking []types.Hash
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("apply: %d applied changes depend on this one", len(e.Blocking))
}

// ConflictKind classifies a structural conflict.
type ConflictKind int

const (
	// ConflictOrder marks a position with several mutually exclusive
	// alive successors.
	ConflictOrder ConflictKind = iota
	// ConflictZombie marks content deleted by one change while still
	// anchoring another change's edits.
	ConflictZombie
	// ConflictCycle marks a non-trivial strongly connected component
	// in the order relation.
	ConflictCycle
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictOrder:
		return "order"
	case ConflictZombie:
		return "zombie"
	case ConflictCycle:
		return "cycle"
	}
	return "unknown"
}

// Conflict is one recorded structural conflict. Conflicts are
// repository states, not errors.
type Conflict struct {
	Kind   ConflictKind
	Inode  types.Position
	Vertex types.Vertex
}

// ConflictSet collects the conflicts discovered by one application.
type ConflictSet []Conflict

// Applier carries the collaborators one application needs. A zero
// Logger falls back to logrus defaults.
type Applier struct {
	Store  changestore.Store
	Logger *logrus.Logger
}

type applyCtx struct {
	txn    *pristine.Txn
	ch     *pristine.Channel
	id     types.ChangeID
	change *change.Change
	// inodes touched by this change's atoms, by resolved root
	// position. Repair runs once per touched file.
	inodes    map[types.Position]struct{}
	conflicts ConflictSet
	// external hash per internal id, memoized for repair ordering
	ext map[types.ChangeID]types.Hash
}

// Apply replays the change identified by h onto the channel. Returns
// the log position, the new channel state and the conflicts the
// application surfaced.
func (a *Applier) Apply(txn *pristine.Txn, ch *pristine.Channel, h types.Hash) (uint64, types.Merkle, ConflictSet, error) {
	c, err := a.Store.Get(h)
	if err != nil {
		return 0, types.Merkle{}, nil, err
	}

	// Dependency gate: every declared dependency must already be on
	// this channel. The caller is responsible for ordering.
	for _, dep := range c.Dependencies {
		if dep.IsNone() || dep.IsRootChange() {
			continue
		}
		id, ok, err := txn.Internal(dep)
		if err != nil {
			return 0, types.Merkle{}, nil, err
		}
		if ok {
			on, err := txn.OnChannel(ch, id)
			if err != nil {
				return 0, types.Merkle{}, nil, err
			}
			if on {
				continue
			}
		}
		return 0, types.Merkle{}, nil, &DependencyError{Missing: dep}
	}

	if id, ok, err := txn.Internal(h); err != nil {
		return 0, types.Merkle{}, nil, err
	} else if ok {
		on, err := txn.OnChannel(ch, id)
		if err != nil {
			return 0, types.Merkle{}, nil, err
		}
		if on {
			return 0, types.Merkle{}, nil, ErrAlreadyApplied
		}
	}

	id, err := txn.MakeChangeID(h)
	if err != nil {
		return 0, types.Merkle{}, nil, err
	}
	if err := a.registerDeps(txn, id, c); err != nil {
		return 0, types.Merkle{}, nil, err
	}

	ctx := &applyCtx{
		txn:    txn,
		ch:     ch,
		id:     id,
		change: c,
		inodes: make(map[types.Position]struct{}),
		ext:    make(map[types.ChangeID]types.Hash),
	}

	// First pass: introduce vertices and non-deleting edges, so every
	// context a deletion might need exists before pass two runs.
	for _, atom := range c.Atoms {
		switch at := atom.(type) {
		case change.NewVertex:
			if err := ctx.putNewVertex(at); err != nil {
				return 0, types.Merkle{}, nil, err
			}
		case change.EdgeMap:
			for _, e := range at.Edges {
				if e.Flags.Has(types.Deleted) {
					continue
				}
				if err := ctx.putNewEdge(at, e); err != nil {
					return 0, types.Merkle{}, nil, err
				}
			}
		}
	}

	// Second pass: deletions.
	for _, atom := range c.Atoms {
		if at, ok := atom.(change.EdgeMap); ok {
			for _, e := range at.Edges {
				if !e.Flags.Has(types.Deleted) {
					continue
				}
				if err := ctx.putNewEdge(at, e); err != nil {
					return 0, types.Merkle{}, nil, err
				}
			}
		}
	}

	for root := range ctx.inodes {
		if err := ctx.repairZombies(root); err != nil {
			return 0, types.Merkle{}, nil, err
		}
		if err := ctx.detectOrderConflicts(root); err != nil {
			return 0, types.Merkle{}, nil, err
		}
	}

	if err := ctx.updateTree(); err != nil {
		return 0, types.Merkle{}, nil, err
	}

	n, m, err := txn.AppendLog(ch, id, h)
	if err != nil {
		return 0, types.Merkle{}, nil, err
	}

	if a.Logger != nil {
		a.Logger.WithFields(logrus.Fields{
			"change":    h.String(),
			"channel":   ch.Name,
			"position":  n,
			"conflicts": len(ctx.conflicts),
		}).Debug("change applied")
	}
	return n, m, ctx.conflicts, nil
}

func (a *Applier) registerDeps(txn *pristine.Txn, id types.ChangeID, c *change.Change) error {
	var deps []types.ChangeID
	for _, dep := range c.Dependencies {
		if dep.IsNone() || dep.IsRootChange() {
			continue
		}
		depID, ok, err := txn.Internal(dep)
		if err != nil {
			return err
		}
		if !ok {
			// The dependency gate already passed, so this only
			// happens on a logic error upstream.
			return &DependencyError{Missing: dep}
		}
		deps = append(deps, depID)
	}
	return txn.PutDeps(id, deps)
}

// resolve maps a hash-space position into this pristine's internal
// position space. The zero hash refers to the change being applied,
// the root change hash to the virtual root.
// resolve maps a hash-space position into the internal id space. A
// position naming a change the applying change neither depends on nor
// extra-knows could not have been visible when the change was
// recorded, so it is rejected before any graph lookup.
func (c *applyCtx) resolve(p change.Position) (types.Position, error) {
	if !c.change.Knows(p.Change) {
		return types.Position{}, fmt.Errorf("%w: %s", ErrUnknownReference, p.Change)
	}
	return resolveIn(c.txn, c.id, p)
}

func (c *applyCtx) touchInode(p change.Position) error {
	pos, err := c.resolve(p)
	if err != nil {
		return err
	}
	c.inodes[pos] = struct{}{}
	return nil
}

func (c *applyCtx) addConflict(kind ConflictKind, inode change.Position, v types.Vertex) {
	pos, err := c.resolve(inode)
	if err != nil {
		pos = types.RootPosition
	}
	c.conflicts = append(c.conflicts, Conflict{Kind: kind, Inode: pos, Vertex: v})
}
