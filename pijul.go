// Package pijul is a patch-based version control core: changes are
// commutative graph transformations, channels are sets of applied
// changes and conflicts are first-class data instead of merge
// failures.
package pijul

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/und3fined/pijul/internal/config"
	"github.com/und3fined/pijul/pkg/apply"
	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/changestore"
	"github.com/und3fined/pijul/pkg/logging"
	"github.com/und3fined/pijul/pkg/output"
	"github.com/und3fined/pijul/pkg/pristine"
	"github.com/und3fined/pijul/pkg/record"
	"github.com/und3fined/pijul/pkg/types"
	"github.com/und3fined/pijul/pkg/unrecord"
	"github.com/und3fined/pijul/pkg/workingcopy"
)

// ErrNothingToRecord re-exports the record engine's sentinel so facade
// callers do not import the engine package for one errors.Is check.
var ErrNothingToRecord = record.ErrNothingToRecord

// repoDir is the metadata directory inside a repository root.
const repoDir = ".pijul"

// Config configures a repository handle.
type Config struct {
	// Path is the working-copy root. Ignored when InMemory is set.
	Path string
	// InMemory keeps pristine, change store and working copy in
	// process memory. Tests and embedders use this.
	InMemory bool
	// Logger is optional; a stderr logger is used when nil.
	Logger *logrus.Logger
}

// Repository bundles the pristine, the change store and the working
// copy behind the operations a frontend needs.
type Repository struct {
	log *logrus.Logger
	cfg config.Config

	pristine *pristine.Pristine
	store    changestore.Store
	wc       workingcopy.Provider

	ap  *apply.Applier
	rec *record.Recorder
	out *output.Outputter
	un  *unrecord.Unrecorder

	closeOnce sync.Once
}

// New opens (or initializes) the repository described by conf.
func New(conf Config) (*Repository, error) {
	log := logging.OrDefault(conf.Logger)

	r := &Repository{log: log}
	if conf.InMemory {
		p, err := pristine.Open(pristine.Config{InMemory: true, Logger: log})
		if err != nil {
			return nil, err
		}
		r.pristine = p
		r.store = changestore.NewMemory()
		r.wc = workingcopy.NewMemory()
		r.cfg = config.Default()
	} else {
		if conf.Path == "" {
			return nil, errors.New("pijul: no repository path")
		}
		meta := filepath.Join(conf.Path, repoDir)
		if err := os.MkdirAll(meta, 0o755); err != nil {
			return nil, err
		}
		cfg, err := config.Load(filepath.Join(meta, "config.yaml"))
		if err != nil {
			return nil, err
		}
		p, err := pristine.Open(pristine.Config{
			Path:          filepath.Join(meta, "pristine"),
			MinimumFreeGB: pristine.DefaultMinimumFreeGB,
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		store, err := changestore.NewFileStore(filepath.Join(meta, "changes"))
		if err != nil {
			p.Close()
			return nil, err
		}
		r.pristine = p
		r.store = store
		r.wc = workingcopy.NewDir(conf.Path)
		r.cfg = cfg
	}

	r.ap = &apply.Applier{Store: r.store, Logger: log}
	r.rec = &record.Recorder{Store: r.store, Logger: log}
	r.out = &output.Outputter{Store: r.store, Logger: log}
	r.un = &unrecord.Unrecorder{Store: r.store, Logger: log}
	return r, nil
}

// Close releases the pristine. Safe to call more than once.
func (r *Repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.pristine.Close()
	})
	return err
}

// WorkingCopy exposes the file provider, mainly for tests and
// embedders that fill the tree programmatically.
func (r *Repository) WorkingCopy() workingcopy.Provider {
	return r.wc
}

// DefaultChannel returns the configured channel name.
func (r *Repository) DefaultChannel() string {
	return r.cfg.DefaultChannel
}

// Init creates the named channel. Initializing an existing channel is
// an error.
func (r *Repository) Init(channel string) error {
	return r.pristine.Update(func(txn *pristine.Txn) error {
		_, err := txn.CreateChannel(channel)
		return err
	})
}

// Record diffs the working copy against the channel, stores the
// resulting change and applies it to the channel.
func (r *Repository) Record(channel, message string) (types.Hash, error) {
	header := change.Header{
		Message: message,
		Author: change.Author{
			Name:     r.cfg.AuthorName,
			FullName: r.cfg.AuthorFullName,
			Email:    r.cfg.AuthorEmail,
		},
		Timestamp: time.Now().UTC(),
	}
	var h types.Hash
	err := r.pristine.Update(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			return err
		}
		c, err := r.rec.Record(txn, ch, r.wc, header)
		if err != nil {
			return err
		}
		h, err = r.store.Put(c)
		if err != nil {
			return err
		}
		_, _, _, err = r.ap.Apply(txn, ch, h)
		return err
	})
	if err != nil {
		return types.Hash{}, err
	}
	r.log.WithFields(logrus.Fields{
		"channel": channel,
		"change":  h.String(),
	}).Info("recorded change")
	return h, nil
}

// Apply applies a stored change to the channel and reports the
// structural conflicts it introduced.
func (r *Repository) Apply(channel string, h types.Hash) (apply.ConflictSet, error) {
	var conflicts apply.ConflictSet
	err := r.pristine.Update(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			return err
		}
		_, _, conflicts, err = r.ap.Apply(txn, ch, h)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

// Unrecord removes a change from the channel. With cascade, its
// dependents on the channel go first.
func (r *Repository) Unrecord(channel string, h types.Hash, cascade bool) ([]types.Hash, error) {
	var removed []types.Hash
	err := r.pristine.Update(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			return err
		}
		removed, err = r.un.Unrecord(txn, ch, h, cascade)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Output writes the channel's current state into the working copy.
// Conflicted files come out with conflict markers.
func (r *Repository) Output(channel string) error {
	return r.out.OutputRepository(r.pristine, channel, r.wc)
}

// FileText retrieves one file of the channel as marked-up bytes
// without touching the working copy.
func (r *Repository) FileText(channel, path string) ([]byte, error) {
	var text []byte
	err := r.pristine.View(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			return err
		}
		segs, err := r.out.RetrievePath(txn, ch, path)
		if err != nil {
			return err
		}
		text = output.FileText(segs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return text, nil
}

// Fork copies a channel under a new name. Changes applied to either
// afterwards do not affect the other.
func (r *Repository) Fork(from, to string) error {
	return r.pristine.Update(func(txn *pristine.Txn) error {
		_, err := txn.ForkChannel(from, to)
		return err
	})
}

// Channels lists all channel names.
func (r *Repository) Channels() ([]string, error) {
	var names []string
	err := r.pristine.View(func(txn *pristine.Txn) error {
		var err error
		names, err = txn.Channels()
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Log returns the channel's applied changes in application order.
func (r *Repository) Log(channel string) ([]pristine.LogEntry, error) {
	var entries []pristine.LogEntry
	err := r.pristine.View(func(txn *pristine.Txn) error {
		ch, err := txn.OpenChannel(channel)
		if err != nil {
			return err
		}
		entries, err = txn.Log(ch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
