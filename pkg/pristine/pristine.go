// Package pristine implements the transactional, versioned store
// holding the repository graph: vertices, edges, channel logs, the
// change-id maps, dependency rows and the working-copy path index.
//
// The store is backed by BadgerDB. Concurrency follows a single-writer
// multiple-reader discipline: any number of read-only transactions may
// run against consistent snapshots while at most one read-write
// transaction is open; the write lock is owned by the Pristine value,
// not by package state, so independent stores never contend.
package pristine

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"

	"github.com/und3fined/pijul/pkg/logging"
)

// DefaultMinimumFreeGB is the free-space floor on-disk callers use
// unless they configure their own.
const DefaultMinimumFreeGB = 1

// Config configures a Pristine instance.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory opens a store with no disk persistence. Used by tests.
	InMemory bool

	// MinimumFreeGB refuses to open an on-disk store when the volume
	// has less free space than this. Zero disables the check.
	MinimumFreeGB uint64

	// SyncWrites forces fsync on commit. Defaults to false, matching
	// the durability/throughput trade the backing store recommends.
	SyncWrites bool

	// Logger receives structured store events. Defaults to a stderr
	// logger when nil.
	Logger *logrus.Logger
}

// Pristine owns the backing store and the per-store write lock.
type Pristine struct {
	db      *badger.DB
	log     *logrus.Logger
	writeMu sync.Mutex
}

// Open opens (creating if needed) the pristine at cfg.Path.
func Open(cfg Config) (*Pristine, error) {
	log := logging.OrDefault(cfg.Logger)

	if !cfg.InMemory && cfg.MinimumFreeGB > 0 {
		if err := checkFreeSpace(cfg.Path, cfg.MinimumFreeGB, log); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	opts.SyncWrites = cfg.SyncWrites
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storageErr("open", err)
	}

	log.WithFields(logrus.Fields{
		"path":     cfg.Path,
		"inMemory": cfg.InMemory,
	}).Debug("pristine opened")

	return &Pristine{db: db, log: log}, nil
}

// checkFreeSpace refuses to open a store on a nearly full volume:
// running out of space mid-compaction is the one corruption mode the
// transaction layer cannot roll back from.
func checkFreeSpace(path string, minGB uint64, log *logrus.Logger) error {
	usage, err := disk.Usage(path)
	if err != nil {
		// A missing directory is created by badger.Open below; only a
		// stat of an existing path can gate on free space.
		log.WithField("path", path).Debugf("free-space check skipped: %v", err)
		return nil
	}
	if usage.Free < minGB*1024*1024*1024 {
		return fmt.Errorf("pristine: %s has %d bytes free, need %d GB", path, usage.Free, minGB)
	}
	return nil
}

// Close syncs and closes the backing store. The Pristine must not be
// used afterwards.
func (p *Pristine) Close() error {
	if err := p.db.Close(); err != nil {
		return storageErr("close", err)
	}
	return nil
}

// Begin opens a transaction. A writable transaction takes the store's
// exclusive write lock until Commit or Rollback; read-only
// transactions see a consistent snapshot and never block each other.
func (p *Pristine) Begin(writable bool) (*Txn, error) {
	if writable {
		p.writeMu.Lock()
	}
	return &Txn{
		p:        p,
		txn:      p.db.NewTransaction(writable),
		writable: writable,
	}, nil
}

// View runs fn inside a read-only transaction.
func (p *Pristine) View(fn func(*Txn) error) error {
	txn, err := p.Begin(false)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	return fn(txn)
}

// Update runs fn inside a writable transaction, committing on success
// and rolling back on any error. Every exit path releases the write
// lock.
func (p *Pristine) Update(fn func(*Txn) error) error {
	txn, err := p.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}
