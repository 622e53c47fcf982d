// Package badger provides a BadgerDB-backed statestore backend.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/arc-provenance/internal/statestore/physical"
	"github.com/gezibash/arc-provenance/internal/storage"
)

const (
	KeyPath             = "path"
	KeySyncWrites       = "sync_writes"
	KeyValueLogFileSize = "value_log_file_size"
	KeyMemTableSize     = "mem_table_size"
	KeyInMemory         = "in_memory"
)

func init() {
	physical.Register(physical.Driver{
		Name:      "badger",
		Open:      NewFactory,
		Defaults:  Defaults,
		LocalFile: "state",
	})
}

// Defaults returns the default configuration for the BadgerDB backend.
// Writes are synced: a committed transition must survive a crash.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.provenance/state",
		KeySyncWrites:       "true",
		KeyValueLogFileSize: "256MiB",
		KeyMemTableSize:     "64MiB",
		KeyInMemory:         "false",
	}
}

// NewFactory creates a new BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("badger", config)
	if o.Bool(KeyInMemory, false) {
		if err := o.Err(); err != nil {
			return nil, err
		}
		return newInMemory()
	}

	path := o.Path(KeyPath)
	syncWrites := o.Bool(KeySyncWrites, true)
	valueLogFileSize := o.Bytes(KeyValueLogFileSize, 256<<20)
	memTableSize := o.Bytes(KeyMemTableSize, 64<<20)
	if err := o.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, storage.Failed("badger", KeyPath, "failed to create directory", err)
	}

	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithSyncWrites(syncWrites).
		WithValueLogFileSize(valueLogFileSize).
		WithMemTableSize(memTableSize)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.Failed("badger", KeyPath, "failed to open database", err)
	}

	slog.Info("badger statestore initialized", "path", path, "sync_writes", syncWrites)
	return NewWithDB(db), nil
}

func newInMemory() (*Backend, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.Failed("badger", KeyInMemory, "failed to open in-memory database", err)
	}

	slog.Info("badger statestore initialized (in-memory)")
	return NewWithDB(db), nil
}

// Backend is a BadgerDB implementation of physical.Backend.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewWithDB creates a new backend with an existing BadgerDB instance.
func NewWithDB(db *badger.DB) *Backend {
	return &Backend{db: db}
}

// Get returns the value stored at key.
func (b *Backend) Get(_ context.Context, key []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return value, nil
}

// Scan iterates keys with prefix inside one read transaction.
func (b *Backend) Scan(_ context.Context, prefix []byte, fn physical.ScanFunc) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger scan: %w", err)
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Commit applies ops in a single read-write transaction.
func (b *Backend) Commit(_ context.Context, ops []physical.Op) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			if op.Delete {
				err = txn.Delete(op.Key)
			} else {
				err = txn.Set(op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger commit: %w", err)
	}
	return nil
}

// Stats reports LSM plus value log size and the live key count.
func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var keys int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsm, vlog := b.db.Size()
	return &physical.Stats{
		Keys:        keys,
		SizeBytes:   lsm + vlog,
		BackendType: "badger",
	}, nil
}

// RunGC triggers value log garbage collection.
func (b *Backend) RunGC(discardRatio float64) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	for {
		if err := b.db.RunValueLogGC(discardRatio); err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
				return nil
			}
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// Close closes the database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
