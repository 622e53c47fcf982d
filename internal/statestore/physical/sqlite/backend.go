// Package sqlite provides a SQLite-backed statestore backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/gezibash/arc-provenance/internal/statestore/physical"
	"github.com/gezibash/arc-provenance/internal/storage"
)

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"
	KeySynchronous = "synchronous"
)

func init() {
	physical.Register(physical.Driver{
		Name:      "sqlite",
		Open:      NewFactory,
		Defaults:  Defaults,
		LocalFile: "state.db",
	})
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:        "~/.provenance/state.db",
		KeyJournalMode: "wal",
		KeyBusyTimeout: "5000",
		KeySynchronous: "full",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key   BLOB PRIMARY KEY,
    value BLOB NOT NULL
) WITHOUT ROWID;
`

var (
	journalModes = map[string]bool{"delete": true, "truncate": true, "persist": true, "memory": true, "wal": true, "off": true}
	syncModes    = map[string]bool{"off": true, "normal": true, "full": true, "extra": true}
)

// NewFactory creates a new SQLite backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("sqlite", config)
	path := o.Path(KeyPath)
	journalMode := strings.ToLower(o.String(KeyJournalMode, "wal"))
	if !journalModes[journalMode] {
		o.Invalid(KeyJournalMode, "must be one of delete, truncate, persist, memory, wal, off")
	}
	busyTimeout := o.Int(KeyBusyTimeout, 5000, 0)
	synchronous := strings.ToLower(o.String(KeySynchronous, "full"))
	if !syncModes[synchronous] {
		o.Invalid(KeySynchronous, "must be one of off, normal, full, extra")
	}
	if err := o.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storage.Failed("sqlite", KeyPath, "failed to create directory", err)
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout))
	q.Add("_pragma", fmt.Sprintf("journal_mode(%s)", journalMode))
	q.Add("_pragma", fmt.Sprintf("synchronous(%s)", synchronous))
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.Failed("sqlite", KeyPath, "failed to open database", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storage.Failed("sqlite", KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite statestore initialized", "path", path, "journal_mode", journalMode)
	return &Backend{db: db}, nil
}

// Backend is a SQLite implementation of physical.Backend.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

// Get returns the value stored at key.
func (b *Backend) Get(ctx context.Context, key []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Scan reads the matching rows before invoking fn, since the single
// connection is held while rows are open.
func (b *Backend) Scan(ctx context.Context, prefix []byte, fn physical.ScanFunc) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	var (
		rows *sql.Rows
		err  error
	)
	if end := physical.PrefixEnd(prefix); end != nil {
		rows, err = b.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`, prefix, end)
	} else {
		rows, err = b.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key >= ? ORDER BY key`, nonNil(prefix))
	}
	if err != nil {
		return fmt.Errorf("sqlite scan: %w", err)
	}

	type kv struct{ k, v []byte }
	var batch []kv
	for rows.Next() {
		var e kv
		if err := rows.Scan(&e.k, &e.v); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite scan: %w", err)
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("sqlite scan: %w", err)
	}
	rows.Close()

	for _, e := range batch {
		if err := fn(e.k, e.v); err != nil {
			return err
		}
	}
	return nil
}

// Commit applies ops in one transaction.
func (b *Backend) Commit(ctx context.Context, ops []physical.Op) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite commit: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, op := range ops {
		if op.Delete {
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, op.Key)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				op.Key, nonNil(op.Value))
		}
		if err != nil {
			return fmt.Errorf("sqlite commit: %w", err)
		}
	}
	return tx.Commit()
}

// Stats reports key count and payload size.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	var keys, size int64
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv`).Scan(&keys, &size)
	if err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
	}
	return &physical.Stats{Keys: keys, SizeBytes: size, BackendType: "sqlite"}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
