// Package postgres provides a PostgreSQL-backed statestore backend using a
// single key/value table with BYTEA keys, which sort bytewise.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gezibash/arc-provenance/internal/statestore/physical"
	"github.com/gezibash/arc-provenance/internal/storage"
)

const (
	KeyDSN      = "dsn"
	KeyMaxConns = "max_conns"
	KeyTable    = "table"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func init() {
	physical.Register(physical.Driver{
		Name:     "postgres",
		Open:     NewFactory,
		Defaults: Defaults,
	})
}

// Defaults returns the default configuration for the PostgreSQL backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyDSN:      "",
		KeyMaxConns: "8",
		KeyTable:    "provenance_kv",
	}
}

// NewFactory creates a new PostgreSQL backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("postgres", config)
	dsn := o.Require(KeyDSN)
	table := o.String(KeyTable, "provenance_kv")
	if !tableName.MatchString(table) {
		o.Invalid(KeyTable, "must be a lowercase SQL identifier")
	}
	maxConns := o.Int(KeyMaxConns, 8, 1)
	if err := o.Err(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, storage.Failed("postgres", KeyDSN, "invalid connection string", err)
	}
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, storage.Failed("postgres", KeyDSN, "failed to create pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storage.Failed("postgres", KeyDSN, "failed to connect", err)
	}

	b, err := NewWithPool(ctx, pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("postgres statestore initialized", "table", table, "max_conns", maxConns)
	return b, nil
}

// Backend is a PostgreSQL implementation of physical.Backend.
type Backend struct {
	pool   *pgxpool.Pool
	table  string
	closed atomic.Bool
}

// NewWithPool creates the table if needed and returns a backend bound to it.
// The caller must pass a validated table name.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool, table string) (*Backend, error) {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key BYTEA PRIMARY KEY, value BYTEA NOT NULL)`, table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return &Backend{pool: pool, table: table}, nil
}

// Get returns the value stored at key.
func (b *Backend) Get(ctx context.Context, key []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	var v []byte
	err := b.pool.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, b.table), key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	return v, nil
}

// Scan reads all matching rows before invoking fn so callbacks never hold
// a pooled connection.
func (b *Backend) Scan(ctx context.Context, prefix []byte, fn physical.ScanFunc) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	var (
		rows pgx.Rows
		err  error
	)
	if end := physical.PrefixEnd(prefix); end != nil {
		rows, err = b.pool.Query(ctx,
			fmt.Sprintf(`SELECT key, value FROM %s WHERE key >= $1 AND key < $2 ORDER BY key`, b.table),
			nonNil(prefix), end)
	} else {
		rows, err = b.pool.Query(ctx,
			fmt.Sprintf(`SELECT key, value FROM %s WHERE key >= $1 ORDER BY key`, b.table),
			nonNil(prefix))
	}
	if err != nil {
		return fmt.Errorf("postgres scan: %w", err)
	}

	type kv struct{ k, v []byte }
	var entries []kv
	for rows.Next() {
		var e kv
		if err := rows.Scan(&e.k, &e.v); err != nil {
			rows.Close()
			return fmt.Errorf("postgres scan: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres scan: %w", err)
	}

	for _, e := range entries {
		if err := fn(e.k, e.v); err != nil {
			return err
		}
	}
	return nil
}

// Commit applies ops in a single transaction.
func (b *Backend) Commit(ctx context.Context, ops []physical.Op) (err error) {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	upsert := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, b.table)
	del := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, b.table)

	for _, op := range ops {
		if op.Delete {
			if _, err = tx.Exec(ctx, del, op.Key); err != nil {
				return fmt.Errorf("postgres delete: %w", err)
			}
			continue
		}
		if _, err = tx.Exec(ctx, upsert, op.Key, nonNil(op.Value)); err != nil {
			return fmt.Errorf("postgres put: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

// Stats reports row count and stored bytes.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	var keys, size int64
	err := b.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM %s`, b.table),
	).Scan(&keys, &size)
	if err != nil {
		return nil, fmt.Errorf("postgres stats: %w", err)
	}
	return &physical.Stats{Keys: keys, SizeBytes: size, BackendType: "postgres"}, nil
}

// Close closes the pool.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.pool.Close()
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
