// Package redis provides a Redis-backed statestore backend. Values live
// under <prefix>kv:<key>; a sorted set of all keys at <prefix>idx (every
// score zero) provides byte-ordered prefix scans via ZRANGEBYLEX.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/arc-provenance/internal/statestore/physical"
	"github.com/gezibash/arc-provenance/internal/storage"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"

	scanBatchSize = 500
)

func init() {
	physical.Register(physical.Driver{
		Name:     "redis",
		Open:     NewFactory,
		Defaults: Defaults,
	})
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyPassword:     "",
		KeyDB:           "0",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyPoolSize:     "0",
		KeyKeyPrefix:    "provenance:",
	}
}

// NewFactory creates a new Redis backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("redis", config)
	opts := &redis.Options{
		Addr:         o.Require(KeyAddr),
		Password:     o.String(KeyPassword, ""),
		DB:           o.Int(KeyDB, 0, 0),
		MaxRetries:   o.Int(KeyMaxRetries, 3, -1),
		DialTimeout:  o.Duration(KeyDialTimeout, 5*time.Second),
		ReadTimeout:  o.Duration(KeyReadTimeout, 3*time.Second),
		WriteTimeout: o.Duration(KeyWriteTimeout, 3*time.Second),
		PoolSize:     o.Int(KeyPoolSize, 0, 0),
	}
	keyPrefix := o.String(KeyKeyPrefix, "provenance:")
	if err := o.Err(); err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.Failed("redis", KeyAddr, "failed to connect", err)
	}

	slog.Info("redis statestore initialized", "addr", opts.Addr, "db", opts.DB, "key_prefix", keyPrefix)
	return NewWithClient(client, keyPrefix), nil
}

// Backend is a Redis implementation of physical.Backend.
type Backend struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

// NewWithClient creates a new backend with an existing Redis client.
func NewWithClient(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = "provenance:"
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) valueKey(key []byte) string {
	return b.prefix + "kv:" + string(key)
}

func (b *Backend) indexKey() string {
	return b.prefix + "idx"
}

// Get returns the value stored at key.
func (b *Backend) Get(ctx context.Context, key []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	v, err := b.client.Get(ctx, b.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// Scan pages through the lexicographic index and fetches values with MGET.
func (b *Backend) Scan(ctx context.Context, prefix []byte, fn physical.ScanFunc) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	minBound := "[" + string(prefix)
	if len(prefix) == 0 {
		minBound = "-"
	}
	maxBound := "+"
	if end := physical.PrefixEnd(prefix); end != nil {
		maxBound = "(" + string(end)
	}

	for offset := int64(0); ; offset += scanBatchSize {
		keys, err := b.client.ZRangeByLex(ctx, b.indexKey(), &redis.ZRangeBy{
			Min:    minBound,
			Max:    maxBound,
			Offset: offset,
			Count:  scanBatchSize,
		}).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) == 0 {
			return nil
		}

		valueKeys := make([]string, len(keys))
		for i, k := range keys {
			valueKeys[i] = b.valueKey([]byte(k))
		}
		values, err := b.client.MGet(ctx, valueKeys...).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}

		for i, k := range keys {
			s, ok := values[i].(string)
			if !ok {
				// Index entry without a value; the writer removes both together.
				continue
			}
			if err := fn([]byte(k), []byte(s)); err != nil {
				return err
			}
		}
		if len(keys) < scanBatchSize {
			return nil
		}
	}
}

// Commit applies ops in a MULTI/EXEC transaction.
func (b *Backend) Commit(ctx context.Context, ops []physical.Op) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	pipe := b.client.TxPipeline()
	for _, op := range ops {
		if op.Delete {
			pipe.Del(ctx, b.valueKey(op.Key))
			pipe.ZRem(ctx, b.indexKey(), string(op.Key))
			continue
		}
		pipe.Set(ctx, b.valueKey(op.Key), op.Value, 0)
		pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: 0, Member: string(op.Key)})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis commit: %w", err)
	}
	return nil
}

// Stats reports the indexed key count.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	n, err := b.client.ZCard(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats: %w", err)
	}
	return &physical.Stats{Keys: n, BackendType: "redis"}, nil
}

// Close closes the client.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
