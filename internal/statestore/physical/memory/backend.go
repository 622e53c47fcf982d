// Package memory provides an in-process statestore backend for tests and
// ephemeral nodes.
package memory

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gezibash/arc-provenance/internal/statestore/physical"
)

func init() {
	physical.Register(physical.Driver{
		Name:     "memory",
		Open:     NewFactory,
		Defaults: Defaults,
	})
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{}
}

// NewFactory creates a new, empty memory backend.
func NewFactory(_ context.Context, _ map[string]string) (physical.Backend, error) {
	return New(), nil
}

// Backend keeps keys in a map and sorts on scan.
type Backend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed atomic.Bool
}

// New returns an empty memory backend.
func New() *Backend {
	return &Backend{data: make(map[string][]byte)}
}

// Get returns the value stored at key.
func (b *Backend) Get(_ context.Context, key []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[string(key)]
	if !ok {
		return nil, physical.ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Scan visits keys with prefix in order. The snapshot is taken up front, so
// fn may call back into the backend.
func (b *Backend) Scan(_ context.Context, prefix []byte, fn physical.ScanFunc) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	b.mu.RLock()
	p := string(prefix)
	keys := make([]string, 0)
	for k := range b.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = bytes.Clone(b.data[k])
	}
	b.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Commit applies ops under a single write lock.
func (b *Backend) Commit(_ context.Context, ops []physical.Op) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range ops {
		if op.Delete {
			delete(b.data, string(op.Key))
			continue
		}
		b.data[string(op.Key)] = bytes.Clone(op.Value)
	}
	return nil
}

// Stats reports the key count and approximate payload size.
func (b *Backend) Stats(_ context.Context) (*physical.Stats, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var size int64
	for k, v := range b.data {
		size += int64(len(k) + len(v))
	}
	return &physical.Stats{Keys: int64(len(b.data)), SizeBytes: size, BackendType: "memory"}, nil
}

// Close releases the data.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
	return nil
}
