// Package physical defines the ordered key-value backend the state store
// persists to, and a registry of named backend implementations.
package physical

import (
	"bytes"
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")
)

// Op is one write of an atomic batch. Delete ignores Value.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Put returns an Op that sets key to value.
func Put(key, value []byte) Op {
	return Op{Key: key, Value: value}
}

// Delete returns an Op that removes key.
func Delete(key []byte) Op {
	return Op{Key: key, Delete: true}
}

// Stats contains storage statistics.
type Stats struct {
	Keys        int64
	SizeBytes   int64
	BackendType string
}

// ScanFunc receives one key-value pair. Returning an error stops the scan;
// Scan returns that error unchanged. The slices are only valid for the
// duration of the call.
type ScanFunc func(key, value []byte) error

// Backend is an ordered key-value store with atomic multi-key commits.
// All implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Scan visits every key with the given prefix in ascending byte order.
	Scan(ctx context.Context, prefix []byte, fn ScanFunc) error

	// Commit applies ops atomically: either all become visible or none do.
	Commit(ctx context.Context, ops []Op) error

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil if no such key exists (the prefix is empty or all 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
