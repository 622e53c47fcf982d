// Package offchain stores the encrypted document payloads that registry
// pointers refer to. Objects are content addressed by the registered hash
// and every read can be checked against it.
package offchain

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/gezibash/arc-provenance/internal/registry"
)

var (
	// ErrNotFound is returned when a pointer names no object.
	ErrNotFound = errors.New("offchain: object not found")
	// ErrDigestMismatch is returned when content does not hash to the
	// expected document hash.
	ErrDigestMismatch = errors.New("offchain: content does not match hash")
	// ErrUnsupportedPointer is returned for pointers with an unknown scheme.
	ErrUnsupportedPointer = errors.New("offchain: unsupported pointer")
)

// Store persists document payloads.
type Store interface {
	// Put stores the content of r under h and returns its pointer. The
	// content must hash to h.
	Put(ctx context.Context, h registry.Hash, r io.Reader) (string, error)
	// Get opens the object a pointer returned by Put refers to.
	Get(ctx context.Context, pointer string) (io.ReadCloser, error)
}

// New creates the store named kind ("fs" or "s3") from its config map.
func New(ctx context.Context, kind string, config map[string]string) (Store, error) {
	switch kind {
	case "fs":
		return NewFS(config)
	case "s3":
		return NewS3(ctx, config)
	default:
		return nil, fmt.Errorf("offchain: unknown store %q", kind)
	}
}

// Open resolves any supported pointer. file:// pointers are read from the
// local filesystem; s3:// pointers use s3Config for region, endpoint and
// credentials, with the bucket taken from the pointer.
func Open(ctx context.Context, pointer string, s3Config map[string]string) (io.ReadCloser, error) {
	u, err := url.Parse(pointer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPointer, err)
	}
	switch u.Scheme {
	case "file":
		return openFile(u)
	case "s3":
		cfg := make(map[string]string, len(s3Config)+1)
		for k, v := range s3Config {
			cfg[k] = v
		}
		cfg[KeyBucket] = u.Host
		s, err := newS3(ctx, cfg, false)
		if err != nil {
			return nil, err
		}
		return s.Get(ctx, pointer)
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedPointer, u.Scheme)
	}
}

// Fetch copies the object at pointer into w and checks it against want.
// On ErrDigestMismatch w has already received the content; callers writing
// to a file should write to a temporary file and discard it.
func Fetch(ctx context.Context, pointer string, want registry.Hash, w io.Writer, s3Config map[string]string) (int64, error) {
	rc, err := Open(ctx, pointer, s3Config)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return Copy(w, rc, want)
}

// Copy streams r into w and reports ErrDigestMismatch if the content does
// not hash to want.
func Copy(w io.Writer, r io.Reader, want registry.Hash) (int64, error) {
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), r)
	if err != nil {
		return n, fmt.Errorf("offchain copy: %w", err)
	}
	var got registry.Hash
	copy(got[:], h.Sum(nil))
	if got != want {
		return n, fmt.Errorf("%w: got %s, want %s", ErrDigestMismatch, got, want)
	}
	return n, nil
}
