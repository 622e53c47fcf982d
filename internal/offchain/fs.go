package offchain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/storage"
)

const (
	KeyPath            = "path"
	KeyDirPermissions  = "dir_permissions"
	KeyFilePermissions = "file_permissions"
)

// FSDefaults returns the default configuration for the filesystem store.
func FSDefaults() map[string]string {
	return map[string]string{
		KeyPath:            "~/.provenance/objects",
		KeyDirPermissions:  "0700",
		KeyFilePermissions: "0600",
	}
}

// FS keeps objects under root/<hh>/<hex hash>.
type FS struct {
	root      string
	dirPerms  os.FileMode
	filePerms os.FileMode
}

// NewFS creates a filesystem store from a configuration map.
func NewFS(config map[string]string) (*FS, error) {
	opts := storage.NewOptions("fs", config)
	path := opts.Path(KeyPath)
	dirPerms := opts.FileMode(KeyDirPermissions, 0o700)
	filePerms := opts.FileMode(KeyFilePermissions, 0o600)
	if err := opts.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path, dirPerms); err != nil {
		return nil, storage.Failed("fs", KeyPath, "failed to create directory", err)
	}
	slog.Debug("offchain fs store initialized", "path", path)

	return &FS{root: path, dirPerms: dirPerms, filePerms: filePerms}, nil
}

func (s *FS) objectPath(h registry.Hash) string {
	name := hex.EncodeToString(h[:])
	return filepath.Join(s.root, name[:2], name)
}

func filePointer(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// Put writes r to a temporary file and renames it into place once the
// content is known to hash to h.
func (s *FS) Put(_ context.Context, h registry.Hash, r io.Reader) (string, error) {
	path := s.objectPath(h)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerms); err != nil {
		return "", fmt.Errorf("fs put: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("fs put: %w", err)
	}
	tmpName := tmp.Name()

	_, copyErr := Copy(tmp, r, h)
	closeErr := tmp.Close()
	if copyErr != nil {
		_ = os.Remove(tmpName)
		return "", copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("fs put: %w", closeErr)
	}
	if err := os.Chmod(tmpName, s.filePerms); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("fs put: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("fs put: %w", err)
	}
	return filePointer(path), nil
}

// Get opens a file:// pointer that lies inside the store root.
func (s *FS) Get(_ context.Context, pointer string) (io.ReadCloser, error) {
	u, err := url.Parse(pointer)
	if err != nil || u.Scheme != "file" {
		return nil, fmt.Errorf("%w: %q is not a file pointer", ErrUnsupportedPointer, pointer)
	}
	path := filepath.Clean(filepath.FromSlash(u.Path))
	if rel, err := filepath.Rel(s.root, path); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: %q is outside %s", ErrUnsupportedPointer, pointer, s.root)
	}
	return openFile(u)
}

func openFile(u *url.URL) (io.ReadCloser, error) {
	if u.Host != "" && u.Host != "localhost" {
		return nil, fmt.Errorf("%w: remote file host %q", ErrUnsupportedPointer, u.Host)
	}
	f, err := os.Open(filepath.FromSlash(u.Path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fs get: %w", err)
	}
	return f, nil
}
