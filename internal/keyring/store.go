package keyring

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gezibash/arc-provenance/pkg/identity/ed25519"
)

// On disk a keyring is
//
//	<dir>/keyring.json          aliases and the default key
//	<dir>/keys/<address>.key    raw 32-byte seed, mode 0600
//	<dir>/keys/<address>.json   Metadata
const (
	indexFile = "keyring.json"
	keysDir   = "keys"
	seedExt   = ".key"
	metaExt   = ".json"
)

type keyringFile struct {
	Version int               `json:"version"`
	Default string            `json:"default,omitempty"`
	Aliases map[string]string `json:"aliases"`
}

func (kr *Keyring) path(addr, ext string) string {
	return filepath.Join(kr.dir, keysDir, normalize(addr)+ext)
}

// writeAtomic replaces name with data via a rename so readers never see a
// partial key or index.
func writeAtomic(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o700); err != nil {
		return err
	}
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, name); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// readFile maps a missing file to ErrNotFound.
func readFile(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (kr *Keyring) keyExists(addr string) bool {
	_, err := os.Stat(kr.path(addr, seedExt))
	return err == nil
}

func (kr *Keyring) saveKey(kp *ed25519.Keypair, addr string, meta *Metadata) error {
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeAtomic(kr.path(addr, seedExt), kp.Seed()); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	if err := writeAtomic(kr.path(addr, metaExt), metaJSON); err != nil {
		_ = os.Remove(kr.path(addr, seedExt))
		return fmt.Errorf("write metadata file: %w", err)
	}
	return nil
}

// loadKey reads a seed and checks it still derives addr. A key without a
// metadata file gets fresh metadata with a zero creation time.
func (kr *Keyring) loadKey(addr string) (*ed25519.Keypair, *Metadata, error) {
	seed, err := readFile(kr.path(addr, seedExt))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("read key file: %w", err)
	}
	kp, err := ed25519.FromSeed(seed)
	if err != nil {
		return nil, nil, fmt.Errorf("key file %s: %w", kr.path(addr, seedExt), err)
	}
	if addressHex(kp) != normalize(addr) {
		return nil, nil, fmt.Errorf("key file %s holds a different key", kr.path(addr, seedExt))
	}

	metaJSON, err := readFile(kr.path(addr, metaExt))
	switch {
	case errors.Is(err, ErrNotFound):
		meta := newMetadata(kp)
		meta.CreatedAt = time.Time{}
		return kp, meta, nil
	case err != nil:
		return nil, nil, fmt.Errorf("read metadata file: %w", err)
	}
	meta := &Metadata{}
	if err := json.Unmarshal(metaJSON, meta); err != nil {
		return nil, nil, fmt.Errorf("parse metadata: %w", err)
	}
	return kp, meta, nil
}

func (kr *Keyring) deleteKeyFiles(addr string) error {
	err := os.Remove(kr.path(addr, seedExt))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("delete key file: %w", err)
	}
	_ = os.Remove(kr.path(addr, metaExt))
	return nil
}

// listKeyFiles returns the bare hex address of every stored seed.
func (kr *Keyring) listKeyFiles() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(kr.dir, keysDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keys directory: %w", err)
	}
	var addrs []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), seedExt); ok && !e.IsDir() {
			addrs = append(addrs, name)
		}
	}
	return addrs, nil
}

func (kr *Keyring) loadKeyringFile() (*keyringFile, error) {
	data, err := readFile(filepath.Join(kr.dir, indexFile))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read keyring file: %w", err)
	}
	kf := &keyringFile{}
	if err := json.Unmarshal(data, kf); err != nil {
		return nil, fmt.Errorf("parse keyring file: %w", err)
	}
	aliases := make(map[string]string, len(kf.Aliases))
	for alias, addr := range kf.Aliases {
		aliases[alias] = strings.TrimPrefix(normalize(addr), "0x")
	}
	kf.Aliases = aliases
	return kf, nil
}

func (kr *Keyring) saveKeyringFile(kf *keyringFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keyring file: %w", err)
	}
	if err := writeAtomic(filepath.Join(kr.dir, indexFile), data); err != nil {
		return fmt.Errorf("write keyring file: %w", err)
	}
	return nil
}
