// Package keyring keeps the CLI's ed25519 signing keys on disk. Keys are
// filed under their principal address and may carry aliases; one alias can
// be marked as the default signer.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gezibash/arc-provenance/pkg/identity"
	"github.com/gezibash/arc-provenance/pkg/identity/ed25519"
)

const (
	DefaultAlias  = "default"
	AddressHexLen = identity.AddressSize * 2
	// minPrefixLen is the shortest address prefix accepted as a key name.
	minPrefixLen = 6
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrAliasNotFound = errors.New("alias not found")
	ErrAlreadyExists = errors.New("key already exists")
	ErrNoDefault     = errors.New("no default key set")
	ErrAmbiguous     = errors.New("key prefix is ambiguous")
	ErrInvalidAlias  = errors.New("invalid alias")
)

type Keyring struct {
	dir string
}

type Key struct {
	Keypair  *ed25519.Keypair
	Address  string // 40 lowercase hex, no 0x
	Metadata *Metadata
}

// Principal returns the 0x-prefixed address the registry knows the key by.
func (k *Key) Principal() string {
	return "0x" + k.Address
}

type Metadata struct {
	Address   string    `json:"address"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

type KeyInfo struct {
	Address   string    `json:"address"`
	PublicKey string    `json:"public_key"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	IsDefault bool      `json:"is_default"`
}

// New opens the keyring rooted at dir (normally the data directory).
func New(dir string) *Keyring {
	return &Keyring{dir: dir}
}

func addressHex(kp *ed25519.Keypair) string {
	return strings.TrimPrefix(kp.Address().String(), "0x")
}

func newMetadata(kp *ed25519.Keypair) *Metadata {
	return &Metadata{
		Address:   addressHex(kp),
		PublicKey: identity.EncodePublicKey(kp.PublicKey()),
		CreatedAt: time.Now().UTC(),
	}
}

// Generate creates a key. A non-empty alias is attached to it; the first
// key in an empty keyring also becomes the default.
func (kr *Keyring) Generate(_ context.Context, alias string) (*Key, error) {
	kp, err := ed25519.Generate()
	if err != nil {
		return nil, err
	}
	return kr.add(kp, alias)
}

// Import stores a key derived from a 32-byte ed25519 seed.
func (kr *Keyring) Import(_ context.Context, seed []byte, alias string) (*Key, error) {
	kp, err := ed25519.FromSeed(seed)
	if err != nil {
		return nil, err
	}
	return kr.add(kp, alias)
}

func (kr *Keyring) add(kp *ed25519.Keypair, alias string) (*Key, error) {
	if alias != "" {
		if err := validateAlias(alias); err != nil {
			return nil, err
		}
	}
	addr := addressHex(kp)
	if kr.keyExists(addr) {
		return nil, ErrAlreadyExists
	}
	first, err := kr.isEmpty()
	if err != nil {
		return nil, err
	}

	meta := newMetadata(kp)
	if err := kr.saveKey(kp, addr, meta); err != nil {
		return nil, err
	}

	if alias != "" {
		if err := kr.SetAlias(alias, addr); err != nil {
			_ = kr.deleteKeyFiles(addr)
			return nil, err
		}
		if first {
			if err := kr.SetDefault(alias); err != nil {
				return nil, err
			}
		}
	}
	return &Key{Keypair: kp, Address: addr, Metadata: meta}, nil
}

// Load resolves an alias, a full address, or a unique address prefix.
func (kr *Keyring) Load(_ context.Context, name string) (*Key, error) {
	addr, err := kr.resolve(name)
	if err != nil {
		return nil, err
	}
	kp, meta, err := kr.loadKey(addr)
	if err != nil {
		return nil, err
	}
	return &Key{Keypair: kp, Address: addr, Metadata: meta}, nil
}

func (kr *Keyring) LoadDefault(ctx context.Context) (*Key, error) {
	kf, err := kr.loadKeyringFile()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoDefault
		}
		return nil, err
	}
	if kf.Default == "" {
		return nil, ErrNoDefault
	}
	return kr.Load(ctx, kf.Default)
}

// LoadNamed loads name, or the default key when name is empty.
func (kr *Keyring) LoadNamed(ctx context.Context, name string) (*Key, error) {
	if name == "" {
		return kr.LoadDefault(ctx)
	}
	return kr.Load(ctx, name)
}

// Provider adapts the keyring to identity.Provider for the named key.
func (kr *Keyring) Provider(name string) identity.Provider {
	return identity.ProviderFunc(func(ctx context.Context) (identity.Signer, error) {
		k, err := kr.LoadNamed(ctx, name)
		if err != nil {
			return nil, err
		}
		return k.Keypair, nil
	})
}

// List returns every stored key ordered by creation time.
func (kr *Keyring) List(_ context.Context) ([]*KeyInfo, error) {
	kf, err := kr.loadKeyringFile()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	aliasMap := make(map[string][]string)
	var defaultAddr string
	if kf != nil {
		for alias, addr := range kf.Aliases {
			aliasMap[addr] = append(aliasMap[addr], alias)
		}
		if kf.Default != "" {
			defaultAddr = kf.Aliases[kf.Default]
		}
	}

	addrs, err := kr.listKeyFiles()
	if err != nil {
		return nil, err
	}

	infos := make([]*KeyInfo, 0, len(addrs))
	for _, addr := range addrs {
		_, meta, err := kr.loadKey(addr)
		if err != nil {
			continue
		}
		aliases := aliasMap[addr]
		sort.Strings(aliases)
		infos = append(infos, &KeyInfo{
			Address:   meta.Address,
			PublicKey: meta.PublicKey,
			Aliases:   aliases,
			CreatedAt: meta.CreatedAt,
			IsDefault: addr == defaultAddr,
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].Address < infos[j].Address
	})
	return infos, nil
}

// Delete removes a key together with its aliases.
func (kr *Keyring) Delete(_ context.Context, name string) error {
	addr, err := kr.resolve(name)
	if err != nil {
		return err
	}

	kf, err := kr.loadKeyringFile()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if kf != nil {
		changed := false
		if kf.Default != "" && kf.Aliases[kf.Default] == addr {
			kf.Default = ""
			changed = true
		}
		for alias, a := range kf.Aliases {
			if a == addr {
				delete(kf.Aliases, alias)
				changed = true
			}
		}
		if changed {
			if err := kr.saveKeyringFile(kf); err != nil {
				return err
			}
		}
	}
	return kr.deleteKeyFiles(addr)
}

// SetAlias points alias at the key named by name. An existing alias is
// moved.
func (kr *Keyring) SetAlias(alias, name string) error {
	if err := validateAlias(alias); err != nil {
		return err
	}
	addr, err := kr.resolve(name)
	if err != nil {
		return err
	}

	kf, err := kr.loadKeyringFile()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		kf = &keyringFile{Version: 1, Aliases: make(map[string]string)}
	}
	kf.Aliases[alias] = addr
	return kr.saveKeyringFile(kf)
}

func (kr *Keyring) SetDefault(alias string) error {
	kf, err := kr.loadKeyringFile()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		kf = &keyringFile{Version: 1, Aliases: make(map[string]string)}
	}
	if _, ok := kf.Aliases[alias]; !ok {
		return ErrAliasNotFound
	}
	kf.Default = alias
	return kr.saveKeyringFile(kf)
}

// validateAlias rejects aliases that could be mistaken for an address.
func validateAlias(alias string) error {
	if alias == "" || strings.ContainsAny(alias, " /\\") {
		return fmt.Errorf("%w: %q", ErrInvalidAlias, alias)
	}
	if h := strings.TrimPrefix(normalize(alias), "0x"); isHex(h) && len(h) >= minPrefixLen {
		return fmt.Errorf("%w: %q looks like an address", ErrInvalidAlias, alias)
	}
	return nil
}

func (kr *Keyring) resolve(name string) (string, error) {
	kf, err := kr.loadKeyringFile()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if kf != nil {
		if addr, ok := kf.Aliases[name]; ok {
			if kr.keyExists(addr) {
				return addr, nil
			}
			return "", ErrNotFound
		}
	}

	h := strings.TrimPrefix(normalize(name), "0x")
	if !isHex(h) || len(h) < minPrefixLen {
		return "", ErrAliasNotFound
	}
	if len(h) == AddressHexLen {
		if kr.keyExists(h) {
			return h, nil
		}
		return "", ErrNotFound
	}

	addrs, err := kr.listKeyFiles()
	if err != nil {
		return "", err
	}
	var match string
	for _, a := range addrs {
		if strings.HasPrefix(a, h) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguous, name)
			}
			match = a
		}
	}
	if match == "" {
		return "", ErrNotFound
	}
	return match, nil
}

func (kr *Keyring) isEmpty() (bool, error) {
	addrs, err := kr.listKeyFiles()
	return len(addrs) == 0, err
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
