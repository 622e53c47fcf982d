// Package names manages local contacts: @names for principals.
//
// The contacts file (contacts.json) maps a name to a principal and, when the
// contact was added from a public key, the key itself. Commands accept
// "@alice" anywhere a principal is expected, and access grants seal key
// blobs to a contact's stored public key.
package names

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/pkg/identity"
)

const (
	// Filename is the contacts file name within the data directory.
	Filename = "contacts.json"
	// Prefix marks a contact reference on the command line.
	Prefix = "@"
)

var (
	ErrNotFound    = errors.New("contact not found")
	ErrInvalidName = errors.New("invalid contact name")
	ErrInvalidKey  = errors.New("invalid public key")
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,31}$`)

// Entry is one contact.
type Entry struct {
	Name      string `json:"name"`
	Principal string `json:"principal"`
	PublicKey string `json:"public_key,omitempty"`
}

// Store manages contacts stored locally.
type Store struct {
	path    string
	entries map[string]Entry
	mu      sync.RWMutex
}

// New creates a contact store using the given data directory.
func New(dataDir string) *Store {
	return &Store{
		path:    filepath.Join(dataDir, Filename),
		entries: make(map[string]Entry),
	}
}

// Load reads the contacts from disk. A missing file is an empty book.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.entries = make(map[string]Entry)
			return nil
		}
		return fmt.Errorf("read contacts: %w", err)
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse contacts: %w", err)
	}
	s.entries = entries
	return nil
}

// Save writes the contacts to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal contacts: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write contacts: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Add adds or replaces a contact. value is a 0x address or an algo:hex
// public key; a key is kept so grants can be sealed to it.
func (s *Store) Add(name, value string) (Entry, error) {
	name = normalizeName(name)
	if !validName.MatchString(name) {
		return Entry{}, fmt.Errorf("%w %q", ErrInvalidName, name)
	}

	e := Entry{Name: name}
	if looksLikeKey(value) {
		pk, err := identity.DecodePublicKey(value)
		if err == nil {
			err = pk.Validate()
		}
		if err != nil {
			return Entry{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		e.Principal = pk.Address().String()
		e.PublicKey = identity.EncodePublicKey(pk)
	} else {
		p, err := registry.ParsePrincipal(value)
		if err != nil {
			return Entry{}, err
		}
		e.Principal = p.String()
	}

	s.mu.Lock()
	s.entries[name] = e
	s.mu.Unlock()

	return e, s.Save()
}

// Remove deletes a contact by name.
func (s *Store) Remove(name string) error {
	name = normalizeName(name)

	s.mu.Lock()
	if _, ok := s.entries[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.entries, name)
	s.mu.Unlock()

	return s.Save()
}

// Lookup returns the contact for a name, with or without the @ prefix.
func (s *Store) Lookup(name string) (Entry, error) {
	name = normalizeName(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// NameOf returns the contact name registered for principal, if any.
func (s *Store) NameOf(principal string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := ""
	for name, e := range s.entries {
		if e.Principal == principal && (best == "" || name < best) {
			best = name
		}
	}
	return best, best != ""
}

// List returns all contacts sorted by name.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// IsReference reports whether s names a contact rather than an address or key.
func IsReference(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

func looksLikeKey(s string) bool {
	return strings.Contains(s, ":") || len(s) >= 64
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, Prefix)
	return strings.ToLower(name)
}
