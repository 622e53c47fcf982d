package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// PrincipalSize is the length of a principal address in bytes.
const PrincipalSize = 20

// HashSize is the length of a document hash in bytes.
const HashSize = 32

// Principal is an address derived from a submitter's public key.
// The core compares principals for equality and nothing else.
type Principal [PrincipalSize]byte

// IsZero reports whether p is the zero principal.
func (p Principal) IsZero() bool {
	return p == Principal{}
}

// String returns the 0x-prefixed lowercase hex form.
func (p Principal) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// MarshalText implements encoding.TextMarshaler.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := ParsePrincipal(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePrincipal decodes a principal from hex, with or without a 0x prefix.
func ParsePrincipal(s string) (Principal, error) {
	var p Principal
	if err := decodeFixed(s, p[:]); err != nil {
		return Principal{}, fmt.Errorf("parse principal: %w", err)
	}
	return p, nil
}

// Hash is the fixed-length digest identifying a document.
type Hash [HashSize]byte

// HashOf returns the sha256 digest of data as a document hash.
func HashOf(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the 0x-prefixed lowercase hex form.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a document hash from hex, with or without a 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := decodeFixed(s, h[:]); err != nil {
		return Hash{}, fmt.Errorf("parse hash: %w", err)
	}
	return h, nil
}

func decodeFixed(s string, dst []byte) error {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("want %d hex characters, got %d", hex.EncodedLen(len(dst)), len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return err
	}
	return nil
}
