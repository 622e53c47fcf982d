package statestore

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/gezibash/arc-provenance/internal/registry"
)

// Key layout. Principals and hashes are stored in their 0x-hex form so keys
// stay printable in every backend.
const (
	prefixRole  = "role/"
	prefixDoc   = "doc/"
	prefixOwner = "own/"
	prefixGrant = "grant/"
	prefixLog   = "log/"
	prefixNonce = "nonce/"

	keyHeight    = "meta/height"
	keyTimestamp = "meta/timestamp"
)

func roleKey(r registry.Role, p registry.Principal) []byte {
	return []byte(prefixRole + string(r) + "/" + p.String())
}

func docKey(h registry.Hash) []byte {
	return []byte(prefixDoc + h.String())
}

func ownerKey(owner registry.Principal, idx int) []byte {
	return fmt.Appendf(nil, "%s%s/%016x", prefixOwner, owner, idx)
}

func grantKey(h registry.Hash, viewer registry.Principal) []byte {
	return []byte(prefixGrant + h.String() + "/" + viewer.String())
}

func logKey(height uint64) []byte {
	return fmt.Appendf(nil, "%s%016x", prefixLog, height)
}

func nonceKey(p registry.Principal) []byte {
	return []byte(prefixNonce + p.String())
}

func encodeUint(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: integer value has %d bytes", ErrCorrupt, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// splitKey strips prefix and splits the remainder into exactly two parts.
func splitKey(key []byte, prefix string) (string, string, error) {
	rest, ok := strings.CutPrefix(string(key), prefix)
	if !ok {
		return "", "", fmt.Errorf("%w: key %q lacks prefix %q", ErrCorrupt, key, prefix)
	}
	a, b, ok := strings.Cut(rest, "/")
	if !ok {
		return "", "", fmt.Errorf("%w: malformed key %q", ErrCorrupt, key)
	}
	return a, b, nil
}

func parseRoleKey(key []byte) (registry.Role, registry.Principal, error) {
	r, p, err := splitKey(key, prefixRole)
	if err != nil {
		return "", registry.Principal{}, err
	}
	principal, err := registry.ParsePrincipal(p)
	if err != nil {
		return "", registry.Principal{}, fmt.Errorf("%w: role key %q: %v", ErrCorrupt, key, err)
	}
	return registry.Role(r), principal, nil
}

func parseOwnerKey(key []byte) (registry.Principal, int, error) {
	o, idx, err := splitKey(key, prefixOwner)
	if err != nil {
		return registry.Principal{}, 0, err
	}
	owner, err := registry.ParsePrincipal(o)
	if err != nil {
		return registry.Principal{}, 0, fmt.Errorf("%w: owner key %q: %v", ErrCorrupt, key, err)
	}
	n, err := strconv.ParseUint(idx, 16, 63)
	if err != nil {
		return registry.Principal{}, 0, fmt.Errorf("%w: owner key %q: %v", ErrCorrupt, key, err)
	}
	return owner, int(n), nil
}

func parseGrantKey(key []byte) (registry.Hash, registry.Principal, error) {
	h, v, err := splitKey(key, prefixGrant)
	if err != nil {
		return registry.Hash{}, registry.Principal{}, err
	}
	hash, err := registry.ParseHash(h)
	if err != nil {
		return registry.Hash{}, registry.Principal{}, fmt.Errorf("%w: grant key %q: %v", ErrCorrupt, key, err)
	}
	viewer, err := registry.ParsePrincipal(v)
	if err != nil {
		return registry.Hash{}, registry.Principal{}, fmt.Errorf("%w: grant key %q: %v", ErrCorrupt, key, err)
	}
	return hash, viewer, nil
}
