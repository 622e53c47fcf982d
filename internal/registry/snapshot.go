package registry

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"slices"
)

// RoleAssignment records that Principal holds Role.
type RoleAssignment struct {
	Role      Role      `json:"role"`
	Principal Principal `json:"principal"`
}

// OwnerIndex lists the hashes registered for Owner in registration order.
type OwnerIndex struct {
	Owner  Principal `json:"owner"`
	Hashes []Hash    `json:"hashes"`
}

// GrantEntry is one Granted (hash, viewer) pair.
type GrantEntry struct {
	Hash    Hash      `json:"hash"`
	Viewer  Principal `json:"viewer"`
	KeyBlob []byte    `json:"key_blob,omitempty"`
}

// Snapshot is a canonical, order-stable copy of committed state.
type Snapshot struct {
	Initialized bool             `json:"initialized"`
	Height      uint64           `json:"height"`
	Timestamp   int64            `json:"timestamp"`
	Roles       []RoleAssignment `json:"roles"`
	Documents   []Document       `json:"documents"`
	Owners      []OwnerIndex     `json:"owners"`
	Grants      []GrantEntry     `json:"grants"`
}

// Snapshot copies committed state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshotOf(m.t)
}

// Restore replaces the machine's state with s after checking that the
// owner index and grants agree with the documents.
func (m *Machine) Restore(s Snapshot) error {
	t := newTables()
	t.initialized = s.Initialized
	t.height = s.Height
	t.timestamp = s.Timestamp

	for _, ra := range s.Roles {
		t.apply(Mutation{Kind: MutSetRole, Role: ra.Role, Principal: ra.Principal, Member: true})
	}
	for _, d := range s.Documents {
		if _, dup := t.docs[d.Hash]; dup {
			return fmt.Errorf("restore: duplicate document %s", d.Hash)
		}
		t.docs[d.Hash] = d
	}
	indexed := make(map[Hash]struct{}, len(t.docs))
	for _, oi := range s.Owners {
		for _, h := range oi.Hashes {
			d, ok := t.docs[h]
			if !ok || d.Owner != oi.Owner {
				return fmt.Errorf("restore: owner index %s lists %s which it does not own", oi.Owner, h)
			}
			if _, dup := indexed[h]; dup {
				return fmt.Errorf("restore: owner index lists %s twice", h)
			}
			indexed[h] = struct{}{}
		}
		if len(oi.Hashes) > 0 {
			t.owners[oi.Owner] = slices.Clone(oi.Hashes)
		}
	}
	if len(indexed) != len(t.docs) {
		return fmt.Errorf("restore: owner index covers %d of %d documents", len(indexed), len(t.docs))
	}
	for _, g := range s.Grants {
		if _, ok := t.docs[g.Hash]; !ok {
			return fmt.Errorf("restore: grant for unknown document %s", g.Hash)
		}
		t.apply(Mutation{Kind: MutSetGrant, Hash: g.Hash, Viewer: g.Viewer, KeyBlob: g.KeyBlob})
	}

	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
	return nil
}

// Digest returns a sha256 commitment to committed state. Replicas that
// applied the same transitions have equal digests.
func (m *Machine) Digest() [32]byte {
	s := m.Snapshot()
	h := sha256.New()
	writeUint(h, s.Height)
	writeUint(h, uint64(s.Timestamp))
	writeUint(h, uint64(len(s.Roles)))
	for _, ra := range s.Roles {
		writeBytes(h, []byte(ra.Role))
		h.Write(ra.Principal[:])
	}
	writeUint(h, uint64(len(s.Documents)))
	for _, d := range s.Documents {
		h.Write(d.Hash[:])
		h.Write(d.Owner[:])
		h.Write(d.Issuer[:])
		writeBytes(h, []byte(d.Pointer))
		writeUint(h, uint64(d.CreatedAt))
	}
	for _, oi := range s.Owners {
		h.Write(oi.Owner[:])
		writeUint(h, uint64(len(oi.Hashes)))
		for _, dh := range oi.Hashes {
			h.Write(dh[:])
		}
	}
	writeUint(h, uint64(len(s.Grants)))
	for _, g := range s.Grants {
		h.Write(g.Hash[:])
		h.Write(g.Viewer[:])
		writeBytes(h, g.KeyBlob)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func snapshotOf(t *tables) Snapshot {
	s := Snapshot{
		Initialized: t.initialized,
		Height:      t.height,
		Timestamp:   t.timestamp,
		Roles:       []RoleAssignment{},
		Documents:   make([]Document, 0, len(t.docs)),
		Owners:      make([]OwnerIndex, 0, len(t.owners)),
		Grants:      []GrantEntry{},
	}
	for role, members := range t.roles {
		for p := range members {
			s.Roles = append(s.Roles, RoleAssignment{Role: role, Principal: p})
		}
	}
	slices.SortFunc(s.Roles, func(a, b RoleAssignment) int {
		if a.Role != b.Role {
			return cmp.Compare(a.Role, b.Role)
		}
		return bytes.Compare(a.Principal[:], b.Principal[:])
	})

	for _, d := range t.docs {
		s.Documents = append(s.Documents, d)
	}
	slices.SortFunc(s.Documents, func(a, b Document) int { return bytes.Compare(a.Hash[:], b.Hash[:]) })

	for owner, hashes := range t.owners {
		s.Owners = append(s.Owners, OwnerIndex{Owner: owner, Hashes: slices.Clone(hashes)})
	}
	slices.SortFunc(s.Owners, func(a, b OwnerIndex) int { return bytes.Compare(a.Owner[:], b.Owner[:]) })

	for h, viewers := range t.grants {
		for v, blob := range viewers {
			s.Grants = append(s.Grants, GrantEntry{Hash: h, Viewer: v, KeyBlob: bytes.Clone(blob)})
		}
	}
	slices.SortFunc(s.Grants, func(a, b GrantEntry) int {
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.Viewer[:], b.Viewer[:])
	})
	return s
}

func writeUint(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func writeBytes(h hash.Hash, b []byte) {
	writeUint(h, uint64(len(b)))
	h.Write(b)
}
