package registry

import "bytes"

// Document is the immutable provenance record for a hash.
type Document struct {
	Hash      Hash      `json:"hash"`
	Owner     Principal `json:"owner"`
	Issuer    Principal `json:"issuer"`
	Pointer   string    `json:"pointer"`
	CreatedAt int64     `json:"created_at"`
}

// AccessGrant is the access state of one (document, viewer) pair.
// KeyBlob is only ever non-empty while Allowed is true.
type AccessGrant struct {
	Allowed bool   `json:"allowed"`
	KeyBlob []byte `json:"key_blob,omitempty"`
}

// tables holds the committed registry state. It is only written by apply.
type tables struct {
	initialized bool
	height      uint64
	timestamp   int64

	roles  map[Role]map[Principal]struct{}
	docs   map[Hash]Document
	owners map[Principal][]Hash
	grants map[Hash]map[Principal][]byte
}

func newTables() *tables {
	return &tables{
		roles:  make(map[Role]map[Principal]struct{}),
		docs:   make(map[Hash]Document),
		owners: make(map[Principal][]Hash),
		grants: make(map[Hash]map[Principal][]byte),
	}
}

func (t *tables) hasRole(role Role, p Principal) bool {
	_, ok := t.roles[role][p]
	return ok
}

func (t *tables) grant(h Hash, viewer Principal) (AccessGrant, bool) {
	blob, ok := t.grants[h][viewer]
	if !ok {
		return AccessGrant{}, false
	}
	return AccessGrant{Allowed: true, KeyBlob: bytes.Clone(blob)}, true
}

// admit reports whether m can be applied to t. Documents are create-only.
func (t *tables) admit(op Op, m Mutation) error {
	if m.Kind == MutPutDocument {
		if _, ok := t.docs[m.Document.Hash]; ok {
			return newError(KindAlreadyRegistered, op, "document %s already registered", m.Document.Hash)
		}
	}
	return nil
}

// apply performs a mutation. Callers guarantee the mutation came from a
// changeset prepared against this exact state.
func (t *tables) apply(m Mutation) {
	switch m.Kind {
	case MutSetRole:
		members := t.roles[m.Role]
		if m.Member {
			if members == nil {
				members = make(map[Principal]struct{})
				t.roles[m.Role] = members
			}
			members[m.Principal] = struct{}{}
			return
		}
		delete(members, m.Principal)
		if len(members) == 0 {
			delete(t.roles, m.Role)
		}
	case MutPutDocument:
		d := m.Document
		if _, ok := t.docs[d.Hash]; ok {
			return
		}
		t.docs[d.Hash] = d
		t.owners[d.Owner] = append(t.owners[d.Owner], d.Hash)
	case MutSetGrant:
		viewers := t.grants[m.Hash]
		if viewers == nil {
			viewers = make(map[Principal][]byte)
			t.grants[m.Hash] = viewers
		}
		viewers[m.Viewer] = bytes.Clone(m.KeyBlob)
	case MutClearGrant:
		viewers := t.grants[m.Hash]
		delete(viewers, m.Viewer)
		if len(viewers) == 0 {
			delete(t.grants, m.Hash)
		}
	}
}
