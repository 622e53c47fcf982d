package registry

import (
	"bytes"
	"slices"
)

// HasRole reports whether p holds role.
func (m *Machine) HasRole(role Role, p Principal) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.hasRole(role, p)
}

// RoleMembers returns the holders of role in ascending address order.
func (m *Machine) RoleMembers(role Role) []Principal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Principal, 0, len(m.t.roles[role]))
	for p := range m.t.roles[role] {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Principal) int { return bytes.Compare(a[:], b[:]) })
	return out
}

// VerifyDocument reports whether a document is registered for h.
func (m *Machine) VerifyDocument(h Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.t.docs[h]
	return ok
}

// GetDocument returns the record for h or fails with NotFound.
func (m *Machine) GetDocument(h Hash) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return requireDocument(m.t, "getDocument", h)
}

// GetDocumentsByOwner returns the hashes registered for owner in
// registration order. The result is empty, never nil, for unknown owners.
func (m *Machine) GetDocumentsByOwner(owner Principal) []Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Hash, len(m.t.owners[owner]))
	copy(out, m.t.owners[owner])
	return out
}

// CanView reports whether viewer is in the Granted state for h. Unknown
// hashes yield false.
func (m *Machine) CanView(h Hash, viewer Principal) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.t.grant(h, viewer)
	return ok
}

// Grant returns the access state of (h, viewer).
func (m *Machine) Grant(h Hash, viewer Principal) AccessGrant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, _ := m.t.grant(h, viewer)
	return g
}

// Viewers returns the principals currently granted access to h, in
// ascending address order.
func (m *Machine) Viewers(h Hash) []Principal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Principal, 0, len(m.t.grants[h]))
	for v := range m.t.grants[h] {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b Principal) int { return bytes.Compare(a[:], b[:]) })
	return out
}

// GetViewerKey returns the key blob stored for (h, viewer) on behalf of
// caller. Only the viewer, the document owner, or an issuer may read it.
// A viewer without a grant yields an empty blob, which is indistinguishable
// from a grant made with an empty blob.
func (m *Machine) GetViewerKey(caller Principal, h Hash, viewer Principal) ([]byte, error) {
	const op Op = "getViewerKey"

	m.mu.RLock()
	defer m.mu.RUnlock()

	d, err := requireDocument(m.t, op, h)
	if err != nil {
		return nil, err
	}
	if caller != viewer && caller != d.Owner && !m.t.hasRole(RoleIssuer, caller) {
		return nil, newError(KindForbidden, op, "%s may not read keys of %s for %s", caller, viewer, h)
	}
	g, _ := m.t.grant(h, viewer)
	if g.KeyBlob == nil {
		return []byte{}, nil
	}
	return g.KeyBlob, nil
}
