package registry

// Guards are pure checks over committed state. They run before any
// mutation is produced and never write.

func onlyRole(t *tables, op Op, role Role, caller Principal) error {
	if !t.hasRole(role, caller) {
		return newError(KindAccessDenied, op, "%s lacks role %s", caller, role)
	}
	return nil
}

// onlyOwnerOrIssuer passes if caller owns the document for h or holds ISSUER.
// A hash with no document has no owner, so only issuers pass for it.
func onlyOwnerOrIssuer(t *tables, op Op, h Hash, caller Principal) error {
	if d, ok := t.docs[h]; ok && d.Owner == caller {
		return nil
	}
	if t.hasRole(RoleIssuer, caller) {
		return nil
	}
	return newError(KindNotOwnerOrIssuer, op, "%s is neither owner of %s nor an issuer", caller, h)
}

func requireDocument(t *tables, op Op, h Hash) (Document, error) {
	d, ok := t.docs[h]
	if !ok {
		return Document{}, newError(KindNotFound, op, "no document for %s", h)
	}
	return d, nil
}

func requirePrincipal(op Op, field string, p Principal) error {
	if p.IsZero() {
		return newError(KindInvalidArgument, op, "%s must not be the zero principal", field)
	}
	return nil
}

func requireRole(op Op, r Role) error {
	if !r.Valid() {
		return newError(KindInvalidArgument, op, "invalid role %q", string(r))
	}
	return nil
}
