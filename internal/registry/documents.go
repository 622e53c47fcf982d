package registry

// maxPointerLen bounds the opaque storage pointer.
const maxPointerLen = 2048

func prepareRegisterDocument(t *tables, tr Transition) ([]Mutation, []Event, error) {
	if err := onlyRole(t, tr.Op, RoleIssuer, tr.Caller); err != nil {
		return nil, nil, err
	}
	if err := requirePrincipal(tr.Op, "owner", tr.Owner); err != nil {
		return nil, nil, err
	}
	if tr.Hash.IsZero() {
		return nil, nil, newError(KindInvalidArgument, tr.Op, "hash must not be zero")
	}
	if len(tr.Pointer) > maxPointerLen {
		return nil, nil, newError(KindInvalidArgument, tr.Op, "pointer exceeds %d bytes", maxPointerLen)
	}
	// Create-if-absent: an existing record is never overwritten.
	if _, exists := t.docs[tr.Hash]; exists {
		return nil, nil, newError(KindAlreadyRegistered, tr.Op, "%s is already registered", tr.Hash)
	}

	doc := Document{
		Hash:      tr.Hash,
		Owner:     tr.Owner,
		Issuer:    tr.Caller,
		Pointer:   tr.Pointer,
		CreatedAt: tr.Timestamp,
	}
	muts := []Mutation{{Kind: MutPutDocument, Document: doc, OwnerIndex: len(t.owners[tr.Owner])}}
	events := []Event{{
		Type:    EventDocumentRegistered,
		Caller:  tr.Caller,
		Owner:   tr.Owner,
		Hash:    tr.Hash,
		Pointer: tr.Pointer,
	}}
	return muts, events, nil
}
