package registry

import "bytes"

// maxKeyBlobLen bounds the opaque key blob stored per viewer.
const maxKeyBlobLen = 64 << 10

// accessGuards runs the shared checks of grantAccess and revokeAccess:
// authorization first, then document existence, then the viewer argument.
func accessGuards(t *tables, tr Transition) error {
	if err := onlyOwnerOrIssuer(t, tr.Op, tr.Hash, tr.Caller); err != nil {
		return err
	}
	if _, err := requireDocument(t, tr.Op, tr.Hash); err != nil {
		return err
	}
	return requirePrincipal(tr.Op, "viewer", tr.Viewer)
}

// prepareGrantAccess moves (hash, viewer) to Granted. Granting again
// overwrites the blob and re-emits the event.
func prepareGrantAccess(t *tables, tr Transition) ([]Mutation, []Event, error) {
	if err := accessGuards(t, tr); err != nil {
		return nil, nil, err
	}
	if len(tr.KeyBlob) > maxKeyBlobLen {
		return nil, nil, newError(KindInvalidArgument, tr.Op, "key blob exceeds %d bytes", maxKeyBlobLen)
	}
	muts := []Mutation{{Kind: MutSetGrant, Hash: tr.Hash, Viewer: tr.Viewer, KeyBlob: bytes.Clone(tr.KeyBlob)}}
	events := []Event{{
		Type:    EventAccessGranted,
		Hash:    tr.Hash,
		Caller:  tr.Caller,
		Viewer:  tr.Viewer,
		KeyBlob: bytes.Clone(tr.KeyBlob),
	}}
	return muts, events, nil
}

// prepareRevokeAccess moves (hash, viewer) to NoAccess and drops the blob.
// Revoking a viewer that holds no grant succeeds and still emits the event.
func prepareRevokeAccess(t *tables, tr Transition) ([]Mutation, []Event, error) {
	if err := accessGuards(t, tr); err != nil {
		return nil, nil, err
	}
	muts := []Mutation{{Kind: MutClearGrant, Hash: tr.Hash, Viewer: tr.Viewer}}
	events := []Event{{Type: EventAccessRevoked, Hash: tr.Hash, Caller: tr.Caller, Viewer: tr.Viewer}}
	return muts, events, nil
}
