package api

import (
	"fmt"

	"github.com/gezibash/arc-provenance/internal/feed"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/statestore"
	"github.com/gezibash/arc-provenance/pkg/wire"
)

func toWireEvent(e registry.Event) wire.Event {
	out := wire.Event{
		Type:    string(e.Type),
		Role:    string(e.Role),
		Pointer: e.Pointer,
		KeyBlob: e.KeyBlob,
	}
	if !e.Account.IsZero() {
		out.Account = e.Account.String()
	}
	if !e.Caller.IsZero() {
		out.Caller = e.Caller.String()
	}
	if !e.Owner.IsZero() {
		out.Owner = e.Owner.String()
	}
	if !e.Hash.IsZero() {
		out.Hash = e.Hash.String()
	}
	if !e.Viewer.IsZero() {
		out.Viewer = e.Viewer.String()
	}
	return out
}

func toWireEvents(events []registry.Event) []wire.Event {
	out := make([]wire.Event, len(events))
	for i, e := range events {
		out[i] = toWireEvent(e)
	}
	return out
}

func toWireReceipt(rc registry.Receipt) wire.Receipt {
	return wire.Receipt{
		Height:    rc.Height,
		Timestamp: rc.Timestamp,
		Op:        string(rc.Op),
		Caller:    rc.Caller.String(),
		Events:    toWireEvents(rc.Events),
	}
}

func toWireDocument(d registry.Document) wire.Document {
	return wire.Document{
		Hash:      d.Hash.String(),
		Owner:     d.Owner.String(),
		Issuer:    d.Issuer.String(),
		Pointer:   d.Pointer,
		CreatedAt: d.CreatedAt,
	}
}

func toWireEntry(e statestore.Entry) wire.JournalEntry {
	return wire.JournalEntry{
		Height:    e.Transition.Height,
		Timestamp: e.Transition.Timestamp,
		Op:        string(e.Transition.Op),
		Caller:    e.Transition.Caller.String(),
		Events:    toWireEvents(e.Events),
	}
}

func toWireRecord(r feed.Record) wire.StreamRecord {
	return wire.StreamRecord{
		Height:    r.Height,
		Timestamp: r.Timestamp,
		Op:        string(r.Op),
		Index:     r.Index,
		Event:     toWireEvent(r.Event),
	}
}

func principalStrings(ps []registry.Principal) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}

func hashStrings(hs []registry.Hash) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.String()
	}
	return out
}

// badRequest is a malformed request that never reached the registry.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

func parsePrincipal(field, s string) (registry.Principal, error) {
	if s == "" {
		return registry.Principal{}, nil
	}
	p, err := registry.ParsePrincipal(s)
	if err != nil {
		return p, badRequestf("%s: %v", field, err)
	}
	return p, nil
}

func parseHash(field, s string) (registry.Hash, error) {
	if s == "" {
		return registry.Hash{}, nil
	}
	h, err := registry.ParseHash(s)
	if err != nil {
		return h, badRequestf("%s: %v", field, err)
	}
	return h, nil
}

var submittable = map[string]registry.Op{
	wire.OpGrantRole:           registry.OpGrantRole,
	wire.OpRevokeRole:          registry.OpRevokeRole,
	wire.OpRegisterDocumentFor: registry.OpRegisterDocumentFor,
	wire.OpGrantAccess:         registry.OpGrantAccess,
	wire.OpRevokeAccess:        registry.OpRevokeAccess,
}

// toTransition parses a request body. Empty principal or hash fields parse
// to the zero value so the registry reports them with its own error kinds.
func toTransition(req wire.TransitionRequest) (registry.Transition, error) {
	op, ok := submittable[req.Op]
	if !ok {
		return registry.Transition{}, badRequestf("unknown op %q", req.Op)
	}
	tr := registry.Transition{
		Op:      op,
		Role:    registry.ParseRole(req.Role),
		Pointer: req.Pointer,
		KeyBlob: req.KeyBlob,
	}
	var err error
	if tr.Account, err = parsePrincipal("account", req.Account); err != nil {
		return tr, err
	}
	if tr.Owner, err = parsePrincipal("owner", req.Owner); err != nil {
		return tr, err
	}
	if tr.Viewer, err = parsePrincipal("viewer", req.Viewer); err != nil {
		return tr, err
	}
	if tr.Hash, err = parseHash("hash", req.Hash); err != nil {
		return tr, err
	}
	return tr, nil
}
