package statestore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/statestore/physical"
	"github.com/gezibash/arc-provenance/internal/statestore/physical/memory"
)

func principal(b byte) registry.Principal {
	var p registry.Principal
	p[registry.PrincipalSize-1] = b
	return p
}

var (
	admin  = principal(0xa1)
	issuer = principal(0x15)
	owner  = principal(0x0e)
	viewer = principal(0x0f)
	docA   = registry.HashOf([]byte("a"))
	docB   = registry.HashOf([]byte("b"))
)

type fixture struct {
	t       *testing.T
	backend *memory.Backend
	store   *Store
	m       *registry.Machine
	nonces  map[registry.Principal]uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	be := memory.New()
	t.Cleanup(func() { be.Close() })
	return &fixture{
		t:       t,
		backend: be,
		store:   New(be, nil),
		m:       registry.NewMachine(),
		nonces:  make(map[registry.Principal]uint64),
	}
}

// commit drives a transition through the store and the machine the way the
// sequencer does.
func (f *fixture) commit(tr registry.Transition) {
	f.t.Helper()
	tr.Height = f.m.Height() + 1
	tr.Timestamp = 1_700_000_000 + int64(tr.Height)
	cs, err := f.m.Prepare(tr)
	if err != nil {
		f.t.Fatalf("prepare %s: %v", tr.Op, err)
	}
	var nonce uint64
	if tr.Op != registry.OpGenesis {
		f.nonces[tr.Caller]++
		nonce = f.nonces[tr.Caller]
	}
	if err := f.store.Commit(context.Background(), cs, nonce); err != nil {
		f.t.Fatalf("store commit: %v", err)
	}
	if _, err := f.m.Commit(cs); err != nil {
		f.t.Fatalf("machine commit: %v", err)
	}
}

func (f *fixture) populate() {
	f.commit(registry.Transition{Op: registry.OpGenesis, Caller: admin, Account: admin})
	f.commit(registry.Transition{Op: registry.OpGrantRole, Caller: admin, Role: registry.RoleIssuer, Account: issuer})
	f.commit(registry.Transition{Op: registry.OpGrantRole, Caller: admin, Role: "AUDITOR", Account: viewer})
	f.commit(registry.Transition{Op: registry.OpRevokeRole, Caller: admin, Role: "AUDITOR", Account: viewer})
	f.commit(registry.Transition{Op: registry.OpRegisterDocumentFor, Caller: issuer, Owner: owner, Hash: docA, Pointer: "ipfs://a"})
	f.commit(registry.Transition{Op: registry.OpRegisterDocumentFor, Caller: issuer, Owner: owner, Hash: docB})
	f.commit(registry.Transition{Op: registry.OpGrantAccess, Caller: owner, Hash: docA, Viewer: viewer, KeyBlob: []byte{1, 2, 3}})
	f.commit(registry.Transition{Op: registry.OpGrantAccess, Caller: owner, Hash: docB, Viewer: viewer})
	f.commit(registry.Transition{Op: registry.OpGrantAccess, Caller: issuer, Hash: docB, Viewer: admin, KeyBlob: []byte{9}})
	f.commit(registry.Transition{Op: registry.OpRevokeAccess, Caller: owner, Hash: docB, Viewer: admin})
}

func TestLoadEmpty(t *testing.T) {
	f := newFixture(t)
	m, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Initialized() || m.Height() != 0 {
		t.Fatalf("empty store loaded initialized=%v height=%d", m.Initialized(), m.Height())
	}
}

func TestLoadRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.populate()

	m, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Digest() != f.m.Digest() {
		t.Fatal("loaded digest differs from live machine")
	}
	if !m.Initialized() || m.Height() != 10 {
		t.Fatalf("initialized=%v height=%d", m.Initialized(), m.Height())
	}
	if m.HasRole("AUDITOR", viewer) {
		t.Fatal("revoked role survived reload")
	}
	if got := m.GetDocumentsByOwner(owner); len(got) != 2 || got[0] != docA || got[1] != docB {
		t.Fatalf("owner index = %v", got)
	}
	g := m.Grant(docA, viewer)
	if !g.Allowed || !bytes.Equal(g.KeyBlob, []byte{1, 2, 3}) {
		t.Fatalf("grant = %+v", g)
	}
	if !m.CanView(docB, viewer) {
		t.Fatal("empty-blob grant lost on reload")
	}
	if m.CanView(docB, admin) {
		t.Fatal("revoked grant survived reload")
	}
}

func TestNonce(t *testing.T) {
	f := newFixture(t)
	f.populate()
	ctx := context.Background()

	tests := []struct {
		p    registry.Principal
		want uint64
	}{
		{admin, 3},
		{issuer, 3},
		{owner, 3},
		{viewer, 0},
	}
	for _, tt := range tests {
		got, err := f.store.Nonce(ctx, tt.p)
		if err != nil {
			t.Fatalf("Nonce(%s): %v", tt.p, err)
		}
		if got != tt.want {
			t.Errorf("Nonce(%s) = %d, want %d", tt.p, got, tt.want)
		}
	}

	all, err := f.store.Nonces(ctx)
	if err != nil {
		t.Fatalf("Nonces: %v", err)
	}
	if len(all) != 3 || all[owner] != 3 {
		t.Fatalf("Nonces = %v", all)
	}
}

func TestEntries(t *testing.T) {
	f := newFixture(t)
	f.populate()
	ctx := context.Background()

	all, err := f.store.Entries(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("got %d entries, want 10", len(all))
	}
	for i, e := range all {
		if e.Transition.Height != uint64(i+1) {
			t.Fatalf("entry %d has height %d", i, e.Transition.Height)
		}
	}
	if all[0].Events[0].Type != registry.EventRoleGranted {
		t.Fatalf("genesis event = %s", all[0].Events[0].Type)
	}

	page, err := f.store.Entries(ctx, 4, 3)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(page) != 3 || page[0].Transition.Height != 5 || page[2].Transition.Height != 7 {
		t.Fatalf("page = %+v", page)
	}
	if page[0].Transition.Op != registry.OpRegisterDocumentFor {
		t.Fatalf("entry 5 op = %s", page[0].Transition.Op)
	}

	tail, err := f.store.Entries(ctx, 10, 5)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(tail) != 0 {
		t.Fatalf("expected no entries past the head, got %d", len(tail))
	}
}

func TestCommitClosedBackend(t *testing.T) {
	f := newFixture(t)
	f.commit(registry.Transition{Op: registry.OpGenesis, Caller: admin, Account: admin})
	f.commit(registry.Transition{Op: registry.OpGrantRole, Caller: admin, Role: registry.RoleIssuer, Account: issuer})

	cs, err := f.m.Prepare(registry.Transition{
		Height: 3, Timestamp: 1_700_000_003,
		Op: registry.OpRegisterDocumentFor, Caller: issuer, Owner: owner, Hash: docA,
	})
	if err != nil {
		t.Fatal(err)
	}

	f.backend.Close()
	if err := f.store.Commit(context.Background(), cs, 1); !errors.Is(err, physical.ErrClosed) {
		t.Fatalf("Commit on closed backend = %v, want ErrClosed", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		ops  []physical.Op
	}{
		{"bad height", []physical.Op{physical.Put([]byte(keyHeight), []byte{1})}},
		{"bad document", []physical.Op{physical.Put(docKey(docA), []byte("{"))}},
		{"bad role key", []physical.Op{physical.Put([]byte("role/ADMIN"), nil)}},
		{"bad grant key", []physical.Op{physical.Put([]byte("grant/0x12/0x34"), nil)}},
		{"owner gap", []physical.Op{physical.Put(ownerKey(owner, 1), docA[:])}},
		{"grant without document", []physical.Op{physical.Put(grantKey(docA, viewer), nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.backend.Commit(context.Background(), tt.ops); err != nil {
				t.Fatal(err)
			}
			_, err := f.store.Load(context.Background())
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("Load = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestKeyRoundTrip(t *testing.T) {
	role, p, err := parseRoleKey(roleKey(registry.RoleIssuer, issuer))
	if err != nil || role != registry.RoleIssuer || p != issuer {
		t.Fatalf("role key: %s %s %v", role, p, err)
	}
	o, idx, err := parseOwnerKey(ownerKey(owner, 300))
	if err != nil || o != owner || idx != 300 {
		t.Fatalf("owner key: %s %d %v", o, idx, err)
	}
	h, v, err := parseGrantKey(grantKey(docA, viewer))
	if err != nil || h != docA || v != viewer {
		t.Fatalf("grant key: %s %s %v", h, v, err)
	}
	if bytes.Compare(logKey(9), logKey(10)) >= 0 || bytes.Compare(ownerKey(owner, 15), ownerKey(owner, 16)) >= 0 {
		t.Fatal("numeric keys do not sort in numeric order")
	}
}
