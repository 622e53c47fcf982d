package statestore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/statestore/physical"
	"github.com/gezibash/arc-provenance/internal/statestore/physical/memory"
)

func TestExportReplay(t *testing.T) {
	f := newFixture(t)
	f.populate()

	var buf bytes.Buffer
	n, err := f.store.Export(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 10 {
		t.Fatalf("exported %d entries, want 10", n)
	}

	m, err := Replay(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if m.Digest() != f.m.Digest() {
		t.Fatal("replayed digest differs")
	}
}

func TestExportEmpty(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	n, err := f.store.Export(context.Background(), &buf)
	if err != nil || n != 0 {
		t.Fatalf("Export = %d, %v", n, err)
	}
	m, err := Replay(&buf)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if m.Initialized() {
		t.Fatal("empty journal produced an initialized machine")
	}
}

func TestImport(t *testing.T) {
	src := newFixture(t)
	src.populate()
	var buf bytes.Buffer
	if _, err := src.store.Export(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}
	journal := buf.Bytes()

	dst := newFixture(t)
	ctx := context.Background()
	m, err := dst.store.Import(ctx, bytes.NewReader(journal))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if m.Digest() != src.m.Digest() {
		t.Fatal("imported machine digest differs")
	}

	loaded, err := dst.store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Digest() != src.m.Digest() {
		t.Fatal("imported store digest differs")
	}
	if n, _ := dst.store.Nonce(ctx, owner); n != 3 {
		t.Fatalf("imported owner nonce = %d, want 3", n)
	}

	if _, err := dst.store.Import(ctx, bytes.NewReader(journal)); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("second Import = %v, want ErrNotEmpty", err)
	}
}

func TestReplayRejectsGarbage(t *testing.T) {
	if _, err := Replay(strings.NewReader("not xz")); err == nil {
		t.Fatal("expected error for non-xz input")
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	f.populate()
	ctx := context.Background()

	digest, err := f.store.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if digest != f.m.Digest() {
		t.Fatal("Verify returned a different digest")
	}

	// Drop a grant behind the journal's back.
	if err := f.backend.Commit(ctx, []physical.Op{physical.Delete(grantKey(docA, viewer))}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Verify(ctx); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("Verify after tamper = %v, want ErrDigestMismatch", err)
	}
}

func TestVerifyMissingJournalEntry(t *testing.T) {
	f := newFixture(t)
	f.populate()
	ctx := context.Background()

	if err := f.backend.Commit(ctx, []physical.Op{physical.Delete(logKey(10))}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Verify(ctx); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("Verify = %v, want ErrDigestMismatch", err)
	}
}

func TestReplayEventMismatch(t *testing.T) {
	m := registry.NewMachine()
	e := Entry{
		Transition: registry.Transition{Height: 1, Timestamp: 1, Op: registry.OpGenesis, Caller: admin, Account: admin},
		Events:     []registry.Event{{Type: registry.EventRoleRevoked}},
	}
	if _, err := replayEntry(m, e); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("replayEntry = %v, want ErrDigestMismatch", err)
	}
	if m.Initialized() {
		t.Fatal("mismatched entry was committed")
	}
}

func TestImportIntoClosedStore(t *testing.T) {
	be := memory.New()
	be.Close()
	s := New(be, nil)
	if _, err := s.Import(context.Background(), strings.NewReader("")); !errors.Is(err, physical.ErrClosed) {
		t.Fatalf("Import = %v, want ErrClosed", err)
	}
}
