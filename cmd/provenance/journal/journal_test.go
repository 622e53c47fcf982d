package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/statestore"
	"github.com/gezibash/arc-provenance/internal/statestore/physical/memory"
)

func seededStore(t *testing.T) *statestore.Store {
	t.Helper()
	ctx := context.Background()
	store := statestore.New(memory.New(), observability.NewMetrics())
	m, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var admin registry.Principal
	admin[0] = 1
	cs, err := m.Prepare(registry.Transition{Height: 1, Timestamp: 1, Op: registry.OpGenesis, Caller: admin, Account: admin})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(ctx, cs, 0); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestExportFileAndReplay(t *testing.T) {
	store := seededStore(t)
	path := filepath.Join(t.TempDir(), "journal.jsonl.xz")

	n, err := exportFile(context.Background(), store, path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("exported %d entries, want 1", n)
	}

	r, closeFn, err := openInput(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	m, err := statestore.Replay(r)
	if err != nil {
		t.Fatal(err)
	}
	if m.Height() != 1 {
		t.Errorf("replayed height = %d", m.Height())
	}
}

func TestExportFileRefusesOverwrite(t *testing.T) {
	store := seededStore(t)
	path := filepath.Join(t.TempDir(), "journal.jsonl.xz")
	if err := os.WriteFile(path, []byte("keep"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := exportFile(context.Background(), store, path); err == nil {
		t.Fatal("expected error for existing file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "keep" {
		t.Error("existing file was modified")
	}
}

func TestOpenInputMissing(t *testing.T) {
	if _, _, err := openInput(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error")
	}
}
