package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gezibash/arc-provenance/internal/statestore/physical"
	"github.com/gezibash/arc-provenance/internal/statestore/physical/physicaltest"
	"github.com/gezibash/arc-provenance/internal/storage"
)

func newTestBackend(t testing.TB) physical.Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	be, err := NewFactory(context.Background(), map[string]string{KeyPath: path})
	if err != nil {
		t.Fatal(err)
	}
	return be
}

func TestConformance(t *testing.T) {
	physicaltest.Run(t, newTestBackend)
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()

	be, err := NewFactory(ctx, map[string]string{KeyPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := be.Commit(ctx, []physical.Op{physical.Put([]byte("doc/x"), []byte("{}"))}); err != nil {
		t.Fatal(err)
	}
	be.Close()

	be, err = NewFactory(ctx, map[string]string{KeyPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer be.Close()
	if got, err := be.Get(ctx, []byte("doc/x")); err != nil || string(got) != "{}" {
		t.Fatalf("Get after reopen = %q, %v", got, err)
	}
}

func TestFactoryConfigErrors(t *testing.T) {
	_, err := NewFactory(context.Background(), map[string]string{KeyPath: ""})
	var cfgErr *storage.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	_, err = NewFactory(context.Background(), map[string]string{
		KeyPath:        filepath.Join(t.TempDir(), "x.db"),
		KeyBusyTimeout: "soon",
	})
	if !errors.As(err, &cfgErr) || cfgErr.Field != KeyBusyTimeout {
		t.Fatalf("expected busy_timeout ConfigError, got %v", err)
	}

	_, err = NewFactory(context.Background(), map[string]string{
		KeyPath:        filepath.Join(t.TempDir(), "x.db"),
		KeyJournalMode: "wal); drop table kv; --",
	})
	if !errors.As(err, &cfgErr) || cfgErr.Field != KeyJournalMode {
		t.Fatalf("expected journal_mode ConfigError, got %v", err)
	}
}

func BenchmarkAll(b *testing.B) {
	physicaltest.Bench(b, newTestBackend)
}
