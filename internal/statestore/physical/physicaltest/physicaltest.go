// Package physicaltest provides the shared conformance suite and benchmark
// scaffolding for statestore backends.
package physicaltest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gezibash/arc-provenance/internal/statestore/physical"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t testing.TB) physical.Backend

// Run exercises the behavior every backend must provide.
func Run(t *testing.T, newBackend Factory) {
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newBackend(t)) })
	t.Run("CommitAndGet", func(t *testing.T) { testCommitAndGet(t, newBackend(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newBackend(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newBackend(t)) })
	t.Run("ScanOrder", func(t *testing.T) { testScanOrder(t, newBackend(t)) })
	t.Run("ScanStop", func(t *testing.T) { testScanStop(t, newBackend(t)) })
	t.Run("ScanEmptyPrefix", func(t *testing.T) { testScanEmptyPrefix(t, newBackend(t)) })
	t.Run("BinaryValues", func(t *testing.T) { testBinaryValues(t, newBackend(t)) })
	t.Run("ConcurrentCommits", func(t *testing.T) { testConcurrentCommits(t, newBackend(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newBackend(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newBackend(t)) })
}

func mustCommit(t testing.TB, be physical.Backend, ops ...physical.Op) {
	t.Helper()
	if err := be.Commit(context.Background(), ops); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func collect(t testing.TB, be physical.Backend, prefix string) []string {
	t.Helper()
	var keys []string
	err := be.Scan(context.Background(), []byte(prefix), func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	if err != nil {
		t.Fatalf("Scan(%q): %v", prefix, err)
	}
	return keys
}

func testGetNotFound(t *testing.T, be physical.Backend) {
	defer be.Close()
	if _, err := be.Get(context.Background(), []byte("missing")); !errors.Is(err, physical.ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func testCommitAndGet(t *testing.T, be physical.Backend) {
	defer be.Close()
	mustCommit(t, be,
		physical.Put([]byte("doc/a"), []byte("1")),
		physical.Put([]byte("doc/b"), []byte("2")),
	)
	for k, want := range map[string]string{"doc/a": "1", "doc/b": "2"} {
		got, err := be.Get(context.Background(), []byte(k))
		if err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
		if string(got) != want {
			t.Fatalf("Get(%s) = %q, want %q", k, got, want)
		}
	}
}

func testOverwrite(t *testing.T, be physical.Backend) {
	defer be.Close()
	mustCommit(t, be, physical.Put([]byte("k"), []byte("old")))
	mustCommit(t, be, physical.Put([]byte("k"), []byte("new")))
	got, err := be.Get(context.Background(), []byte("k"))
	if err != nil || string(got) != "new" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if keys := collect(t, be, ""); len(keys) != 1 {
		t.Fatalf("overwrite duplicated key: %v", keys)
	}
}

func testDelete(t *testing.T, be physical.Backend) {
	defer be.Close()
	mustCommit(t, be, physical.Put([]byte("grant/h/v"), []byte("blob")))
	mustCommit(t, be, physical.Delete([]byte("grant/h/v")), physical.Delete([]byte("never-existed")))
	if _, err := be.Get(context.Background(), []byte("grant/h/v")); !errors.Is(err, physical.ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if keys := collect(t, be, "grant/"); len(keys) != 0 {
		t.Fatalf("deleted key still scanned: %v", keys)
	}
}

func testScanOrder(t *testing.T, be physical.Backend) {
	defer be.Close()
	mustCommit(t, be,
		physical.Put([]byte("log/0000000000000003"), []byte("c")),
		physical.Put([]byte("log/0000000000000001"), []byte("a")),
		physical.Put([]byte("log/0000000000000002"), []byte("b")),
		physical.Put([]byte("lof"), []byte("before")),
		physical.Put([]byte("log0"), []byte("after")),
		physical.Put([]byte("meta/height"), []byte("3")),
	)
	got := collect(t, be, "log/")
	want := []string{"log/0000000000000001", "log/0000000000000002", "log/0000000000000003"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Scan = %v, want %v", got, want)
	}

	var values []string
	_ = be.Scan(context.Background(), []byte("log/"), func(_, v []byte) error {
		values = append(values, string(v))
		return nil
	})
	if fmt.Sprint(values) != "[a b c]" {
		t.Fatalf("values = %v", values)
	}
}

func testScanStop(t *testing.T, be physical.Backend) {
	defer be.Close()
	for i := range 5 {
		mustCommit(t, be, physical.Put(fmt.Appendf(nil, "k/%d", i), []byte("v")))
	}
	stop := errors.New("stop")
	seen := 0
	err := be.Scan(context.Background(), []byte("k/"), func(_, _ []byte) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Scan = %v, want callback error", err)
	}
	if seen != 2 {
		t.Fatalf("callback ran %d times after stop", seen)
	}
}

func testScanEmptyPrefix(t *testing.T, be physical.Backend) {
	defer be.Close()
	mustCommit(t, be,
		physical.Put([]byte("b"), []byte("2")),
		physical.Put([]byte("a"), []byte("1")),
	)
	if got := collect(t, be, ""); fmt.Sprint(got) != "[a b]" {
		t.Fatalf("Scan all = %v", got)
	}
}

func testBinaryValues(t *testing.T, be physical.Backend) {
	defer be.Close()
	value := []byte{0, 1, 0xff, 0, '\n', 0x80}
	mustCommit(t, be, physical.Put([]byte("bin"), value))
	got, err := be.Get(context.Background(), []byte("bin"))
	if err != nil || !bytes.Equal(got, value) {
		t.Fatalf("Get = %x, %v", got, err)
	}
	mustCommit(t, be, physical.Put([]byte("empty"), []byte{}))
	got, err = be.Get(context.Background(), []byte("empty"))
	if err != nil || len(got) != 0 {
		t.Fatalf("empty value: %x, %v", got, err)
	}
}

func testConcurrentCommits(t *testing.T, be physical.Backend) {
	defer be.Close()
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				ops := []physical.Op{
					physical.Put(fmt.Appendf(nil, "w/%d/%03d/a", w, i), []byte("a")),
					physical.Put(fmt.Appendf(nil, "w/%d/%03d/b", w, i), []byte("b")),
				}
				if err := be.Commit(context.Background(), ops); err != nil {
					t.Errorf("Commit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if keys := collect(t, be, "w/"); len(keys) != 4*25*2 {
		t.Fatalf("expected %d keys, got %d", 4*25*2, len(keys))
	}
}

func testStats(t *testing.T, be physical.Backend) {
	defer be.Close()
	mustCommit(t, be, physical.Put([]byte("a"), []byte("1")), physical.Put([]byte("b"), []byte("2")))
	st, err := be.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.BackendType == "" {
		t.Fatal("Stats.BackendType is empty")
	}
	if st.Keys != 2 {
		t.Fatalf("Stats.Keys = %d, want 2", st.Keys)
	}
}

func testClosed(t *testing.T, be physical.Backend) {
	if err := be.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := be.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	ctx := context.Background()
	if _, err := be.Get(ctx, []byte("k")); !errors.Is(err, physical.ErrClosed) {
		t.Fatalf("Get after close = %v", err)
	}
	if err := be.Commit(ctx, []physical.Op{physical.Put([]byte("k"), nil)}); !errors.Is(err, physical.ErrClosed) {
		t.Fatalf("Commit after close = %v", err)
	}
	if err := be.Scan(ctx, nil, func(_, _ []byte) error { return nil }); !errors.Is(err, physical.ErrClosed) {
		t.Fatalf("Scan after close = %v", err)
	}
}

// Bench runs the shared write and scan benchmarks against a backend.
func Bench(b *testing.B, newBackend Factory) {
	for _, size := range []int{100, 1_000} {
		b.Run(fmt.Sprintf("Commit/batch=%d", size), func(b *testing.B) {
			be := newBackend(b)
			defer be.Close()
			ops := make([]physical.Op, size)
			b.ResetTimer()
			for n := range b.N {
				for i := range ops {
					ops[i] = physical.Put(fmt.Appendf(nil, "bench/%08d/%06d", n, i), []byte("value"))
				}
				if err := be.Commit(context.Background(), ops); err != nil {
					b.Fatal(err)
				}
			}
		})
		b.Run(fmt.Sprintf("Scan/keys=%d", size), func(b *testing.B) {
			be := newBackend(b)
			defer be.Close()
			ops := make([]physical.Op, size)
			for i := range ops {
				ops[i] = physical.Put(fmt.Appendf(nil, "scan/%06d", i), []byte("value"))
			}
			if err := be.Commit(context.Background(), ops); err != nil {
				b.Fatal(err)
			}
			b.ResetTimer()
			for range b.N {
				if err := be.Scan(context.Background(), []byte("scan/"), func(_, _ []byte) error { return nil }); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
