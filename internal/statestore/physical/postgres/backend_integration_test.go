//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gezibash/arc-provenance/internal/statestore/physical"
	"github.com/gezibash/arc-provenance/internal/statestore/physical/physicaltest"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("provenance"),
		tcpostgres.WithUsername("provenance"),
		tcpostgres.WithPassword("provenance"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	return dsn
}

func TestConformance(t *testing.T) {
	dsn := startPostgres(t)
	var n atomic.Int64

	physicaltest.Run(t, func(tb testing.TB) physical.Backend {
		pool, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			tb.Fatalf("pool: %v", err)
		}
		be, err := NewWithPool(context.Background(), pool, fmt.Sprintf("kv_%d", n.Add(1)))
		if err != nil {
			pool.Close()
			tb.Fatalf("NewWithPool: %v", err)
		}
		return be
	})
}

func TestFactoryPersistence(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	cfg := map[string]string{KeyDSN: dsn, KeyTable: "persist"}

	be, err := NewFactory(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	if err := be.Commit(ctx, []physical.Op{physical.Put([]byte("a"), []byte("1"))}); err != nil {
		t.Fatal(err)
	}
	_ = be.Close()

	be, err = NewFactory(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer be.Close()
	v, err := be.Get(ctx, []byte("a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("Get = %q, %v", v, err)
	}
}
