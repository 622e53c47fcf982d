//go:build integration

package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/gezibash/arc-provenance/internal/statestore/physical"
	"github.com/gezibash/arc-provenance/internal/statestore/physical/physicaltest"
)

func startRedis(t *testing.T) *redis.Options {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	opts, err := redis.ParseURL(connStr)
	if err != nil {
		t.Fatalf("failed to parse redis URL: %v", err)
	}
	return opts
}

func TestConformance(t *testing.T) {
	opts := startRedis(t)
	var n atomic.Int64

	// Each backend gets its own key prefix on the shared server.
	physicaltest.Run(t, func(tb testing.TB) physical.Backend {
		prefix := fmt.Sprintf("test%d:", n.Add(1))
		return NewWithClient(redis.NewClient(opts), prefix)
	})
}

func TestFactory(t *testing.T) {
	opts := startRedis(t)
	be, err := NewFactory(context.Background(), map[string]string{KeyAddr: opts.Addr, KeyKeyPrefix: "factory:"})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	defer be.Close()
	if err := be.Commit(context.Background(), []physical.Op{physical.Put([]byte("k"), []byte("v"))}); err != nil {
		t.Fatal(err)
	}
}
