// Package node assembles a registry node: state store, sequencer, event
// feed with its sinks, and the HTTP relay.
package node

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"

	"github.com/gezibash/arc-provenance/internal/config"
	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/statestore"
	"github.com/gezibash/arc-provenance/internal/statestore/physical"

	_ "github.com/gezibash/arc-provenance/internal/statestore/physical/badger"
	_ "github.com/gezibash/arc-provenance/internal/statestore/physical/memory"
	_ "github.com/gezibash/arc-provenance/internal/statestore/physical/postgres"
	_ "github.com/gezibash/arc-provenance/internal/statestore/physical/redis"
	_ "github.com/gezibash/arc-provenance/internal/statestore/physical/sqlite"
)

// NewStateStore opens the configured backend. A file-backed backend with no
// configured path lives under dataDir.
func NewStateStore(ctx context.Context, dataDir string, cfg *config.BackendConfig, metrics *observability.Metrics) (*statestore.Store, error) {
	opts := maps.Clone(cfg.Config)
	if opts == nil {
		opts = make(map[string]string, 1)
	}
	if d, ok := physical.Lookup(cfg.Backend); ok && d.LocalFile != "" && dataDir != "" && opts["path"] == "" {
		opts["path"] = filepath.Join(dataDir, d.LocalFile)
	}

	backend, err := physical.New(ctx, cfg.Backend, opts, metrics)
	if err != nil {
		return nil, fmt.Errorf("open statestore: %w", err)
	}
	return statestore.New(backend, metrics), nil
}
