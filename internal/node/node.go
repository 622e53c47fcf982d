package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gezibash/arc-provenance/internal/api"
	"github.com/gezibash/arc-provenance/internal/config"
	"github.com/gezibash/arc-provenance/internal/feed"
	"github.com/gezibash/arc-provenance/internal/feed/kafka"
	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/sequencer"
	"github.com/gezibash/arc-provenance/internal/statestore"
	"github.com/gezibash/arc-provenance/pkg/identity"
)

// ErrNotInitialized is reported by Ready until genesis has run.
var ErrNotInitialized = errors.New("registry not initialized")

// Node is a running registry node. Components are registered with the
// observability shutdown coordinator so that closing it stops the relay's
// dependencies in reverse order of creation.
type Node struct {
	Store     *statestore.Store
	Sequencer *sequencer.Sequencer
	Feed      *feed.Feed
	Relay     *api.Server
}

// New opens the configured backend, restores committed state, attaches the
// feed sinks, applies genesis when an admin is configured and the registry
// is empty, and builds the relay.
func New(ctx context.Context, cfg config.Config, obs *observability.Observability, version string) (*Node, error) {
	store, err := NewStateStore(ctx, cfg.DataDir, &cfg.Storage, obs.Metrics)
	if err != nil {
		return nil, err
	}
	obs.Shutdown.Register("statestore", func(context.Context) error {
		return store.Close()
	})

	machine, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	slog.Info("state loaded",
		"backend", cfg.Storage.Backend,
		"height", machine.Height(),
		"initialized", machine.Initialized(),
	)

	f, err := feed.New(feed.Config{BufferSize: cfg.Feed.BufferSize}, obs.Metrics)
	if err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}
	obs.Shutdown.Register("feed", func(context.Context) error {
		return f.Close()
	})

	if len(cfg.Feed.Kafka.Brokers) > 0 {
		sink, err := newKafkaSink(ctx, cfg.Feed.Kafka)
		if err != nil {
			return nil, err
		}
		f.AddSink(sink)
	}

	seq, err := sequencer.New(ctx, machine, store, sequencer.Options{
		Publisher: f,
		Metrics:   obs.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("start sequencer: %w", err)
	}
	obs.Shutdown.Register("sequencer", func(context.Context) error {
		return seq.Close()
	})

	if err := applyGenesis(ctx, seq, cfg.Genesis.Admin); err != nil {
		return nil, err
	}

	relay := api.New(seq, store, f, obs.Metrics, api.Config{
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		ClockSkew:    cfg.HTTP.ClockSkew,
		Backend:      cfg.Storage.Backend,
		Version:      version,
	})

	return &Node{Store: store, Sequencer: seq, Feed: f, Relay: relay}, nil
}

// Ready reports whether the registry accepts transitions.
func (n *Node) Ready() error {
	if !n.Sequencer.Machine().Initialized() {
		return ErrNotInitialized
	}
	return nil
}

func newKafkaSink(ctx context.Context, cfg config.KafkaConfig) (*kafka.Sink, error) {
	sink, err := kafka.New(kafka.Config{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		ClientID: cfg.ClientID,
		Encoding: cfg.Encoding,
	})
	if err != nil {
		return nil, err
	}
	if cfg.CreateTopic {
		partitions, replication := cfg.Partitions, cfg.ReplicationFactor
		if partitions <= 0 {
			partitions = 1
		}
		if replication <= 0 {
			replication = 1
		}
		if err := sink.EnsureTopic(ctx, partitions, replication); err != nil {
			_ = sink.Close()
			return nil, err
		}
	}
	return sink, nil
}

func applyGenesis(ctx context.Context, seq *sequencer.Sequencer, admin string) error {
	if admin == "" {
		if !seq.Machine().Initialized() {
			slog.Warn("registry not initialized and no genesis admin configured")
		}
		return nil
	}
	p, err := ParseAdmin(admin)
	if err != nil {
		return err
	}
	if seq.Machine().Initialized() {
		if !seq.Machine().HasRole(registry.RoleAdmin, p) {
			slog.Warn("configured genesis admin ignored: registry already initialized", "admin", p)
		}
		return nil
	}

	rc, err := seq.Genesis(ctx, p)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	slog.Info("genesis applied", "admin", p, "height", rc.Height)
	return nil
}

// ParseAdmin accepts a principal address or an algo:hex public key and
// returns the principal.
func ParseAdmin(s string) (registry.Principal, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		pk, err := identity.DecodePublicKey(s)
		if err != nil {
			return registry.Principal{}, fmt.Errorf("genesis admin: %w", err)
		}
		if err := pk.Validate(); err != nil {
			return registry.Principal{}, fmt.Errorf("genesis admin: %w", err)
		}
		return registry.Principal(pk.Address()), nil
	}
	p, err := registry.ParsePrincipal(s)
	if err != nil {
		return registry.Principal{}, fmt.Errorf("genesis admin: %w", err)
	}
	if p.IsZero() {
		return registry.Principal{}, errors.New("genesis admin: zero principal")
	}
	return p, nil
}
