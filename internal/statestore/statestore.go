// Package statestore persists committed registry state and the ordered
// transition journal on a physical key/value backend.
//
// Every committed transition is written as a single atomic batch holding its
// state mutations, its journal entry, the new height and timestamp, and the
// caller's nonce. A store therefore always reflects a prefix of the journal.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/statestore/physical"
)

// Entry is one journal record: a committed transition, the nonce it
// consumed, and the events it emitted.
type Entry struct {
	Transition registry.Transition `json:"transition"`
	Nonce      uint64              `json:"nonce,omitempty"`
	Events     []registry.Event    `json:"events"`
}

// Store is the durable side of a registry machine.
type Store struct {
	backend physical.Backend
	metrics *observability.Metrics
}

// New wraps a physical backend.
func New(backend physical.Backend, metrics *observability.Metrics) *Store {
	return &Store{backend: backend, metrics: metrics}
}

// Load reads the committed state into a new machine.
func (s *Store) Load(ctx context.Context) (m *registry.Machine, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "statestore.load")
	defer func() { op.End(err) }()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	m = registry.NewMachine()
	if err := m.Restore(snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	op.SetAttributes(attribute.Int64("height", int64(snap.Height)))
	slog.InfoContext(ctx, "state loaded",
		"height", snap.Height,
		"documents", len(snap.Documents),
		"grants", len(snap.Grants),
	)
	return m, nil
}

func (s *Store) snapshot(ctx context.Context) (registry.Snapshot, error) {
	snap := registry.Snapshot{}

	height, err := s.getUint(ctx, []byte(keyHeight))
	if err != nil {
		return snap, err
	}
	ts, err := s.getUint(ctx, []byte(keyTimestamp))
	if err != nil {
		return snap, err
	}
	snap.Height = height
	snap.Timestamp = int64(ts)
	snap.Initialized = height > 0

	err = s.backend.Scan(ctx, []byte(prefixRole), func(key, _ []byte) error {
		role, p, err := parseRoleKey(key)
		if err != nil {
			return err
		}
		snap.Roles = append(snap.Roles, registry.RoleAssignment{Role: role, Principal: p})
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load roles: %w", err)
	}

	err = s.backend.Scan(ctx, []byte(prefixDoc), func(key, value []byte) error {
		var d registry.Document
		if err := json.Unmarshal(value, &d); err != nil {
			return fmt.Errorf("%w: document %q: %v", ErrCorrupt, key, err)
		}
		snap.Documents = append(snap.Documents, d)
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load documents: %w", err)
	}

	owners := make(map[registry.Principal][]registry.Hash)
	var order []registry.Principal
	err = s.backend.Scan(ctx, []byte(prefixOwner), func(key, value []byte) error {
		owner, idx, err := parseOwnerKey(key)
		if err != nil {
			return err
		}
		if len(value) != len(registry.Hash{}) {
			return fmt.Errorf("%w: owner entry %q has %d bytes", ErrCorrupt, key, len(value))
		}
		if _, seen := owners[owner]; !seen {
			order = append(order, owner)
		}
		if idx != len(owners[owner]) {
			return fmt.Errorf("%w: owner index %s has a gap at %d", ErrCorrupt, owner, idx)
		}
		owners[owner] = append(owners[owner], registry.Hash(value))
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load owner index: %w", err)
	}
	for _, o := range order {
		snap.Owners = append(snap.Owners, registry.OwnerIndex{Owner: o, Hashes: owners[o]})
	}

	err = s.backend.Scan(ctx, []byte(prefixGrant), func(key, value []byte) error {
		h, viewer, err := parseGrantKey(key)
		if err != nil {
			return err
		}
		snap.Grants = append(snap.Grants, registry.GrantEntry{Hash: h, Viewer: viewer, KeyBlob: value})
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load grants: %w", err)
	}
	return snap, nil
}

// Commit durably writes a prepared changeset. nonce is the caller nonce the
// transition consumed; zero records none. The registry machine must only
// commit the changeset after this returns nil.
func (s *Store) Commit(ctx context.Context, cs *registry.Changeset, nonce uint64) (err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "statestore.commit",
		attribute.String("op", string(cs.Transition().Op)),
		attribute.Int64("height", int64(cs.Transition().Height)),
	)
	defer func() { op.End(err) }()

	ops, err := changesetOps(cs, nonce)
	if err != nil {
		return err
	}
	if err = s.backend.Commit(ctx, ops); err != nil {
		return fmt.Errorf("commit height %d: %w", cs.Transition().Height, err)
	}
	return nil
}

func changesetOps(cs *registry.Changeset, nonce uint64) ([]physical.Op, error) {
	tr := cs.Transition()
	muts := cs.Mutations()
	ops := make([]physical.Op, 0, len(muts)+4)

	for _, m := range muts {
		switch m.Kind {
		case registry.MutSetRole:
			if m.Member {
				ops = append(ops, physical.Put(roleKey(m.Role, m.Principal), []byte{}))
			} else {
				ops = append(ops, physical.Delete(roleKey(m.Role, m.Principal)))
			}
		case registry.MutPutDocument:
			doc, err := json.Marshal(m.Document)
			if err != nil {
				return nil, fmt.Errorf("encode document: %w", err)
			}
			ops = append(ops,
				physical.Put(docKey(m.Document.Hash), doc),
				physical.Put(ownerKey(m.Document.Owner, m.OwnerIndex), m.Document.Hash[:]),
			)
		case registry.MutSetGrant:
			ops = append(ops, physical.Put(grantKey(m.Hash, m.Viewer), m.KeyBlob))
		case registry.MutClearGrant:
			ops = append(ops, physical.Delete(grantKey(m.Hash, m.Viewer)))
		default:
			return nil, fmt.Errorf("unknown mutation %s", m.Kind)
		}
	}

	entry, err := json.Marshal(Entry{Transition: tr, Nonce: nonce, Events: cs.Events()})
	if err != nil {
		return nil, fmt.Errorf("encode journal entry: %w", err)
	}
	ops = append(ops,
		physical.Put(logKey(tr.Height), entry),
		physical.Put([]byte(keyHeight), encodeUint(tr.Height)),
		physical.Put([]byte(keyTimestamp), encodeUint(uint64(tr.Timestamp))),
	)
	if nonce > 0 {
		ops = append(ops, physical.Put(nonceKey(tr.Caller), encodeUint(nonce)))
	}
	return ops, nil
}

// Height returns the persisted height.
func (s *Store) Height(ctx context.Context) (uint64, error) {
	return s.getUint(ctx, []byte(keyHeight))
}

// Nonce returns the last nonce committed for p, zero if none.
func (s *Store) Nonce(ctx context.Context, p registry.Principal) (uint64, error) {
	return s.getUint(ctx, nonceKey(p))
}

// Nonces returns every committed nonce.
func (s *Store) Nonces(ctx context.Context) (map[registry.Principal]uint64, error) {
	out := make(map[registry.Principal]uint64)
	err := s.backend.Scan(ctx, []byte(prefixNonce), func(key, value []byte) error {
		p, err := registry.ParsePrincipal(string(key[len(prefixNonce):]))
		if err != nil {
			return fmt.Errorf("%w: nonce key %q: %v", ErrCorrupt, key, err)
		}
		n, err := decodeUint(value)
		if err != nil {
			return err
		}
		out[p] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load nonces: %w", err)
	}
	return out, nil
}

var errStopScan = errors.New("stop scan")

// Entries returns up to limit journal entries with height greater than
// after, in height order. A non-positive limit returns all of them.
func (s *Store) Entries(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	entries := []Entry{}
	err := s.scanLog(ctx, after, func(e Entry) error {
		entries = append(entries, e)
		if limit > 0 && len(entries) >= limit {
			return errStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) scanLog(ctx context.Context, after uint64, fn func(Entry) error) error {
	err := s.backend.Scan(ctx, []byte(prefixLog), func(key, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("%w: journal entry %q: %v", ErrCorrupt, key, err)
		}
		if e.Transition.Height <= after {
			return nil
		}
		return fn(e)
	})
	if errors.Is(err, errStopScan) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	return nil
}

// Stats reports backend statistics.
func (s *Store) Stats(ctx context.Context) (*physical.Stats, error) {
	return s.backend.Stats(ctx)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) getUint(ctx context.Context, key []byte) (uint64, error) {
	v, err := s.backend.Get(ctx, key)
	if errors.Is(err, physical.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return decodeUint(v)
}
