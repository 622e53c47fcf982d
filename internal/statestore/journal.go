package statestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ulikunitz/xz"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
)

// Export writes the journal as xz-compressed JSON lines, one Entry per line,
// and returns the number of entries written.
func (s *Store) Export(ctx context.Context, w io.Writer) (n int, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "statestore.export")
	defer func() { op.End(err) }()

	xw, err := xz.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("xz writer: %w", err)
	}
	bw := bufio.NewWriter(xw)
	enc := json.NewEncoder(bw)

	err = s.scanLog(ctx, 0, func(e Entry) error {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode entry %d: %w", e.Transition.Height, err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	if err = bw.Flush(); err != nil {
		return n, fmt.Errorf("flush journal: %w", err)
	}
	if err = xw.Close(); err != nil {
		return n, fmt.Errorf("close xz stream: %w", err)
	}
	op.SetAttributes(attribute.Int("entries", n))
	return n, nil
}

// ReadJournal decodes an exported journal, calling fn for each entry in order.
func ReadJournal(r io.Reader, fn func(Entry) error) error {
	xr, err := xz.NewReader(r)
	if err != nil {
		return fmt.Errorf("xz reader: %w", err)
	}
	dec := json.NewDecoder(bufio.NewReader(xr))
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: decode journal: %v", ErrCorrupt, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// Replay applies every entry of an exported journal to a fresh machine and
// returns it. Each transition must be accepted and must emit the events
// recorded with it.
func Replay(r io.Reader) (*registry.Machine, error) {
	m := registry.NewMachine()
	err := ReadJournal(r, func(e Entry) error {
		_, err := replayEntry(m, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func replayEntry(m *registry.Machine, e Entry) (*registry.Changeset, error) {
	cs, err := m.Prepare(e.Transition)
	if err != nil {
		return nil, fmt.Errorf("replay height %d: %w", e.Transition.Height, err)
	}
	events := cs.Events()
	if len(events) != len(e.Events) {
		return nil, fmt.Errorf("%w: height %d emitted %d events, journal recorded %d",
			ErrDigestMismatch, e.Transition.Height, len(events), len(e.Events))
	}
	for i := range events {
		if events[i].Type != e.Events[i].Type {
			return nil, fmt.Errorf("%w: height %d event %d is %s, journal recorded %s",
				ErrDigestMismatch, e.Transition.Height, i, events[i].Type, e.Events[i].Type)
		}
	}
	if _, err := m.Commit(cs); err != nil {
		return nil, fmt.Errorf("replay height %d: %w", e.Transition.Height, err)
	}
	return cs, nil
}

// Import replays an exported journal into an empty store, writing each
// transition exactly as a live commit would. It returns the loaded machine.
func (s *Store) Import(ctx context.Context, r io.Reader) (m *registry.Machine, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "statestore.import")
	defer func() { op.End(err) }()

	height, err := s.Height(ctx)
	if err != nil {
		return nil, err
	}
	if height != 0 {
		return nil, fmt.Errorf("%w: height %d", ErrNotEmpty, height)
	}

	m = registry.NewMachine()
	err = ReadJournal(r, func(e Entry) error {
		cs, err := m.Prepare(e.Transition)
		if err != nil {
			return fmt.Errorf("import height %d: %w", e.Transition.Height, err)
		}
		if err := s.Commit(ctx, cs, e.Nonce); err != nil {
			return err
		}
		if _, err := m.Commit(cs); err != nil {
			return fmt.Errorf("import height %d: %w", e.Transition.Height, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	op.SetAttributes(attribute.Int64("height", int64(m.Height())))
	slog.InfoContext(ctx, "journal imported", "height", m.Height())
	return m, nil
}

// Verify replays the stored journal through a fresh machine and checks that
// it reproduces the stored state.
func (s *Store) Verify(ctx context.Context) (digest [32]byte, err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "statestore.verify")
	defer func() { op.End(err) }()

	loaded, err := s.Load(ctx)
	if err != nil {
		return digest, err
	}

	replayed := registry.NewMachine()
	err = s.scanLog(ctx, 0, func(e Entry) error {
		_, err := replayEntry(replayed, e)
		return err
	})
	if err != nil {
		return digest, err
	}

	if replayed.Height() != loaded.Height() {
		return digest, fmt.Errorf("%w: journal reaches height %d, state is at %d",
			ErrDigestMismatch, replayed.Height(), loaded.Height())
	}
	digest = loaded.Digest()
	if replayed.Digest() != digest {
		return digest, fmt.Errorf("%w at height %d", ErrDigestMismatch, loaded.Height())
	}
	return digest, nil
}
