// Package sequencer is the local ordering service for a single registry
// node. One goroutine owns every write: it assigns heights and logical
// timestamps, enforces per-principal nonces, persists each changeset, then
// commits it to the machine and publishes its events.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/statestore"
)

var (
	// ErrBadNonce is returned when a request's nonce is not the caller's
	// next nonce.
	ErrBadNonce = errors.New("sequencer: bad nonce")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("sequencer: closed")
	// ErrGenesisReserved is returned when genesis is submitted as a request.
	ErrGenesisReserved = errors.New("sequencer: genesis is applied with Genesis")
)

type nonceError struct{ got, want uint64 }

func (e *nonceError) Error() string {
	return fmt.Sprintf("%v: got %d, want %d", ErrBadNonce, e.got, e.want)
}

func (e *nonceError) Unwrap() error     { return ErrBadNonce }
func (e *nonceError) ErrorType() string { return "BadNonce" }

// Publisher receives every committed receipt in commit order.
type Publisher interface {
	Publish(ctx context.Context, rc registry.Receipt)
}

// Request is a signed mutating request. Caller is the authenticated
// submitter and overrides Transition.Caller; Height and Timestamp are
// assigned by the sequencer.
type Request struct {
	Caller     registry.Principal
	Nonce      uint64
	Transition registry.Transition
}

// Options configures a Sequencer.
type Options struct {
	Publisher Publisher
	Metrics   *observability.Metrics
	// Now supplies wall-clock time for timestamps. Defaults to time.Now.
	Now       func() time.Time
	QueueSize int
}

type pending struct {
	ctx     context.Context
	req     Request
	genesis bool
	result  chan outcome
}

type outcome struct {
	receipt registry.Receipt
	err     error
}

// Sequencer serializes writes to a machine and its store.
type Sequencer struct {
	machine *registry.Machine
	store   *statestore.Store
	pub     Publisher
	metrics *observability.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	nonces map[registry.Principal]uint64

	queue     chan *pending
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New loads the committed nonces from store and starts the writer.
// machine must reflect store's committed state.
func New(ctx context.Context, machine *registry.Machine, store *statestore.Store, opts Options) (*Sequencer, error) {
	nonces, err := store.Nonces(ctx)
	if err != nil {
		return nil, fmt.Errorf("load nonces: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	s := &Sequencer{
		machine: machine,
		store:   store,
		pub:     opts.Publisher,
		metrics: opts.Metrics,
		now:     opts.Now,
		nonces:  nonces,
		queue:   make(chan *pending, opts.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if s.metrics != nil {
		s.metrics.Height.Set(float64(machine.Height()))
	}
	go s.run()
	return s, nil
}

// Machine returns the machine the sequencer writes to. Reads against it are
// safe at any time.
func (s *Sequencer) Machine() *registry.Machine { return s.machine }

// Nonce returns the last committed nonce for p.
func (s *Sequencer) Nonce(p registry.Principal) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[p]
}

// Submit orders a request and waits for its outcome. If ctx ends after the
// request was queued, the request may still commit.
func (s *Sequencer) Submit(ctx context.Context, req Request) (registry.Receipt, error) {
	if req.Transition.Op == registry.OpGenesis {
		return registry.Receipt{}, ErrGenesisReserved
	}
	return s.submit(ctx, &pending{ctx: ctx, req: req})
}

// Genesis installs admin as the first administrator. It bypasses nonces.
func (s *Sequencer) Genesis(ctx context.Context, admin registry.Principal) (registry.Receipt, error) {
	return s.submit(ctx, &pending{
		ctx: ctx,
		req: Request{
			Caller:     admin,
			Transition: registry.Transition{Op: registry.OpGenesis, Account: admin},
		},
		genesis: true,
	})
}

func (s *Sequencer) submit(ctx context.Context, p *pending) (registry.Receipt, error) {
	p.result = make(chan outcome, 1)

	select {
	case <-s.stop:
		return registry.Receipt{}, ErrClosed
	default:
	}

	select {
	case s.queue <- p:
	case <-s.stop:
		return registry.Receipt{}, ErrClosed
	case <-ctx.Done():
		return registry.Receipt{}, ctx.Err()
	}

	select {
	case out := <-p.result:
		return out.receipt, out.err
	case <-s.done:
		select {
		case out := <-p.result:
			return out.receipt, out.err
		default:
			return registry.Receipt{}, ErrClosed
		}
	case <-ctx.Done():
		return registry.Receipt{}, ctx.Err()
	}
}

func (s *Sequencer) run() {
	defer close(s.done)
	for {
		select {
		case p := <-s.queue:
			rc, err := s.process(p)
			p.result <- outcome{receipt: rc, err: err}
		case <-s.stop:
			// Fail whatever is still queued.
			for {
				select {
				case p := <-s.queue:
					p.result <- outcome{err: ErrClosed}
				default:
					return
				}
			}
		}
	}
}

func (s *Sequencer) process(p *pending) (rc registry.Receipt, err error) {
	ctx := context.WithoutCancel(p.ctx)
	tr := p.req.Transition
	tr.Caller = p.req.Caller
	tr.Height = s.machine.Height() + 1
	tr.Timestamp = max(s.now().Unix(), s.machine.Timestamp())

	op, ctx := observability.StartOperation(ctx, s.metrics, "sequencer.commit",
		attribute.String("op", string(tr.Op)),
		attribute.String("caller", tr.Caller.String()),
		attribute.Int64("height", int64(tr.Height)),
	)
	defer func() {
		s.recordResult(tr.Op, err)
		op.End(err)
	}()

	var nonce uint64
	if !p.genesis {
		next := s.Nonce(tr.Caller) + 1
		if p.req.Nonce != next {
			return rc, &nonceError{got: p.req.Nonce, want: next}
		}
		nonce = next
	}

	cs, err := s.machine.Prepare(tr)
	if err != nil {
		return rc, err
	}
	if err = s.store.Commit(ctx, cs, nonce); err != nil {
		return rc, err
	}
	if rc, err = s.machine.Commit(cs); err != nil {
		// The store already holds this height; the machine is now behind it.
		slog.ErrorContext(ctx, "machine rejected a persisted changeset", "height", tr.Height, "error", err)
		return rc, err
	}

	if nonce > 0 {
		s.mu.Lock()
		s.nonces[tr.Caller] = nonce
		s.mu.Unlock()
	}
	if s.metrics != nil {
		s.metrics.Height.Set(float64(rc.Height))
	}
	if s.pub != nil {
		s.pub.Publish(ctx, rc)
	}

	slog.InfoContext(ctx, "transition committed",
		"op", tr.Op,
		"height", rc.Height,
		"caller", tr.Caller.String(),
		"events", len(rc.Events),
	)
	return rc, nil
}

func (s *Sequencer) recordResult(op registry.Op, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Transitions.WithLabelValues(string(op), resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBadNonce):
		return "BadNonce"
	case registry.KindOf(err) != registry.KindUnknown:
		return registry.KindOf(err).String()
	default:
		return "internal"
	}
}

// Close stops the writer. Queued requests fail with ErrClosed.
func (s *Sequencer) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
