// Package feed fans committed registry events out to in-process subscribers
// and external sinks. Delivery never blocks the committer: a subscriber or
// sink that cannot keep up loses records, and the loss is counted.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gezibash/arc-provenance/internal/cel"
	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
)

const defaultBufferSize = 256

var (
	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("feed: closed")
	// ErrInvalidFilter wraps filter compile errors.
	ErrInvalidFilter = errors.New("feed: invalid filter")
)

// Sink receives every committed record in commit order.
type Sink interface {
	Name() string
	Send(ctx context.Context, records []Record) error
	Close() error
}

// Config configures a Feed.
type Config struct {
	// BufferSize is the default per-subscriber and per-sink queue length.
	BufferSize int
}

// Feed distributes committed events.
type Feed struct {
	env     *cel.Env
	metrics *observability.Metrics
	buffer  int

	mu     sync.RWMutex
	subs   map[string]*Subscription
	sinks  []*sinkWorker
	closed bool
}

// New creates a feed.
func New(cfg Config, metrics *observability.Metrics) (*Feed, error) {
	env, err := cel.NewEnv(filterKeys...)
	if err != nil {
		return nil, fmt.Errorf("create filter env: %w", err)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return &Feed{
		env:     env,
		metrics: metrics,
		buffer:  cfg.BufferSize,
		subs:    make(map[string]*Subscription),
	}, nil
}

// AddSink starts delivering records to s. Records committed before the call
// are not replayed.
func (f *Feed) AddSink(s Sink) {
	w := newSinkWorker(s, f.buffer, f.metrics)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		_ = s.Close()
		return
	}
	f.sinks = append(f.sinks, w)
	slog.Info("feed sink added", "sink", s.Name())
}

// Publish delivers a committed receipt. It never blocks.
func (f *Feed) Publish(ctx context.Context, rc registry.Receipt) {
	records := Records(rc)
	if len(records) == 0 {
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, sub := range f.subs {
		for _, r := range records {
			sub.deliver(r, f.metrics)
		}
	}
	for _, w := range f.sinks {
		w.enqueue(ctx, records)
	}
}

// Subscribe registers a subscriber. An empty filter matches everything; a
// non-positive buffer uses the feed default.
func (f *Feed) Subscribe(filter string, buffer int) (*Subscription, error) {
	var compiled *cel.Filter
	if filter != "" {
		var err error
		compiled, err = f.env.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
	}
	if buffer <= 0 {
		buffer = f.buffer
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		filter:  compiled,
		records: make(chan Record, buffer),
		feed:    f,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	f.subs[sub.id] = sub
	f.setSubscriberGauge()
	slog.Debug("feed subscription registered", "subscription_id", sub.id, "filter", filter, "active", len(f.subs))
	return sub, nil
}

func (f *Feed) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub.id]; !ok {
		return
	}
	delete(f.subs, sub.id)
	close(sub.records)
	f.setSubscriberGauge()
	slog.Debug("feed subscription removed", "subscription_id", sub.id, "dropped", sub.dropped.Load())
}

func (f *Feed) setSubscriberGauge() {
	if f.metrics != nil {
		f.metrics.FeedSubscribers.Set(float64(len(f.subs)))
	}
}

// Len returns the number of active subscriptions.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close cancels all subscriptions and drains and closes all sinks.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub.records)
	}
	f.setSubscriberGauge()
	sinks := f.sinks
	f.sinks = nil
	f.mu.Unlock()

	var errs []error
	for _, w := range sinks {
		if err := w.close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", w.sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Subscription is a filtered view of the feed.
type Subscription struct {
	id      string
	filter  *cel.Filter
	records chan Record
	dropped atomic.Int64
	feed    *Feed
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// Records returns the delivery channel. It is closed on Cancel or when the
// feed closes.
func (s *Subscription) Records() <-chan Record { return s.records }

// Dropped returns the number of records lost to a full buffer.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Cancel unregisters the subscription.
func (s *Subscription) Cancel() { s.feed.remove(s) }

// deliver runs under the feed's read lock, so records is never closed
// concurrently.
func (s *Subscription) deliver(r Record, m *observability.Metrics) {
	if s.filter != nil && !s.filter.Match(r.Attributes()) {
		return
	}
	select {
	case s.records <- r:
	default:
		n := s.dropped.Add(1)
		if m != nil {
			m.FeedDropped.Inc()
		}
		slog.Warn("feed subscriber buffer full, record dropped",
			"subscription_id", s.id, "height", r.Height, "dropped", n)
	}
}
