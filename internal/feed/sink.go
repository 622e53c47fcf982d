package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gezibash/arc-provenance/internal/observability"
)

type batch struct {
	ctx     context.Context
	records []Record
}

// sinkWorker decouples a sink from the committer with a bounded queue.
type sinkWorker struct {
	sink    Sink
	metrics *observability.Metrics
	queue   chan batch
	wg      sync.WaitGroup
}

func newSinkWorker(s Sink, size int, m *observability.Metrics) *sinkWorker {
	w := &sinkWorker{sink: s, metrics: m, queue: make(chan batch, size)}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *sinkWorker) enqueue(ctx context.Context, records []Record) {
	select {
	case w.queue <- batch{ctx: context.WithoutCancel(ctx), records: records}:
	default:
		if w.metrics != nil {
			w.metrics.FeedDropped.Add(float64(len(records)))
		}
		slog.Warn("feed sink queue full, records dropped",
			"sink", w.sink.Name(), "height", records[0].Height, "count", len(records))
	}
}

func (w *sinkWorker) run() {
	defer w.wg.Done()
	for b := range w.queue {
		if err := w.sink.Send(b.ctx, b.records); err != nil {
			if w.metrics != nil {
				w.metrics.SinkErrors.WithLabelValues(w.sink.Name()).Inc()
			}
			slog.ErrorContext(b.ctx, "feed sink send failed",
				"sink", w.sink.Name(), "height", b.records[0].Height, "error", err)
		}
	}
}

// close stops accepting batches, waits for the queue to drain, then closes
// the sink. Callers guarantee enqueue is no longer called.
func (w *sinkWorker) close() error {
	close(w.queue)
	w.wg.Wait()
	return w.sink.Close()
}
