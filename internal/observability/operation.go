package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gezibash/arc-provenance"

// Operation ties a span, a duration sample and debug logs to one unit of
// work such as a sequencer commit.
type Operation struct {
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	name    string
	start   time.Time
	logger  *slog.Logger
}

// StartOperation opens a span named name and returns the operation with
// the span's context.
func StartOperation(ctx context.Context, m *Metrics, name string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	logger := slog.Default().With("operation", name)
	logger.DebugContext(ctx, "operation started")

	return &Operation{
		ctx:     ctx,
		span:    span,
		metrics: m,
		name:    name,
		start:   time.Now(),
		logger:  logger,
	}, ctx
}

// SetAttributes adds attributes to the operation's span.
func (o *Operation) SetAttributes(attrs ...attribute.KeyValue) {
	o.span.SetAttributes(attrs...)
}

// End closes the span and records the outcome. Typed errors are rejections
// of the request and log at debug; untyped errors are failures of the node
// and log at error.
func (o *Operation) End(err error) {
	elapsed := time.Since(o.start)
	status := statusOf(err)

	switch status {
	case "ok":
		o.logger.DebugContext(o.ctx, "operation completed", "duration", elapsed)
	case "rejected":
		o.span.SetAttributes(attribute.String("provenance.rejection", errorType(err)))
		o.logger.DebugContext(o.ctx, "operation rejected", "error", err, "duration", elapsed)
	default:
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
		o.logger.ErrorContext(o.ctx, "operation failed", "error", err, "duration", elapsed)
	}
	o.span.End()

	if o.metrics == nil {
		return
	}
	o.metrics.OperationDuration.WithLabelValues(o.name, status).Observe(elapsed.Seconds())
	o.metrics.OperationTotal.WithLabelValues(o.name, status).Inc()
	if err != nil {
		o.metrics.ErrorsTotal.WithLabelValues(o.name, errorType(err)).Inc()
	}
}

// ErrorTyper lets an error choose the label recorded in provenance_errors_total.
type ErrorTyper interface {
	ErrorType() string
}

func statusOf(err error) string {
	var et ErrorTyper
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &et):
		return "rejected"
	default:
		return "error"
	}
}

func errorType(err error) string {
	var et ErrorTyper
	if errors.As(err, &et) {
		return et.ErrorType()
	}
	return "internal"
}
