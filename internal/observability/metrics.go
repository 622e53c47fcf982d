package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus registry and the provenance meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	// Transitions counts submitted transitions by op and result, where
	// result is "ok" or the rejection kind.
	Transitions *prometheus.CounterVec
	Height      prometheus.Gauge

	FeedSubscribers prometheus.Gauge
	FeedDropped     prometheus.Counter
	SinkErrors      *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates a custom Prometheus registry with the provenance metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provenance_operation_duration_seconds",
			Help:    "Duration of operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		OperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_operation_total",
			Help: "Total number of operations.",
		}, []string{"operation", "status"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_errors_total",
			Help: "Total number of errors.",
		}, []string{"operation", "type"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_transitions_total",
			Help: "Transitions submitted to the sequencer by operation and result.",
		}, []string{"op", "result"}),
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "provenance_height",
			Help: "Height of the last committed transition.",
		}),
		FeedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "provenance_feed_subscribers",
			Help: "Active event feed subscriptions.",
		}),
		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provenance_feed_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_sink_errors_total",
			Help: "Failed deliveries to external event sinks.",
		}, []string{"sink"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_http_requests_total",
			Help: "HTTP requests served by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provenance_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.OperationDuration, m.OperationTotal, m.ErrorsTotal,
		m.Transitions, m.Height,
		m.FeedSubscribers, m.FeedDropped, m.SinkErrors,
		m.HTTPRequests, m.HTTPDuration,
	)
	return m
}
