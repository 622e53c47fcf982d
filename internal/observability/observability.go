// Package observability wires structured logging, Prometheus metrics and
// OpenTelemetry tracing for the provenance node and CLI.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ObsConfig is the config subset needed by the observability package.
type ObsConfig struct {
	LogLevel       string
	LogFormat      string
	OTLPEndpoint   string
	OTLPProtocol   string
	ServiceName    string
	ServiceVersion string
}

// Observability holds the logger, metrics, tracer provider and shutdown
// coordinator of a running node.
type Observability struct {
	Logger         *slog.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
	Shutdown       *ShutdownCoordinator
	ServiceName    string
	ServiceVersion string

	sdkTP *sdktrace.TracerProvider
}

// New sets up the global logger, a fresh metrics registry and, when an
// OTLP endpoint is configured, a batching trace exporter. The exporter is
// flushed by Close.
func New(ctx context.Context, cfg ObsConfig, w io.Writer) (*Observability, error) {
	o := &Observability{
		Logger:         SetupLogger(cfg.LogLevel, cfg.LogFormat, w),
		Metrics:        NewMetrics(),
		TracerProvider: tracenoop.NewTracerProvider(),
		Shutdown:       &ShutdownCoordinator{},
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
	}

	if cfg.OTLPEndpoint == "" {
		o.Logger.Debug("tracing disabled", "reason", "no otlp_endpoint")
		return o, nil
	}

	tp, err := InitTracer(ctx, TracerConfig{
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	o.TracerProvider, o.sdkTP = tp, tp
	o.Shutdown.Register("tracer", tp.Shutdown)
	o.Logger.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint, "protocol", cfg.OTLPProtocol)
	return o, nil
}

// Close runs the registered shutdown handlers, newest first.
func (o *Observability) Close(ctx context.Context) error {
	return o.Shutdown.Shutdown(ctx)
}

// ServeMetrics starts the operator listener on addr:
//
//	/metrics  Prometheus exposition
//	/health   liveness, always 200 while the process serves
//	/ready    200 once ready returns nil, 503 with its error before that
//
// The listener is stopped by Close.
func (o *Observability) ServeMetrics(ctx context.Context, addr string, ready func() error) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           o.operatorRoutes(ready),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		o.Logger.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.Logger.Error("metrics server error", "addr", addr, "error", err)
		}
	}()

	o.Shutdown.Register("metrics-server", srv.Shutdown)
	return srv
}

type healthBody struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (o *Observability) operatorRoutes(ready func() error) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(o.Metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		o.writeHealth(w, http.StatusOK, nil)
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				o.writeHealth(w, http.StatusServiceUnavailable, err)
				return
			}
		}
		o.writeHealth(w, http.StatusOK, nil)
	})
	return r
}

func (o *Observability) writeHealth(w http.ResponseWriter, code int, err error) {
	body := healthBody{Status: "ok", Service: o.ServiceName, Version: o.ServiceVersion}
	if err != nil {
		body.Status, body.Error = "unavailable", err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
