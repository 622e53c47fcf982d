package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func quietObs(t *testing.T) *Observability {
	t.Helper()
	obs, err := New(context.Background(), ObsConfig{
		LogLevel:       "error",
		LogFormat:      "json",
		ServiceName:    "provenance-test",
		ServiceVersion: "0.0.1",
	}, io.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return obs
}

// --- Shutdown ---

func TestShutdownCoordinatorReverseOrder(t *testing.T) {
	var order []string
	sc := &ShutdownCoordinator{}
	for _, name := range []string{"statestore", "sequencer", "http-server"} {
		sc.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := sc.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(order, ","); got != "http-server,sequencer,statestore" {
		t.Fatalf("order = %s", got)
	}
}

func TestShutdownCoordinatorRunsOnce(t *testing.T) {
	calls := 0
	sc := &ShutdownCoordinator{}
	sc.Register("feed", func(context.Context) error {
		calls++
		return nil
	})

	_ = sc.Shutdown(context.Background())
	_ = sc.Shutdown(context.Background())
	if calls != 1 {
		t.Fatalf("step ran %d times, want 1", calls)
	}
}

func TestShutdownCoordinatorJoinsErrors(t *testing.T) {
	errStore := errors.New("flush failed")
	ran := 0
	sc := &ShutdownCoordinator{}
	sc.Register("statestore", func(context.Context) error { ran++; return errStore })
	sc.Register("feed", func(context.Context) error { ran++; return nil })
	sc.Register("sink", func(context.Context) error { ran++; return errors.New("broker gone") })

	err := sc.Shutdown(context.Background())
	if !errors.Is(err, errStore) {
		t.Fatalf("error %v does not wrap the statestore failure", err)
	}
	if !strings.Contains(err.Error(), "sink: broker gone") {
		t.Fatalf("error %v should name the failing sink step", err)
	}
	if ran != 3 {
		t.Fatalf("ran %d steps, want 3", ran)
	}
}

func TestShutdownCoordinatorEmpty(t *testing.T) {
	if err := (&ShutdownCoordinator{}).Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

// --- Metrics ---

func TestNewMetricsRegistersFamilies(t *testing.T) {
	m := NewMetrics()
	m.Transitions.WithLabelValues("grantRole", "ok").Inc()
	m.HTTPRequests.WithLabelValues("/v1/status", "200").Inc()
	m.SinkErrors.WithLabelValues("kafka").Inc()
	m.Height.Set(3)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	seen := make(map[string]bool)
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, name := range []string{
		"provenance_transitions_total",
		"provenance_http_requests_total",
		"provenance_sink_errors_total",
		"provenance_height",
	} {
		if !seen[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

// --- Logging ---

func TestSetupLoggerFormats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"json", func(t *testing.T, out string) {
			var entry map[string]any
			if err := json.Unmarshal([]byte(out), &entry); err != nil {
				t.Fatalf("not JSON: %v\n%s", err, out)
			}
			if entry["msg"] != "hello" || entry["op"] != "grantRole" {
				t.Fatalf("unexpected entry %v", entry)
			}
		}},
		{"logfmt", func(t *testing.T, out string) {
			if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "op=grantRole") {
				t.Fatalf("unexpected logfmt line %q", out)
			}
		}},
		{"text", func(t *testing.T, out string) {
			if !strings.Contains(out, "INF hello op=grantRole") {
				t.Fatalf("unexpected text line %q", out)
			}
			if strings.Contains(out, "\033[") {
				t.Fatalf("colors written to a non-terminal: %q", out)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			SetupLogger("info", tt.format, &buf).Info("hello", "op", "grantRole")
			tt.check(t, buf.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		" error ": slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrettyHandlerAbbreviatesHashes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))

	hash := "0x" + strings.Repeat("9f", 32)
	principal := "0x" + strings.Repeat("5b", 20)
	logger.Info("document registered", "hash", hash, "owner", principal)

	out := buf.String()
	if !strings.Contains(out, "hash=0x9f9f9f…9f9f") {
		t.Errorf("hash not abbreviated: %q", out)
	}
	if !strings.Contains(out, "owner="+principal) {
		t.Errorf("principal should be printed in full: %q", out)
	}
}

func TestPrettyHandlerGroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).
		With("component", "sequencer").
		WithGroup("tx").
		With("op", "grantAccess")

	logger.Debug("committed", "height", 4, slog.Group("caller", "nonce", 2))

	out := buf.String()
	for _, want := range []string{"DBG committed", "component=sequencer", "tx.op=grantAccess", "tx.height=4", "tx.caller.nonce=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	h := NewPrettyHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn")
	}
	if NewPrettyHandler(io.Discard, nil).Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default level should be info")
	}
}

func TestTraceHandlerAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&TraceHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "traced")
	logger.Info("untraced")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"`) ||
		!strings.Contains(lines[0], `"span_id":"00f067aa0ba902b7"`) {
		t.Errorf("trace ids missing: %s", lines[0])
	}
	if strings.Contains(lines[1], "trace_id") {
		t.Errorf("untraced record carries a trace id: %s", lines[1])
	}
}

// --- Operations ---

type typedErr struct{}

func (typedErr) Error() string     { return "typed" }
func (typedErr) ErrorType() string { return "Forbidden" }

func TestStartOperationOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    string
		errorType string
	}{
		{"ok", nil, "ok", ""},
		{"rejected", typedErr{}, "rejected", "Forbidden"},
		{"failed", errors.New("disk full"), "error", "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			op, ctx := StartOperation(context.Background(), m, "sequencer.commit", attribute.String("op", "grantRole"))
			if ctx == nil {
				t.Fatal("nil context")
			}
			op.SetAttributes(attribute.Int64("height", 1))
			op.End(tt.err)

			if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("sequencer.commit", tt.status)); got != 1 {
				t.Errorf("operation_total{status=%s} = %v, want 1", tt.status, got)
			}
			if tt.errorType != "" {
				if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("sequencer.commit", tt.errorType)); got != 1 {
					t.Errorf("errors_total{type=%s} = %v, want 1", tt.errorType, got)
				}
			}
		})
	}
}

func TestStartOperationNilMetrics(t *testing.T) {
	op, _ := StartOperation(context.Background(), nil, "journal.export")
	op.End(errors.New("boom"))
}

// --- New / tracing ---

func TestNewWithoutOTLP(t *testing.T) {
	obs := quietObs(t)
	if _, ok := obs.TracerProvider.(tracenoop.TracerProvider); !ok {
		t.Fatalf("expected noop tracer provider, got %T", obs.TracerProvider)
	}
	if obs.Metrics == nil || obs.Logger == nil || obs.Shutdown == nil {
		t.Fatal("New left a component nil")
	}
	if err := obs.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewWithOTLP(t *testing.T) {
	for _, tt := range []struct{ endpoint, protocol string }{
		{"127.0.0.1:4318", "http"},
		{"http://127.0.0.1:4318", "http/protobuf"},
		{"127.0.0.1:4317", "grpc"},
	} {
		t.Run(tt.protocol+" "+tt.endpoint, func(t *testing.T) {
			obs, err := New(context.Background(), ObsConfig{
				LogLevel:     "error",
				LogFormat:    "json",
				OTLPEndpoint: tt.endpoint,
				OTLPProtocol: tt.protocol,
				ServiceName:  "provenance-test",
			}, io.Discard)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, ok := obs.TracerProvider.(tracenoop.TracerProvider); ok {
				t.Fatal("expected an SDK tracer provider")
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = obs.Close(ctx)
		})
	}
}

func TestNewUnknownProtocol(t *testing.T) {
	_, err := New(context.Background(), ObsConfig{OTLPEndpoint: "collector:4317", OTLPProtocol: "thrift"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "thrift") {
		t.Fatalf("expected unknown protocol error, got %v", err)
	}
}

// --- Operator endpoints ---

func TestOperatorRoutes(t *testing.T) {
	obs := quietObs(t)
	notReady := errors.New("replaying journal")
	ready := notReady
	h := obs.operatorRoutes(func() error { return ready })

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/health"); rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", rec.Code)
	}

	rec := get("/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/ready before ready = %d, want 503", rec.Code)
	}
	var body healthBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "unavailable" || body.Error != notReady.Error() || body.Service != "provenance-test" {
		t.Errorf("unexpected body %+v", body)
	}

	ready = nil
	if rec := get("/ready"); rec.Code != http.StatusOK {
		t.Errorf("/ready after ready = %d, want 200", rec.Code)
	}

	obs.Metrics.Height.Set(12)
	rec = get("/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "provenance_height 12") {
		t.Errorf("/metrics = %d\n%s", rec.Code, rec.Body.String())
	}
}

func TestServeMetricsStopsOnClose(t *testing.T) {
	obs := quietObs(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	obs.ServeMetrics(context.Background(), addr, nil)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = client.Get("http://" + addr + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics server never came up: %v", err)
	}
	_ = resp.Body.Close()

	if err := obs.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := client.Get("http://" + addr + "/health"); err == nil {
		t.Fatal("metrics server still serving after Close")
	}
}

// --- HTTP middleware ---

func TestHTTPMiddlewareRecordsRoute(t *testing.T) {
	m := NewMetrics()
	h := HTTPMiddleware(m, func(*http.Request) string { return "/v1/documents/{hash}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}),
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents/0xabc", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/documents/{hash}", "404")); got != 1 {
		t.Fatalf("expected 1 request recorded, got %f", got)
	}
}

func TestHTTPMiddlewareDefaultsToPath(t *testing.T) {
	m := NewMetrics()
	h := HTTPMiddleware(m, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/status", "200")); got != 1 {
		t.Fatalf("expected implicit 200 to be recorded, got %f", got)
	}
}

func TestHTTPMiddlewareFlush(t *testing.T) {
	h := HTTPMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer should implement http.Flusher")
		}
		f.Flush()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events/stream", nil))
	if !rec.Flushed {
		t.Fatal("flush was not forwarded")
	}
}
