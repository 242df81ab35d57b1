package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// served is what one request through the middleware left behind.
type served struct {
	rec   *httptest.ResponseRecorder
	cid   string // correlation ID seen by the handler
	spans tracetest.SpanStubs
	rm    metricdata.ResourceMetrics
}

// serve runs req through Middleware in front of a mux with one route that
// answers status.
func serve(t *testing.T, pattern string, status int, req *http.Request) served {
	t.Helper()

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	var out served
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		out.cid = CorrelationID(r.Context())
		w.WriteHeader(status)
	})
	out.rec = httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(out.rec, req)

	out.spans = exp.GetSpans()
	out.rm = collect(t, reader)
	return out
}

func TestMiddleware_CorrelationID(t *testing.T) {
	s := serve(t, "POST /api/battles/simulate", http.StatusOK,
		httptest.NewRequest(http.MethodPost, "/api/battles/simulate", nil))

	if !hexTraceID.MatchString(s.cid) {
		t.Fatalf("handler correlation ID = %q, want 32 hex digits", s.cid)
	}
	if got := s.rec.Header().Get("X-Correlation-ID"); got != s.cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, s.cid)
	}
	if s.rec.Header().Get("traceparent") == "" {
		t.Error("response lacks a traceparent header")
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/api/formations", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	s := serve(t, "GET /api/formations", http.StatusOK, req)
	if s.cid != traceID {
		t.Errorf("correlation ID = %q, want incoming trace %q", s.cid, traceID)
	}
	if len(s.spans) != 1 || s.spans[0].Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("server span does not continue the incoming parent: %v", s.spans.Snapshots())
	}
}

func TestMiddleware_Span(t *testing.T) {
	tests := []struct {
		name, method, route, path string
		status                    int
		wantCode                  codes.Code
	}{
		{"ok", http.MethodGet, "/api/formations/{id}", "/api/formations/a1", http.StatusOK, codes.Unset},
		{"not found", http.MethodGet, "/api/equipment/{name}", "/api/equipment/M1A2", http.StatusNotFound, codes.Unset},
		{"server error", http.MethodPost, "/api/state/save", "/api/state/save", http.StatusInternalServerError, codes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern := tt.method + " " + tt.route
			req := httptest.NewRequest(tt.method, tt.path, nil)
			s := serve(t, pattern, tt.status, req)

			if len(s.spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(s.spans))
			}
			span := s.spans[0]
			if want := "HTTP " + pattern; span.Name != want {
				t.Errorf("span name = %q, want %q", span.Name, want)
			}
			if span.Status.Code != tt.wantCode {
				t.Errorf("span status = %v, want %v", span.Status.Code, tt.wantCode)
			}
			if !hasAttr(span.Attributes, attribute.Int("http.response.status_code", tt.status)) {
				t.Errorf("span attributes %v lack status code %d", span.Attributes, tt.status)
			}
		})
	}
}

func TestMiddleware_RecordsDurationByPattern(t *testing.T) {
	s := serve(t, "GET /api/snapshots/{date}", http.StatusOK,
		httptest.NewRequest(http.MethodGet, "/api/snapshots/1985-08-02", nil))

	met := findMetric(s.rm, "qjm.http.request.duration")
	if met == nil {
		t.Fatal("qjm.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("metric data = %#v, want one histogram point", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	if v, _ := dp.Attributes.Value("path"); v.AsString() != "GET /api/snapshots/{date}" {
		t.Errorf("path attribute = %q, want the mux pattern", v.AsString())
	}
}

func TestMiddleware_PassesThroughWriterInterfaces(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, ok := w.(http.Hijacker); !ok {
			t.Error("wrapped writer does not implement http.Hijacker")
		}
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Flusher")
		}
		_, _ = w.Write([]byte("event: battle\n\n"))
		f.Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/battles/simulate", http.StatusOK, slog.LevelInfo},
		{"/readyz", http.StatusOK, slog.LevelDebug},
		{"/metrics", http.StatusOK, slog.LevelDebug},
		{"/readyz", http.StatusServiceUnavailable, slog.LevelError},
		{"/api/battles/simulate", http.StatusUnprocessableEntity, slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := logLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("logLevel(%q, %d) = %v, want %v", tt.path, tt.status, got, tt.want)
		}
	}
}

func hasAttr(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, a := range attrs {
		if a.Key == want.Key && a.Value.Emit() == want.Value.Emit() {
			return true
		}
	}
	return false
}
