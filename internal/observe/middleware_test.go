package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// controlSurface is a cut-down version of the app's routes.
func controlSurface() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /v1/library", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("DELETE /v1/library/{word}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("word") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/unknown/confirm", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return mux
}

// serveSetup installs an in-memory tracer and a manual metric reader and
// wraps the control surface with Middleware.
func serveSetup(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return Middleware(m)(controlSurface()), reader, exp
}

// captureLogs routes the default logger into a buffer at debug level.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func spanAttr(s tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_NamesSpanByRoute(t *testing.T) {
	h, _, exp := serveSetup(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/library/hello", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "HTTP DELETE /v1/library/{word}" {
		t.Errorf("span name = %q", s.Name)
	}
	if v, ok := spanAttr(s, KeyWord); !ok || v.AsString() != "hello" {
		t.Errorf("%s = %v (present %v), want hello", KeyWord, v.AsString(), ok)
	}
	if v, ok := spanAttr(s, "http.response.status_code"); !ok || v.AsInt64() != http.StatusNoContent {
		t.Errorf("status attribute = %v", v.AsInt64())
	}
	if s.Status.Code != codes.Unset {
		t.Errorf("span status = %v, want unset for 204", s.Status.Code)
	}
}

func TestMiddleware_ServerErrorFailsSpan(t *testing.T) {
	h, _, exp := serveSetup(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/unknown/confirm", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/v1/library/missing", nil))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("500 span status = %v, want error", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Unset {
		t.Errorf("404 span status = %v, want unset", spans[1].Status.Code)
	}
}

func TestMiddleware_RecordsRouteAndStatusClass(t *testing.T) {
	h, reader, _ := serveSetup(t)

	for _, w := range []string{"hello", "world", "missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/v1/library/"+w, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/nowhere", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "signdeck.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric is %T, want histogram", met.Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		status, _ := dp.Attributes.Value("status")
		counts[path.AsString()+" "+status.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"DELETE /v1/library/{word} 2xx": 2,
		"DELETE /v1/library/{word} 4xx": 1,
		"/v1/nowhere 4xx":               1,
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("count[%q] = %d, want %d (all: %v)", k, counts[k], n, counts)
		}
	}
	if len(counts) != len(want) {
		t.Errorf("series = %v, want %d", counts, len(want))
	}
}

func TestMiddleware_QuietPathsLogAtDebug(t *testing.T) {
	h, _, _ := serveSetup(t)

	tests := []struct {
		method, path string
		wantLevel    string
	}{
		{http.MethodGet, "/healthz", "level=DEBUG"},
		{http.MethodGet, "/readyz", "level=INFO"}, // 503 is never quiet
		{http.MethodGet, "/v1/library", "level=INFO"},
	}
	for _, tt := range tests {
		buf := captureLogs(t)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

		var line string
		for _, l := range strings.Split(buf.String(), "\n") {
			if strings.Contains(l, "request completed") {
				line = l
			}
		}
		if line == "" {
			t.Errorf("%s: no completion log", tt.path)
			continue
		}
		if !strings.Contains(line, tt.wantLevel) {
			t.Errorf("%s: log %q, want %s", tt.path, line, tt.wantLevel)
		}
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h, _, exp := serveSetup(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/v1/library", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].SpanContext.TraceID().String() != traceID {
		t.Errorf("span did not join trace %s", traceID)
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	for code, want := range map[int]string{200: "2xx", 204: "2xx", 409: "4xx", 503: "5xx"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
