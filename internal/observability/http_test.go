package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTraceMiddlewareKeepsValidIncomingTraceID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "trace-1" {
		t.Fatalf("TraceIDFromContext() = %q", seen)
	}
	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareReplacesUnsafeTraceID(t *testing.T) {
	for _, incoming := range []string{"", "has space", "quote\"id", strings.Repeat("a", 65)} {
		h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
		req.Header.Set(traceHeader, incoming)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		got := rr.Header().Get(traceHeader)
		if got == "" || got == incoming || len(got) != 32 {
			t.Fatalf("trace header for %q = %q", incoming, got)
		}
	}
}

func TestLoggingMiddlewareLogsRouteAndTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(contextHandler{Handler: slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})
	h := TraceMiddleware(LoggingMiddleware(logger)(mux))

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
	req.Header.Set(traceHeader, "trace-9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("json.Unmarshal() error = %v (%s)", err, buf.String())
	}
	if line["level"] != "INFO" || line["trace_id"] != "trace-9" || line["status"] != float64(http.StatusAccepted) {
		t.Fatalf("log line = %v", line)
	}
	if line["bytes"] != float64(2) {
		t.Fatalf("bytes = %v", line["bytes"])
	}
}

func TestLoggingMiddlewareLevels(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   string
	}{
		{path: "/v1/health", status: http.StatusOK, want: "DEBUG"},
		{path: "/v1/ask", status: http.StatusBadGateway, want: "ERROR"},
		{path: "/v1/ready", status: http.StatusServiceUnavailable, want: "ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
		if !strings.Contains(buf.String(), `"level":"`+tt.want+`"`) {
			t.Fatalf("%s %d logged %s", tt.path, tt.status, buf.String())
		}
	}
}

func TestRouteLabelFallsBackForUnmatchedRequests(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/random/path/123", nil)
	if got := routeLabel(req); got != "unmatched" {
		t.Fatalf("routeLabel() = %q", got)
	}
	req.Pattern = "POST /v1/ask"
	if got := routeLabel(req); got != "POST /v1/ask" {
		t.Fatalf("routeLabel() = %q", got)
	}
}

func TestMetricsMiddlewarePassesStatusThrough(t *testing.T) {
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestResponseRecorderKeepsFirstStatus(t *testing.T) {
	rec := wrapResponse(httptest.NewRecorder())
	_, _ = rec.Write([]byte("body"))
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.status != http.StatusOK || rec.bytes != 4 {
		t.Fatalf("recorder = %+v", rec)
	}
	if rec.Unwrap() == nil {
		t.Fatal("Unwrap() returned nil")
	}
}
