package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

func TestRequestLoggerLogsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("info", &buf)

	h := middleware.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/abc/events", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["msg"] != "request completed" || line["path"] != "/api/sessions/abc/events" {
		t.Fatalf("unexpected log line %v", line)
	}
	if status, _ := line["status"].(float64); int(status) != http.StatusAccepted {
		t.Fatalf("expected status 202 in log, got %v", line["status"])
	}
	if rec.Header().Get("X-Request-ID") == "" || rec.Header().Get("X-Request-ID") != line["request_id"] {
		t.Fatalf("expected request id header to match log, header=%q log=%v", rec.Header().Get("X-Request-ID"), line["request_id"])
	}
}

func TestRequestLoggerServerErrorsLogAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("info", &buf)

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["level"] != "ERROR" {
		t.Fatalf("expected ERROR level, got %v", line["level"])
	}
}
