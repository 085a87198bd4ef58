package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobrunner/terrapatch/internal/config"
	"github.com/jobrunner/terrapatch/internal/ports/input"
)

type staticProgress struct {
	summary input.Summary
}

func (s *staticProgress) Progress() input.Summary { return s.summary }

func testServer() *Server {
	cfg := config.MetricsConfig{Enabled: true, Host: "127.0.0.1", Port: 9090, Path: "/metrics"}
	progress := &staticProgress{summary: input.Summary{
		RunID:     "run-1",
		Total:     100,
		Completed: 40,
		Succeeded: 38,
		Failed:    2,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, progress, logger)
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q", body["status"])
	}
}

func TestProgressEndpoint(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var summary input.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if summary.RunID != "run-1" || summary.Completed != 40 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}

func TestProgressMethodNotAllowed(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodPost, "/progress", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
