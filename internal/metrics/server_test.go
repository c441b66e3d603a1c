package metrics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	c, registry := newTestCollector(CollectorConfig{Source: "test"})
	c.RunStarted(3)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer("127.0.0.1:0", registry, logger), registry
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Endpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/health", http.StatusOK, "ok"},
		{"/healthz", http.StatusOK, "ok"},
		{"/ready", http.StatusServiceUnavailable, "probing"},
		{"/readyz", http.StatusServiceUnavailable, "probing"},
		{"/results", http.StatusNotFound, "no completed run"},
		{"/metrics", http.StatusOK, "iptv_probe_candidates 3"},
		{"/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, h, tt.path)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_Publish(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	doc := map[string]any{"run_id": "abc", "ranked": []string{"one", "two"}}
	if err := s.Publish(doc); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if rec := get(t, h, "/ready"); rec.Code != http.StatusOK {
		t.Errorf("/ready status = %d after publish", rec.Code)
	}

	rec := get(t, h, "/results")
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got struct {
		RunID  string   `json:"run_id"`
		Ranked []string `json:"ranked"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "abc" || len(got.Ranked) != 2 {
		t.Errorf("results = %+v", got)
	}
}

func TestServer_PublishRejectsUnencodable(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Publish(map[string]float64{"speed": math.Inf(1)}); err == nil {
		t.Error("expected error encoding +Inf")
	}
	if rec := get(t, s.Handler(), "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("failed publish should leave server unready, got %d", rec.Code)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	addr := s.Addr()
	if strings.HasSuffix(addr, ":0") {
		t.Fatalf("Addr() = %q, want bound port", addr)
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
