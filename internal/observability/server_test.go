package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"ai-voice-bridge-service/internal/observability/metrics"
)

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name     string
		ready    bool
		path     string
		wantCode int
		wantBody string
	}{
		{"healthz", true, "/healthz", http.StatusOK, "ok"},
		{"healthz while draining", false, "/healthz", http.StatusOK, "ok"},
		{"readyz", true, "/readyz", http.StatusOK, "ready"},
		{"readyz while draining", false, "/readyz", http.StatusServiceUnavailable, "draining"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(":0")
			s.SetReady(tt.ready)

			rec := serve(s, tt.path)
			if rec.Code != tt.wantCode || rec.Body.String() != tt.wantBody {
				t.Errorf("%s = %d %q, want %d %q", tt.path, rec.Code, rec.Body.String(), tt.wantCode, tt.wantBody)
			}
		})
	}
}

func TestServer_MetricsFromGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RecordUtteranceDropped("busy")

	s := NewServer(":0", WithGatherer(reg))
	rec := serve(s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `ai_voice_bridge_utterances_dropped_total{reason="busy"} 1`) {
		t.Errorf("dropped counter missing from scrape:\n%s", rec.Body.String())
	}
}

func TestServer_ShutdownMarksNotReady(t *testing.T) {
	s := NewServer("127.0.0.1:0")

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if rec := serve(s, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz after shutdown = %d, want 503", rec.Code)
	}
}
