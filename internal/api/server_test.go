package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/api"
	"github.com/atlas-desktop/trading-engine/internal/connhealth"
)

func setupTestServer(t *testing.T) (*api.Hub, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()
	hub := api.NewHub(logger)
	go hub.Run()

	health := connhealth.New()
	server := api.NewServer(hub, health, logger)
	return hub, httptest.NewServer(server.Router())
}

func TestHealthzEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestConnectionHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health/connection")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestActivityEndpointReflectsBroadcasts(t *testing.T) {
	hub, ts := setupTestServer(t)
	defer ts.Close()

	hub.BroadcastRiskAlert(api.RiskAlert{Symbol: "AAPL", Reason: "circuit breaker tripped"})

	resp, err := http.Get(ts.URL + "/activity?limit=10")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var entries []api.ActivityEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one activity entry after broadcast")
	}
	if entries[len(entries)-1].Type != api.MsgTypeRiskAlert {
		t.Errorf("expected last entry to be a risk alert, got %s", entries[len(entries)-1].Type)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
