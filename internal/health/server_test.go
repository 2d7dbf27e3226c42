package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/config"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/logging"
)

func testServer(provider Provider) *Server {
	return New(config.HealthConfig{Enabled: true, Port: 0}, logging.Default(), provider)
}

func healthySnapshot() Snapshot {
	return Snapshot{
		Status:   StatusHealthy,
		Uptime:   "1h5m0s",
		Accounts: AccountStats{Total: 2, Connected: 2},
		Devices:  DeviceStats{Total: 3, Online: 2, Offline: 1},
		MQTT:     MQTTStats{CloudClients: 2, LocalBroker: "connected"},
	}
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(healthySnapshot)

	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if snap.Status != StatusHealthy {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Accounts.Total != 2 || snap.Accounts.Connected != 2 {
		t.Errorf("accounts = %+v", snap.Accounts)
	}
	if snap.Devices.Online != 2 {
		t.Errorf("devices = %+v", snap.Devices)
	}
	if snap.MQTT.LocalBroker != "connected" {
		t.Errorf("mqtt = %+v", snap.MQTT)
	}
}

func TestHealthDegradedStays200(t *testing.T) {
	s := testServer(func() Snapshot {
		snap := healthySnapshot()
		snap.Status = StatusDegraded
		snap.Accounts.Connected = 1
		snap.Accounts.Disconnected = 1
		return snap
	})

	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("degraded GET /health = %d, want 200", rec.Code)
	}
}

func TestHealthUnhealthy503(t *testing.T) {
	s := testServer(func() Snapshot {
		snap := healthySnapshot()
		snap.Status = StatusUnhealthy
		snap.Accounts.Connected = 0
		snap.Accounts.Disconnected = 2
		return snap
	})

	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy GET /health = %d, want 503", rec.Code)
	}
}

func TestHealthWrongMethod(t *testing.T) {
	s := testServer(healthySnapshot)

	rec := doRequest(t, s, http.MethodPost, "/health")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health = %d, want 405", rec.Code)
	}
}

func TestHealthUnknownPath(t *testing.T) {
	s := testServer(healthySnapshot)

	rec := doRequest(t, s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /metrics = %d, want 404", rec.Code)
	}
}

func TestMemorySampled(t *testing.T) {
	s := testServer(healthySnapshot)

	rec := doRequest(t, s, http.MethodGet, "/health")

	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if snap.Memory.UsageMB < 0 {
		t.Errorf("memory usage_mb = %d", snap.Memory.UsageMB)
	}
}

func TestStartClose(t *testing.T) {
	s := testServer(healthySnapshot)

	if err := s.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCloseBeforeStart(t *testing.T) {
	s := testServer(healthySnapshot)
	if err := s.Close(); err != nil {
		t.Errorf("Close() before Start() error = %v", err)
	}
}
