// Package health provides the embedded HTTP health endpoint.
//
// When enabled via config, the bridge serves GET /health with a JSON
// snapshot of account connectivity, device availability, and broker
// state. Monitoring systems poll it; nothing else lives on this
// listener.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server := health.New(cfg, logger, provider)
//	server.Start(ctx)
//	defer server.Close()
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/config"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/logging"
)

// Overall status values reported by the endpoint.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// readHeaderTimeout bounds slow-loris style clients.
const readHeaderTimeout = 10 * time.Second

// AccountStats summarises cloud account connectivity.
type AccountStats struct {
	Total        int `json:"total"`
	Connected    int `json:"connected"`
	Disconnected int `json:"disconnected"`
}

// DeviceStats summarises device availability across all accounts.
type DeviceStats struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// MQTTStats summarises broker connections on both sides of the bridge.
type MQTTStats struct {
	CloudClients int    `json:"cloud_clients"`
	LocalBroker  string `json:"local_broker"`
}

// MemoryStats reports process memory consumption.
type MemoryStats struct {
	UsageMB int `json:"usage_mb"`
	LimitMB int `json:"limit_mb"`
}

// Snapshot is the JSON document served on GET /health. The provider
// fills everything except Memory, which the server samples itself.
type Snapshot struct {
	Status   string       `json:"status"`
	Uptime   string       `json:"uptime"`
	Accounts AccountStats `json:"accounts"`
	Devices  DeviceStats  `json:"devices"`
	MQTT     MQTTStats    `json:"mqtt"`
	Memory   MemoryStats  `json:"memory"`
}

// Provider supplies the current bridge condition on each request.
type Provider func() Snapshot

// Server is the embedded health HTTP server.
type Server struct {
	cfg      config.HealthConfig
	logger   *logging.Logger
	provider Provider
	server   *http.Server
}

// New creates a health server. It does not listen until Start is called.
//
// Parameters:
//   - cfg: Health section of the bridge config
//   - logger: Structured logger
//   - provider: Callback supplying the current snapshot
//
// Returns:
//   - *Server: Configured server ready to start
func New(cfg config.HealthConfig, logger *logging.Logger, provider Provider) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
	}
}

// Handler returns the HTTP handler serving the health endpoint.
// Unknown paths get 404 and non-GET methods on /health get 405.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	return r
}

// Start begins listening for HTTP connections in a background goroutine.
//
// Returns:
//   - error: nil; listener errors are logged asynchronously
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		s.logger.Info("health server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the health server.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down health server: %w", err)
	}
	return nil
}

// handleHealth serves the health snapshot. Healthy and degraded report
// 200 so load balancers keep routing; only unhealthy returns 503.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.provider()
	snap.Memory = sampleMemory()

	status := http.StatusOK
	if snap.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Warn("failed to encode health snapshot", "error", err)
	}
}

// sampleMemory reads current process memory usage. LimitMB is zero when
// no runtime memory limit is configured.
func sampleMemory() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		UsageMB: int(m.Alloc / (1 << 20)),
	}
}
