// Fossibot MQTT Bridge
//
// This is the main entry point for the bridge daemon. It connects one
// or more Fossibot vendor-cloud accounts to a local Mosquitto broker:
// device register frames become JSON state on fossibot/<MAC>/state, and
// JSON commands on fossibot/<MAC>/command become register writes on the
// vendor broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridge"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/config"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/logging"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/pidfile"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.json"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Fossibot bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded",
		"path", configPath,
		"accounts", len(cfg.EnabledAccounts()),
	)

	// Reinitialise logger with config settings
	log, err = logging.New(cfg.Daemon, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Daemon.LogLevel,
		"file", cfg.Daemon.LogFile,
	)

	// Single-instance lock
	pid, err := pidfile.Acquire(cfg.Daemon.PIDFile)
	if err != nil {
		return fmt.Errorf("acquiring PID file: %w", err)
	}
	defer func() {
		if releaseErr := pid.Release(); releaseErr != nil {
			log.Error("error releasing PID file", "error", releaseErr)
		}
	}()
	log.Info("PID file acquired", "path", pid.Path())

	// Bring up the bridge: cloud sessions, local broker, timers
	br := bridge.New(cfg, log)
	if err := br.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		if closeErr := br.Close(); closeErr != nil {
			log.Error("error stopping bridge", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses the first command-line argument if given, then the
// FOSSIBOT_CONFIG environment variable, otherwise the default.
func getConfigPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	if path := os.Getenv("FOSSIBOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
