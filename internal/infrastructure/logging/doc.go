// Package logging provides structured logging for the Fossibot bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output (machine-parsable, consumed by the `logs` CLI verb)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the daemon section of the config file:
//
//	"daemon": {
//	  "log_file": "/var/log/fossibot/bridge.log",
//	  "log_level": "info"
//	}
//
// An empty log_file sends output to stderr.
//
// # Usage
//
//	logger, err := logging.New(cfg.Daemon, "1.0.0")
//	logger.Info("starting bridge", "accounts", len(cfg.Accounts))
//	logger.Error("cloud connect failed", "error", err)
//
// # Security
//
// Never log account passwords, tokens, or broker credentials.
// Use field redaction for sensitive data:
//
//	logger.Info("token refreshed", "token_prefix", tok[:8]+"...")
package logging
