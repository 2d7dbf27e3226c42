package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/config"
)

// Logger wraps slog.Logger with bridge-specific functionality.
//
// It provides structured logging with default fields and level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	// file is non-nil when logging to a file; closed by Close.
	file *os.File
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output destination (daemon.log_file, or stderr when unset)
//   - Log level filtering
//   - Default fields (service name, version)
//
// Output is JSON-formatted for machine parsing.
//
// Parameters:
//   - cfg: Daemon configuration holding log_file and log_level
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
//   - error: If the log file cannot be opened
func New(cfg config.DaemonConfig, version string) (*Logger, error) {
	var output io.Writer = os.Stderr
	var file *os.File

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		output = f
		file = f
	}

	level := parseLevel(cfg.LogLevel)

	var handler slog.Handler = slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level,
	})

	// Add default fields
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "fossibot-bridge"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
		file:   file,
	}, nil
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Parameters:
//   - args: Key-value pairs to add as default attributes
//
// Returns:
//   - *Logger: New logger with added attributes
//
// Example:
//
//	cloudLogger := logger.With("component", "cloud")
//	cloudLogger.Info("connected") // Includes component=cloud
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		file:   l.file,
	}
}

// Close releases the log file, if one was opened. Loggers writing to
// stderr have nothing to release.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stderr in JSON format at info level.
// It should only be used during early startup before config is available.
//
// Returns:
//   - *Logger: Default logger
func Default() *Logger {
	logger, _ := New(config.DaemonConfig{LogLevel: "info"}, "dev")
	return logger
}
