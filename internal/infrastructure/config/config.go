package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Fossibot bridge.
// Configuration is loaded from a JSON (or YAML) file and can be
// overridden by environment variables.
type Config struct {
	Accounts  []AccountConfig `json:"accounts" yaml:"accounts"`
	Mosquitto MosquittoConfig `json:"mosquitto" yaml:"mosquitto"`
	Daemon    DaemonConfig    `json:"daemon" yaml:"daemon"`
	Health    HealthConfig    `json:"health" yaml:"health"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Bridge    BridgeConfig    `json:"bridge" yaml:"bridge"`
	Debug     DebugConfig     `json:"debug" yaml:"debug"`
}

// AccountConfig holds one vendor-cloud account's credentials.
type AccountConfig struct {
	Email    string `json:"email" yaml:"email"`
	Password string `json:"password" yaml:"password"`

	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled" yaml:"enabled"`

	// CloudTransport selects the cloud session carrier: "websocket"
	// (default) or "tcp".
	CloudTransport string `json:"cloud_transport" yaml:"cloud_transport"`
}

// IsEnabled reports whether the account should be connected.
func (a AccountConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// MosquittoConfig contains local broker connection settings.
type MosquittoConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	ClientID string `json:"client_id" yaml:"client_id"`
}

// DaemonConfig contains logging and single-instance lock settings.
type DaemonConfig struct {
	// LogFile is the log destination. Empty means stderr.
	LogFile string `json:"log_file" yaml:"log_file"`

	LogLevel string `json:"log_level" yaml:"log_level"`

	// PIDFile is the single-instance lock path. Empty means the daemon
	// picks /var/run/fossibot-bridge.pid when writable, otherwise a
	// file next to the working directory.
	PIDFile string `json:"pid_file" yaml:"pid_file"`
}

// HealthConfig contains embedded health HTTP server settings.
type HealthConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// CacheConfig contains token/device cache settings. Intervals are in
// seconds.
type CacheConfig struct {
	Directory             string `json:"directory" yaml:"directory"`
	TokenTTLSafetyMargin  int    `json:"token_ttl_safety_margin" yaml:"token_ttl_safety_margin"`
	DeviceListTTL         int    `json:"device_list_ttl" yaml:"device_list_ttl"`
	DeviceRefreshInterval int    `json:"device_refresh_interval" yaml:"device_refresh_interval"`
}

// BridgeConfig contains scheduling knobs. Intervals are in seconds.
type BridgeConfig struct {
	StatusPublishInterval int `json:"status_publish_interval" yaml:"status_publish_interval"`

	// DevicePollInterval enables periodic holding-register polling when
	// positive. Zero (the default) disables it; devices push spontaneous
	// updates on their own.
	DevicePollInterval int `json:"device_poll_interval" yaml:"device_poll_interval"`

	ReconnectDelayMin int `json:"reconnect_delay_min" yaml:"reconnect_delay_min"`
	ReconnectDelayMax int `json:"reconnect_delay_max" yaml:"reconnect_delay_max"`
}

// DebugConfig contains diagnostic toggles.
type DebugConfig struct {
	LogRawRegisters bool `json:"log_raw_registers" yaml:"log_raw_registers"`
	LogUpdateSource bool `json:"log_update_source" yaml:"log_update_source"`
}

// Load reads configuration from a file and applies environment variable
// overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults)
//  3. Environment variables (override file values)
//
// The file is parsed as JSON unless the path ends in .yaml or .yml.
// Unrecognised keys are ignored.
//
// Parameters:
//   - path: Path to the configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults. Accounts and
// mosquitto.host have no defaults; they must come from the file or the
// environment.
func defaultConfig() *Config {
	return &Config{
		Mosquitto: MosquittoConfig{
			Port:     1883,
			ClientID: "fossibot_bridge",
		},
		Daemon: DaemonConfig{
			LogLevel: "info",
		},
		Health: HealthConfig{
			Enabled: false,
			Port:    8080,
		},
		Cache: CacheConfig{
			Directory:             "/var/lib/fossibot",
			TokenTTLSafetyMargin:  300,
			DeviceListTTL:         86400,
			DeviceRefreshInterval: 86400,
		},
		Bridge: BridgeConfig{
			StatusPublishInterval: 60,
			ReconnectDelayMin:     5,
			ReconnectDelayMax:     60,
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
//
// FOSSIBOT_EMAIL and FOSSIBOT_PASSWORD target the first account,
// creating it when the file declared none. MOSQUITTO_HOST and
// LOG_LEVEL override the matching file keys.
func applyEnvOverrides(cfg *Config) {
	email := os.Getenv("FOSSIBOT_EMAIL")
	password := os.Getenv("FOSSIBOT_PASSWORD")
	if email != "" || password != "" {
		if len(cfg.Accounts) == 0 {
			cfg.Accounts = append(cfg.Accounts, AccountConfig{})
		}
		if email != "" {
			cfg.Accounts[0].Email = email
		}
		if password != "" {
			cfg.Accounts[0].Password = password
		}
	}

	if v := os.Getenv("MOSQUITTO_HOST"); v != "" {
		cfg.Mosquitto.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	enabled := 0
	for i, acct := range c.Accounts {
		if !acct.IsEnabled() {
			continue
		}
		enabled++
		if acct.Email == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d].email is required", i))
		}
		if acct.Password == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d].password is required", i))
		}
		switch acct.CloudTransport {
		case "", "websocket", "tcp":
		default:
			errs = append(errs, fmt.Sprintf("accounts[%d].cloud_transport must be \"websocket\" or \"tcp\"", i))
		}
	}
	if enabled == 0 {
		errs = append(errs, "at least one enabled account is required")
	}

	if c.Mosquitto.Host == "" {
		errs = append(errs, "mosquitto.host is required")
	}
	if c.Mosquitto.Port < 1 || c.Mosquitto.Port > 65535 {
		errs = append(errs, "mosquitto.port must be between 1 and 65535")
	}

	switch strings.ToLower(c.Daemon.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "daemon.log_level must be one of debug, info, warn, error")
	}

	if c.Health.Enabled && (c.Health.Port < 1 || c.Health.Port > 65535) {
		errs = append(errs, "health.port must be between 1 and 65535")
	}

	if c.Cache.Directory == "" {
		errs = append(errs, "cache.directory is required")
	}
	if c.Cache.TokenTTLSafetyMargin < 0 {
		errs = append(errs, "cache.token_ttl_safety_margin cannot be negative")
	}
	if c.Cache.DeviceListTTL <= 0 {
		errs = append(errs, "cache.device_list_ttl must be positive")
	}

	if c.Bridge.StatusPublishInterval <= 0 {
		errs = append(errs, "bridge.status_publish_interval must be positive")
	}
	if c.Bridge.DevicePollInterval < 0 {
		errs = append(errs, "bridge.device_poll_interval cannot be negative")
	}
	if c.Bridge.ReconnectDelayMin <= 0 || c.Bridge.ReconnectDelayMax < c.Bridge.ReconnectDelayMin {
		errs = append(errs, "bridge.reconnect_delay_min/max must be positive and ordered")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// EnabledAccounts returns the accounts that should be connected.
func (c *Config) EnabledAccounts() []AccountConfig {
	out := make([]AccountConfig, 0, len(c.Accounts))
	for _, acct := range c.Accounts {
		if acct.IsEnabled() {
			out = append(out, acct)
		}
	}
	return out
}

// TokenSafetyMargin returns the token expiry safety margin as a Duration.
func (c *Config) TokenSafetyMargin() time.Duration {
	return time.Duration(c.Cache.TokenTTLSafetyMargin) * time.Second
}

// DeviceListTTL returns the device cache lifetime as a Duration.
func (c *Config) DeviceListTTL() time.Duration {
	return time.Duration(c.Cache.DeviceListTTL) * time.Second
}

// DeviceRefreshInterval returns the periodic re-discovery interval as a
// Duration.
func (c *Config) DeviceRefreshInterval() time.Duration {
	return time.Duration(c.Cache.DeviceRefreshInterval) * time.Second
}

// StatusPublishInterval returns the bridge status cadence as a Duration.
func (c *Config) StatusPublishInterval() time.Duration {
	return time.Duration(c.Bridge.StatusPublishInterval) * time.Second
}

// DevicePollInterval returns the holding-register poll cadence as a
// Duration.
func (c *Config) DevicePollInterval() time.Duration {
	return time.Duration(c.Bridge.DevicePollInterval) * time.Second
}
