// Package config handles loading and validating Fossibot bridge
// configuration.
//
// This package manages:
//   - Loading configuration from JSON (or YAML) files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (account passwords, broker credentials) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("/etc/fossibot/config.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Mosquitto.Host)
package config
