// Package config handles loading and validating Switchboard Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SWITCHBOARD_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/switchboard.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridges.BinaryDir)
package config
