// Package config handles loading and validating Device Portal client configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (DEVPORTAL_SECTION_KEY)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Portal passwords, WiFi keys and the JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Local API operators are stored as Argon2id hashes, never plaintext
//
// Usage:
//
//	cfg, err := config.Load("configs/devportal.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Portal.Address)
package config
