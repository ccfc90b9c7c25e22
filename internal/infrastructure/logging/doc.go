// Package logging provides structured logging for the Device Portal client.
//
// This package wraps Go's standard log/slog package so that the CLI, the
// serve-mode monitor and the Portal session all emit the same structured
// records.
//
// # Features
//
//   - JSON output for services (machine-parsable)
//   - Text output for interactive CLI use
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected to device", "address", d.BaseURL())
//	logger.Error("request failed", "error", err)
//
// # Security
//
// Never log Portal passwords, WiFi network keys or JWT secrets.
// The session logs request method, path and status only.
package logging
