// Package logging provides structured logging for Granary Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version, facility) on all log entries
//   - Per-subsystem child loggers via Component
//   - Level-based filtering (debug, info, warn, error); debug adds
//     source locations
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0", cfg.Facility.ID)
//	logger.Info("starting service", "port", 8080)
//	logger.Error("failed to connect", "error", err)
//
//	queue.SetLogger(logger.Component("command_queue"))
//
// # Security
//
// Never log secrets, tokens, or broker credentials.
package logging
