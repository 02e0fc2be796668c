// Package logging provides structured logging for the elock client.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - Text output by default (human-readable on a terminal)
//   - JSON output for log shipping (machine-parsable)
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
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("channel connected", "url", url)
//	logger.Error("snapshot load failed", "error", err)
//
// # Security
//
// Values under the keys token, access_token, authorization and password
// are replaced with "[redacted]" by the handler. Prefer logging the token
// subject anyway:
//
//	logger.Info("signed in", "user_id", sess.Claims.Subject)
package logging
