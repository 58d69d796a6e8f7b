// Package logging provides structured logging for FrameGate.
//
// This package wraps Go's standard log/slog package so every component
// (discovery, device connection, API, event sinks) logs the same way.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	devLog := logger.Component("device")
//	devLog.Info("status ok", "address", addr, logging.Elapsed(start))
//
// # Security
//
// Never log secrets, tokens or passwords. Thumbnail and upload payloads are
// logged by size only.
package logging
