// Package logging provides structured logging for the C-Bus bridge.
//
// This package wraps log/slog with:
//   - Configuration-driven format selection (JSON or text)
//   - Level filtering (debug, info, warn, error)
//   - Default fields on every record (service, version)
//   - A bootstrap logger for use before configuration is loaded
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("starting", "interface", cfg.CBus.Interface)
//
// Component packages should accept their own small Logger interface rather
// than depending on this package directly; main wires this logger in.
package logging
