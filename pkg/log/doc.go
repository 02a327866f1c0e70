// Package log provides structured protocol capture for Venus sessions.
//
// This package defines the Logger interface and Event types for recording
// frame traffic, command outcomes, session state changes and errors. It is
// separate from operational logging (slog) - protocol capture provides a
// complete machine-readable trace for debugging against real device
// behavior, which is how most of this protocol was mapped out.
//
// # Basic Usage
//
// Applications configure capture by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/marstek/venus.mlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files use CBOR encoding with integer map keys. Reader streams a file
// back, optionally filtered by link, direction, category or time window.
package log
