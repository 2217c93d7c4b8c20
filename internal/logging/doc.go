// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text or json
//		Modules: map[string]string{
//			"npem":     "debug", // Per-module overrides
//			"registry": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("mymodule")
//	logger.Info("Starting up", "port", 8080)
//	logger.Debug("Details", "config", cfg)
//	logger.Warn("Something unusual", "error", err)
//	logger.Error("Failed", "error", err)
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("npem").With("device", addr)
//	logger.Info("Channel opened")  // Includes device in all logs
//
// # Log Levels
//
//	debug - Verbose debugging information
//	info  - General operational messages
//	warn  - Warning conditions
//	error - Error conditions
//
// # Output Destinations
//
// The system automatically detects available outputs:
//
//	Journal available + stdout available → tee to both
//	Journal available only              → JournalHandler
//	Stdout available only               → TextHandler or JSONHandler
//
// Journal availability is checked via [github.com/coreos/go-systemd/v22/journal.Enabled].
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t npemctl              # All npemctl logs
//	journalctl -t npemctl -f           # Follow live
//	journalctl -t npemctl --since "5m" # Last 5 minutes
//	journalctl -t npemctl -p err       # Errors only
//
// Filter by structured fields:
//
//	journalctl -t npemctl MODULE=npem
//	journalctl -t npemctl DEVICE=0000:03:00.0
//
// # Configuration
//
// Log levels can be set globally or per-module. Module-specific levels
// override the global level for that module only. Reconfigure re-applies
// levels at runtime when the configuration file changes.
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	npem = "debug"
//	registry = "warn"
//	api = "error"
package logging
