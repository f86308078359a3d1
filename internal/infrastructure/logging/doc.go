// Package logging provides structured logging for the LIFX bridge.
//
// It wraps log/slog so every entry carries the service name and version.
// JSON output is the default; text output is available for development.
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
//	logger.Info("starting service", "port", 8090)
//	logger.Component("discovery").Error("broadcast failed", "error", err)
//
// Never log secrets such as the MQTT password or InfluxDB token.
package logging
