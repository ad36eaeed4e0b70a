// Package logging provides structured logging for the door-lock gateway.
//
// It wraps log/slog so every component logs with the same handler, level
// and default fields (service, version).
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("device connected", "device_id", id, "transport", "session")
//	logger.ForDevice(id).Warn("heartbeat rejected", "error", err)
//
// Never log device tokens, JWTs or broker passwords.
package logging
