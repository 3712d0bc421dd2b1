// Package logging provides structured logging for Switchboard Core.
//
// It wraps log/slog so every entry carries the service name and build
// version, in JSON for production or text for development:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Bridge worker stderr is relayed through this logger, so worker output
// should never contain credentials.
package logging
