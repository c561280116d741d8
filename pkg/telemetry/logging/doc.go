// Package logging provides structured logging with header redaction.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - JSON, text and console output formats
//   - Redaction of credential-bearing HTTP headers
//   - Context fields for the connection id and session uuid
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	logger.Install()
//
//	// Pipeline packages derive their loggers from the default.
//	log := slog.Default().With("component", "stream.registry")
//	log.Info("connection opened", "connection", id)
//
//	// The dispatcher puts connection fields on the handler context.
//	log.Warn("handler failed", logging.ContextAttrs(ctx, "error", err)...)
//
// # Header Redaction
//
// Authorization, Proxy-Authorization, Cookie and Set-Cookie values are
// always replaced with [REDACTED]. Config.RedactHeaders adds more names.
package logging
