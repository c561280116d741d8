package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "tls.cert_file").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Has reports whether a field error was recorded for the dotted path.
func (e ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStream(&cfg.Stream)...)
	errs = append(errs, validateTLS(&cfg.TLS)...)
	errs = append(errs, validateHTTP(&cfg.HTTP)...)
	errs = append(errs, validateDatagram(&cfg.Datagram)...)
	errs = append(errs, validateJournal(&cfg.Journal)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(cfg.Hostname) == "" {
		errs = append(errs, FieldError{
			Field:   "server.hostname",
			Message: "hostname is required",
		})
	}

	if cfg.Mode != "stream" && cfg.Mode != "datagram" {
		errs = append(errs, FieldError{
			Field:   "server.mode",
			Message: fmt.Sprintf("invalid mode %q: must be 'stream' or 'datagram'", cfg.Mode),
		})
	}

	return errs
}

func validateStream(cfg *StreamConfig) []FieldError {
	var errs []FieldError

	if cfg.PollBufferBytes <= 0 {
		errs = append(errs, FieldError{
			Field:   "stream.poll_buffer_bytes",
			Message: "poll buffer bytes must be positive",
		})
	}

	return errs
}

func validateTLS(cfg *TLSConfig) []FieldError {
	var errs []FieldError

	// Disabled TLS is never inspected further.
	if !cfg.Enabled {
		return errs
	}

	switch cfg.Mode {
	case "generate":
		if cfg.Hostname == "" {
			errs = append(errs, FieldError{
				Field:   "tls.hostname",
				Message: "hostname is required when mode is 'generate'",
			})
		}
		if cfg.ValidityDays <= 0 {
			errs = append(errs, FieldError{
				Field:   "tls.validity_days",
				Message: "validity days must be positive",
			})
		}
		if cfg.KeySize < 2048 {
			errs = append(errs, FieldError{
				Field:   "tls.key_size",
				Message: "key size must be at least 2048 bits",
			})
		}
		if cfg.Watch {
			errs = append(errs, FieldError{
				Field:   "tls.watch",
				Message: "watch requires mode 'file'",
			})
		}
	case "file":
		if cfg.CertFile == "" {
			errs = append(errs, FieldError{
				Field:   "tls.cert_file",
				Message: "certificate file is required when mode is 'file'",
			})
		}
		if cfg.KeyFile == "" {
			errs = append(errs, FieldError{
				Field:   "tls.key_file",
				Message: "key file is required when mode is 'file'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "tls.mode",
			Message: fmt.Sprintf("invalid mode %q: must be 'generate' or 'file'", cfg.Mode),
		})
	}

	if cfg.MinVersion != "1.2" && cfg.MinVersion != "1.3" {
		errs = append(errs, FieldError{
			Field:   "tls.min_version",
			Message: fmt.Sprintf("invalid min version %q: must be '1.2' or '1.3'", cfg.MinVersion),
		})
	}

	if cfg.HandshakeTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "tls.handshake_timeout",
			Message: "handshake timeout must be non-negative",
		})
	}

	errs = append(errs, validateSchedule("tls.expiry_check_schedule", cfg.ExpiryCheckSchedule)...)

	return errs
}

func validateHTTP(cfg *HTTPConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxHeaderBytes <= 0 {
		errs = append(errs, FieldError{
			Field:   "http.max_header_bytes",
			Message: "max header bytes must be positive",
		})
	}
	if cfg.MaxHeaderBytes > 10*1024*1024 { // 10MB is excessive
		errs = append(errs, FieldError{
			Field:   "http.max_header_bytes",
			Message: "max header bytes exceeds reasonable limit (10MB)",
		})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{
			Field:   "http.max_body_bytes",
			Message: "max body bytes must be positive",
		})
	}

	if cfg.ParseErrorPolicy != "reject" && cfg.ParseErrorPolicy != "disconnect" {
		errs = append(errs, FieldError{
			Field:   "http.parse_error_policy",
			Message: fmt.Sprintf("invalid policy %q: must be 'reject' or 'disconnect'", cfg.ParseErrorPolicy),
		})
	}

	if cfg.StallTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "http.stall_timeout",
			Message: "stall timeout must be non-negative",
		})
	}
	// The sweep also serves tls.handshake_timeout.
	errs = append(errs, validateSchedule("http.stall_sweep_schedule", cfg.StallSweepSchedule)...)

	return errs
}

func validateDatagram(cfg *DatagramConfig) []FieldError {
	if cfg.MaxPackets <= 0 {
		return []FieldError{{
			Field:   "datagram.max_packets",
			Message: "max packets must be positive",
		}}
	}
	return nil
}

func validateJournal(cfg *JournalConfig) []FieldError {
	var errs []FieldError

	// If the journal is disabled, skip validation
	if !cfg.Enabled {
		return errs
	}

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "journal.sqlite.path",
				Message: "SQLite path is required when backend is 'sqlite'",
			})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "journal.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "journal.sqlite.busy_timeout",
				Message: "busy timeout must be non-negative",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "journal.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "journal.max_body_bytes",
			Message: "max body bytes must be non-negative",
		})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{
			Field:   "journal.retention_days",
			Message: "retention days must be non-negative",
		})
	}
	errs = append(errs, validateSchedule("journal.prune_schedule", cfg.PruneSchedule)...)

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Namespace == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.namespace",
			Message: "namespace is required when metrics are enabled",
		})
	}
	for i := 1; i < len(cfg.Metrics.DispatchDurationBuckets); i++ {
		if cfg.Metrics.DispatchDurationBuckets[i] <= cfg.Metrics.DispatchDurationBuckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.dispatch_duration_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: "sample ratio must be between 0.0 and 1.0",
			})
		}
	}

	return errs
}

// validateSchedule checks a cron expression with the same parser the
// background jobs use. An empty schedule is accepted and disables the job.
func validateSchedule(field, spec string) []FieldError {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return []FieldError{{
			Field:   field,
			Message: fmt.Sprintf("invalid cron schedule %q: %v", spec, err),
		}}
	}
	return nil
}
