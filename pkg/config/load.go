package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "CALLISTO_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of NewDefault, remaining zero values receive
// defaults, and the result is validated. Environment variables are not
// consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration bytes on top of the defaults. It does not
// validate the result.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention CALLISTO_SECTION_FIELD (e.g., CALLISTO_TLS_CERT_FILE) and always
// take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file on top of defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg, os.LookupEnv)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// applyEnvOverrides applies environment variable overrides to the configuration.
// Malformed numeric, boolean and duration values are ignored and leave the
// file value in place.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) {
	o := overrider{lookup: lookup}

	// Server
	o.str("SERVER_HOSTNAME", &cfg.Server.Hostname)
	o.str("SERVER_MODE", &cfg.Server.Mode)

	// Stream
	o.integer("STREAM_MAX_INCOMING_BYTES", &cfg.Stream.MaxIncomingBytes)
	o.integer("STREAM_MAX_OUTGOING_BYTES", &cfg.Stream.MaxOutgoingBytes)
	o.integer("STREAM_POLL_BUFFER_BYTES", &cfg.Stream.PollBufferBytes)

	// TLS
	o.boolean("TLS_ENABLED", &cfg.TLS.Enabled)
	o.str("TLS_MODE", &cfg.TLS.Mode)
	o.str("TLS_HOSTNAME", &cfg.TLS.Hostname)
	o.str("TLS_ORGANIZATION", &cfg.TLS.Organization)
	o.integer("TLS_VALIDITY_DAYS", &cfg.TLS.ValidityDays)
	o.str("TLS_CERT_FILE", &cfg.TLS.CertFile)
	o.str("TLS_KEY_FILE", &cfg.TLS.KeyFile)
	o.str("TLS_MIN_VERSION", &cfg.TLS.MinVersion)
	o.list("TLS_CIPHER_SUITES", &cfg.TLS.CipherSuites)
	o.duration("TLS_HANDSHAKE_TIMEOUT", &cfg.TLS.HandshakeTimeout)
	o.boolean("TLS_WATCH", &cfg.TLS.Watch)
	o.str("TLS_EXPIRY_CHECK_SCHEDULE", &cfg.TLS.ExpiryCheckSchedule)

	// HTTP
	o.boolean("HTTP_ENABLED", &cfg.HTTP.Enabled)
	o.integer("HTTP_MAX_HEADER_BYTES", &cfg.HTTP.MaxHeaderBytes)
	o.integer("HTTP_MAX_BODY_BYTES", &cfg.HTTP.MaxBodyBytes)
	o.str("HTTP_PARSE_ERROR_POLICY", &cfg.HTTP.ParseErrorPolicy)
	o.duration("HTTP_STALL_TIMEOUT", &cfg.HTTP.StallTimeout)
	o.str("HTTP_STALL_SWEEP_SCHEDULE", &cfg.HTTP.StallSweepSchedule)

	// Datagram
	o.integer("DATAGRAM_MAX_PACKETS", &cfg.Datagram.MaxPackets)

	// Journal
	o.boolean("JOURNAL_ENABLED", &cfg.Journal.Enabled)
	o.str("JOURNAL_BACKEND", &cfg.Journal.Backend)
	o.str("JOURNAL_SQLITE_PATH", &cfg.Journal.SQLite.Path)
	o.str("JOURNAL_SQLITE_DRIVER", &cfg.Journal.SQLite.Driver)
	o.boolean("JOURNAL_SQLITE_WAL_MODE", &cfg.Journal.SQLite.WALMode)
	o.duration("JOURNAL_SQLITE_BUSY_TIMEOUT", &cfg.Journal.SQLite.BusyTimeout)
	o.integer("JOURNAL_MAX_BODY_BYTES", &cfg.Journal.MaxBodyBytes)
	o.integer("JOURNAL_RETENTION_DAYS", &cfg.Journal.RetentionDays)
	o.str("JOURNAL_PRUNE_SCHEDULE", &cfg.Journal.PruneSchedule)

	// Telemetry
	o.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	o.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	o.boolean("TELEMETRY_LOGGING_ADD_SOURCE", &cfg.Telemetry.Logging.AddSource)
	o.boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	o.str("TELEMETRY_METRICS_NAMESPACE", &cfg.Telemetry.Metrics.Namespace)
	o.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	o.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	o.boolean("TELEMETRY_TRACING_INSECURE", &cfg.Telemetry.Tracing.Insecure)
	o.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
	o.str("TELEMETRY_TRACING_SERVICE_NAME", &cfg.Telemetry.Tracing.ServiceName)
}

// overrider reads CALLISTO_-prefixed variables into typed fields.
type overrider struct {
	lookup lookupFunc
}

func (o overrider) get(key string) (string, bool) {
	val, ok := o.lookup(EnvPrefix + key)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (o overrider) str(key string, dst *string) {
	if val, ok := o.get(key); ok {
		*dst = val
	}
}

func (o overrider) integer(key string, dst *int) {
	if val, ok := o.get(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func (o overrider) boolean(key string, dst *bool) {
	if val, ok := o.get(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func (o overrider) float(key string, dst *float64) {
	if val, ok := o.get(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func (o overrider) duration(key string, dst *time.Duration) {
	if val, ok := o.get(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// list splits a comma separated value, dropping empty entries.
func (o overrider) list(key string, dst *[]string) {
	val, ok := o.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
