package config

import "time"

// Config is the root configuration structure for Callisto.
// It contains every section needed to assemble a session pipeline: stream
// buffering, TLS termination, HTTP framing, the datagram variant, the
// request journal, and telemetry.
type Config struct {
	// Server identifies the hostname this instance serves and which call
	// pattern (stream or datagram) the driver is expected to use.
	Server ServerConfig `yaml:"server"`

	// Stream contains per-connection buffer limits.
	Stream StreamConfig `yaml:"stream"`

	// TLS contains identity and engine settings for TLS termination.
	TLS TLSConfig `yaml:"tls"`

	// HTTP contains HTTP/1.x framing limits and the parse error policy.
	HTTP HTTPConfig `yaml:"http"`

	// Datagram contains settings for the connectionless packet server.
	Datagram DatagramConfig `yaml:"datagram"`

	// Journal contains configuration for recording dispatched requests.
	Journal JournalConfig `yaml:"journal"`

	// Telemetry contains configuration for logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig describes the served host.
type ServerConfig struct {
	// Hostname is the name the driver resolved to this instance. It is
	// also the default subject for generated TLS identities.
	// Default: "localhost"
	Hostname string `yaml:"hostname"`

	// Mode selects the driver call pattern: "stream" (per-connection
	// ordered bytes) or "datagram" (address-qualified packets).
	// Default: "stream"
	Mode string `yaml:"mode"`
}

// StreamConfig contains per-connection buffer limits.
type StreamConfig struct {
	// MaxIncomingBytes bounds unconsumed inbound bytes per connection.
	// Exceeding it drops the chunk and disconnects the connection.
	// A negative value disables the bound.
	// Default: 4194304 (4MB)
	MaxIncomingBytes int `yaml:"max_incoming_bytes"`

	// MaxOutgoingBytes bounds queued outbound bytes per connection.
	// Appends that would exceed it fail with an overflow error.
	// A negative value disables the bound.
	// Default: 16777216 (16MB)
	MaxOutgoingBytes int `yaml:"max_outgoing_bytes"`

	// PollBufferBytes is the read size used by offline drivers such as
	// the replay command.
	// Default: 65536
	PollBufferBytes int `yaml:"poll_buffer_bytes"`
}

// TLSConfig contains identity and engine configuration.
type TLSConfig struct {
	// Enabled controls whether a TLS stage is placed in the pipeline.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Mode selects how the identity is produced: "generate" creates a
	// self-signed certificate for Hostname, "file" loads CertFile/KeyFile.
	// Default: "generate"
	Mode string `yaml:"mode"`

	// Hostname is the subject name for generated certificates.
	// Default: server.hostname
	Hostname string `yaml:"hostname"`

	// Organization is the subject organization for generated certificates.
	// Default: "Callisto"
	Organization string `yaml:"organization"`

	// ValidityDays is the validity window for generated certificates.
	// Default: 365
	ValidityDays int `yaml:"validity_days"`

	// KeySize is the RSA modulus size for generated keys.
	// Default: 2048
	KeySize int `yaml:"key_size"`

	// CertFile is the PEM certificate path used in "file" mode.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the PEM private key path used in "file" mode.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum accepted protocol version ("1.2" or "1.3").
	// Default: "1.2"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts TLS 1.2 cipher suites. Empty uses Go defaults.
	CipherSuites []string `yaml:"cipher_suites"`

	// HandshakeTimeout tears down sessions that have not completed the
	// handshake within the duration. Zero disables the timeout.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// Watch rebuilds the identity when CertFile or KeyFile change on disk.
	// Only valid in "file" mode.
	Watch bool `yaml:"watch"`

	// ExpiryCheckSchedule is a cron expression for the certificate expiry
	// check.
	// Default: "0 6 * * *"
	ExpiryCheckSchedule string `yaml:"expiry_check_schedule"`
}

// HTTPConfig contains HTTP framing configuration.
type HTTPConfig struct {
	// Enabled controls whether an HTTP stage is placed in the pipeline.
	// When disabled the host forwards plaintext to a raw stage.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// MaxHeaderBytes bounds the request line plus header section.
	// Default: 65536 (64KB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes bounds a single request body.
	// Default: 8388608 (8MB)
	MaxBodyBytes int `yaml:"max_body_bytes"`

	// ParseErrorPolicy selects what happens on malformed input:
	// "reject" answers 400/413 with Connection: close and disconnects,
	// "disconnect" disconnects without answering.
	// Default: "reject"
	ParseErrorPolicy string `yaml:"parse_error_policy"`

	// StallTimeout disconnects connections holding partial input with no
	// inbound bytes for the duration. Zero disables the sweep.
	StallTimeout time.Duration `yaml:"stall_timeout"`

	// StallSweepSchedule is the cron expression for the stall sweep.
	// Default: "@every 30s"
	StallSweepSchedule string `yaml:"stall_sweep_schedule"`
}

// DatagramConfig contains settings for the packet server.
type DatagramConfig struct {
	// MaxPackets bounds the outgoing packet queue.
	// Default: 1024
	MaxPackets int `yaml:"max_packets"`
}

// JournalConfig contains configuration for the request journal.
type JournalConfig struct {
	// Enabled controls whether dispatched requests are recorded.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend selects the storage: "memory" or "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite backend configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// MaxBodyBytes is the prefix of each request body kept in the journal.
	// Default: 1024
	MaxBodyBytes int `yaml:"max_body_bytes"`

	// RetentionDays is how long entries are kept.
	// Default: 30
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron expression for retention pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// SQLiteConfig contains SQLite backend configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/journal.db"
	Path string `yaml:"path"`

	// Driver selects the database/sql driver: "sqlite" (pure Go) or
	// "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json", "text" or "console".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactHeaders lists additional header names whose values are
	// redacted in logs. Authorization and cookie headers are always
	// redacted.
	RedactHeaders []string `yaml:"redact_headers"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are recorded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric namespace.
	// Default: "callisto"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem.
	// Default: "pipeline"
	Subsystem string `yaml:"subsystem"`

	// DispatchDurationBuckets are histogram buckets (seconds) for handler
	// execution time.
	DispatchDurationBuckets []float64 `yaml:"dispatch_duration_buckets"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address (host:port).
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables transport security to the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of dispatches traced (0.0-1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the resource service name.
	// Default: "callisto"
	ServiceName string `yaml:"service_name"`

	// Timeout bounds exporter calls.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
