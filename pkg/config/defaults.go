package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultHostname   = "localhost"
	DefaultServerMode = "stream"

	// Stream defaults
	DefaultMaxIncomingBytes = 4 << 20
	DefaultMaxOutgoingBytes = 16 << 20
	DefaultPollBufferBytes  = 64 << 10

	// TLS defaults
	DefaultTLSEnabled          = false
	DefaultTLSMode             = "generate"
	DefaultTLSOrganization     = "Callisto"
	DefaultTLSValidityDays     = 365
	DefaultTLSKeySize          = 2048
	DefaultTLSMinVersion       = "1.2"
	DefaultTLSExpirySchedule   = "0 6 * * *"
	DefaultTLSHandshakeTimeout = time.Duration(0)

	// HTTP defaults
	DefaultHTTPEnabled        = true
	DefaultMaxHeaderBytes     = 64 << 10
	DefaultMaxBodyBytes       = 8 << 20
	DefaultParseErrorPolicy   = "reject"
	DefaultStallSweepSchedule = "@every 30s"

	// Datagram defaults
	DefaultMaxPackets = 1024

	// Journal defaults
	DefaultJournalEnabled      = false
	DefaultJournalBackend      = "memory"
	DefaultJournalSQLitePath   = "data/journal.db"
	DefaultJournalSQLiteDriver = "sqlite"
	DefaultJournalWALMode      = true
	DefaultJournalBusyTimeout  = 5 * time.Second
	DefaultJournalMaxBodyBytes = 1024
	DefaultJournalRetention    = 30
	DefaultJournalPrune        = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultMetricsEnabled      = true
	DefaultMetricsNamespace    = "callisto"
	DefaultMetricsSubsystem    = "pipeline"
	DefaultTracingEnabled      = false
	DefaultTracingEndpoint     = "localhost:4317"
	DefaultTracingSampleRatio  = 1.0
	DefaultTracingServiceName  = "callisto"
	DefaultTracingTimeout      = 10 * time.Second
)

// DefaultDispatchDurationBuckets are histogram buckets tuned for handlers
// running inline on the driver thread (100µs - 1s).
var DefaultDispatchDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0}

// NewDefault returns a configuration populated with every default value
// except tls.hostname. Call ApplyDefaults before using it directly.
// Boolean sections whose default is true are only expressible this way, so
// LoadConfig decodes YAML on top of NewDefault rather than a zero Config.
func NewDefault() *Config {
	cfg := &Config{
		TLS: TLSConfig{
			Enabled: DefaultTLSEnabled,
		},
		HTTP: HTTPConfig{
			Enabled: DefaultHTTPEnabled,
		},
		Journal: JournalConfig{
			Enabled: DefaultJournalEnabled,
			SQLite: SQLiteConfig{
				WALMode: DefaultJournalWALMode,
			},
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
			},
			Tracing: TracingConfig{
				Enabled: DefaultTracingEnabled,
			},
		},
	}
	ApplyDefaults(cfg)
	// tls.hostname follows server.hostname unless set explicitly, so it is
	// left for ApplyDefaults to resolve once the file has been decoded.
	cfg.TLS.Hostname = ""
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Hostname == "" {
		cfg.Server.Hostname = DefaultHostname
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}

	// Stream defaults
	if cfg.Stream.MaxIncomingBytes == 0 {
		cfg.Stream.MaxIncomingBytes = DefaultMaxIncomingBytes
	}
	if cfg.Stream.MaxOutgoingBytes == 0 {
		cfg.Stream.MaxOutgoingBytes = DefaultMaxOutgoingBytes
	}
	if cfg.Stream.PollBufferBytes == 0 {
		cfg.Stream.PollBufferBytes = DefaultPollBufferBytes
	}

	applyTLSDefaults(cfg)

	// HTTP defaults
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.HTTP.ParseErrorPolicy == "" {
		cfg.HTTP.ParseErrorPolicy = DefaultParseErrorPolicy
	}
	if cfg.HTTP.StallSweepSchedule == "" {
		cfg.HTTP.StallSweepSchedule = DefaultStallSweepSchedule
	}

	// Datagram defaults
	if cfg.Datagram.MaxPackets == 0 {
		cfg.Datagram.MaxPackets = DefaultMaxPackets
	}

	applyJournalDefaults(cfg)
	applyTelemetryDefaults(cfg)
}

func applyTLSDefaults(cfg *Config) {
	if cfg.TLS.Mode == "" {
		cfg.TLS.Mode = DefaultTLSMode
	}
	if cfg.TLS.Hostname == "" {
		cfg.TLS.Hostname = cfg.Server.Hostname
	}
	if cfg.TLS.Organization == "" {
		cfg.TLS.Organization = DefaultTLSOrganization
	}
	if cfg.TLS.ValidityDays == 0 {
		cfg.TLS.ValidityDays = DefaultTLSValidityDays
	}
	if cfg.TLS.KeySize == 0 {
		cfg.TLS.KeySize = DefaultTLSKeySize
	}
	if cfg.TLS.MinVersion == "" {
		cfg.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.TLS.ExpiryCheckSchedule == "" {
		cfg.TLS.ExpiryCheckSchedule = DefaultTLSExpirySchedule
	}
}

func applyJournalDefaults(cfg *Config) {
	if cfg.Journal.Backend == "" {
		cfg.Journal.Backend = DefaultJournalBackend
	}
	if cfg.Journal.SQLite.Path == "" {
		cfg.Journal.SQLite.Path = DefaultJournalSQLitePath
	}
	if cfg.Journal.SQLite.Driver == "" {
		cfg.Journal.SQLite.Driver = DefaultJournalSQLiteDriver
	}
	if cfg.Journal.SQLite.BusyTimeout == 0 {
		cfg.Journal.SQLite.BusyTimeout = DefaultJournalBusyTimeout
	}
	if cfg.Journal.MaxBodyBytes == 0 {
		cfg.Journal.MaxBodyBytes = DefaultJournalMaxBodyBytes
	}
	if cfg.Journal.RetentionDays == 0 {
		cfg.Journal.RetentionDays = DefaultJournalRetention
	}
	if cfg.Journal.PruneSchedule == "" {
		cfg.Journal.PruneSchedule = DefaultJournalPrune
	}
}

func applyTelemetryDefaults(cfg *Config) {
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.DispatchDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.DispatchDurationBuckets = append([]float64(nil), DefaultDispatchDurationBuckets...)
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
}
