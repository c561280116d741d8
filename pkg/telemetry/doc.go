// Package telemetry groups the observability building blocks the pipeline
// layers share.
//
// # Components
//
//   - logging: slog construction from configuration and header redaction
//   - metrics: a nil-safe Prometheus collector for connection, TLS, HTTP,
//     dispatch and journal counters
//   - tracing: OpenTelemetry spans around dispatch, exported over OTLP gRPC
//   - health: readiness checks for a host's components
//
// Every component accepts nil where it is optional: a nil *metrics.Collector
// records nothing and tracing.Noop returns a tracer that never exports.
//
//	cfg := config.GetConfig()
//	logger, _ := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	logger.Install()
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	http.Handle("/metrics", collector.Handler())
package telemetry
