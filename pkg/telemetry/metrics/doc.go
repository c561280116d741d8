// Package metrics provides Prometheus metrics collection for Callisto.
//
// # Metrics Categories
//
//   - Stream: connection events, active connections, raw bytes, overflows
//   - TLS: handshakes by result, handshake latency, resets, live sessions
//   - HTTP: parsed requests, parse errors by kind, body sizes
//   - Dispatch: routed requests by method and result, handler latency
//   - Journal: writes by result, pruned entries
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//
//	collector.ConnectionOpened()
//	collector.Dispatch("GET", "handled", 300*time.Microsecond)
//
// Every recording method accepts a nil receiver, so a pipeline built without
// metrics passes a nil *Collector around.
//
// # Cardinality
//
// The only unbounded input is the request method chosen by the peer. Methods
// outside GET, PUT, POST, COPY and DELETE are recorded as "other".
package metrics
