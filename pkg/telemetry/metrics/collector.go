package metrics

import (
	"time"

	"mercator-hq/callisto/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus metric recorded by the session pipeline.
// All recording methods are safe on a nil *Collector and return immediately
// when metrics are disabled, so pipeline packages call them unconditionally.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	stream   *StreamMetrics
	tls      *TLSMetrics
	http     *HTTPMetrics
	dispatch *DispatchMetrics
	journal  *JournalMetrics
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "callisto",
//		Subsystem: "pipeline",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.DispatchDurationBuckets) == 0 {
		cfg.DispatchDurationBuckets = append([]float64(nil), config.DefaultDispatchDurationBuckets...)
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		stream:   NewStreamMetrics(cfg, registry),
		tls:      NewTLSMetrics(cfg, registry),
		http:     NewHTTPMetrics(cfg, registry),
		dispatch: NewDispatchMetrics(cfg, registry),
		journal:  NewJournalMetrics(cfg, registry),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// ConnectionOpened records a driver OnConnect.
func (c *Collector) ConnectionOpened() {
	if !c.enabled() {
		return
	}
	c.stream.connectionEvents.WithLabelValues("connect").Inc()
	c.stream.connectionsActive.Inc()
}

// ConnectionClosed records a transition from Connected to Disconnected.
func (c *Collector) ConnectionClosed() {
	if !c.enabled() {
		return
	}
	c.stream.connectionEvents.WithLabelValues("disconnect").Inc()
	c.stream.connectionsActive.Dec()
}

// ConnectionRetired records removal of a connection record.
func (c *Collector) ConnectionRetired() {
	if !c.enabled() {
		return
	}
	c.stream.connectionEvents.WithLabelValues("retire").Inc()
}

// BytesIn records raw bytes accepted from the driver.
func (c *Collector) BytesIn(n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.stream.bytes.WithLabelValues("in").Add(float64(n))
}

// BytesOut records raw bytes handed to the driver on poll.
func (c *Collector) BytesOut(n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.stream.bytes.WithLabelValues("out").Add(float64(n))
}

// Overflow records a buffer bound being hit ("incoming" or "outgoing").
func (c *Collector) Overflow(direction string) {
	if !c.enabled() {
		return
	}
	c.stream.overflows.WithLabelValues(direction).Inc()
}

// Stalled records connections disconnected by the stall sweep.
func (c *Collector) Stalled(n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.stream.stalled.Add(float64(n))
}

// Handshake records a finished TLS handshake with result "ok" or "failed".
func (c *Collector) Handshake(result string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.tls.handshakes.WithLabelValues(result).Inc()
	c.tls.handshakeDuration.Observe(duration.Seconds())
}

// TLSReset records a session rebuilt after peer close_notify.
func (c *Collector) TLSReset() {
	if !c.enabled() {
		return
	}
	c.tls.resets.Inc()
}

// TLSSessionsActive sets the number of live TLS sessions.
func (c *Collector) TLSSessionsActive(n int) {
	if !c.enabled() {
		return
	}
	c.tls.sessionsActive.Set(float64(n))
}

// RequestParsed records a complete HTTP request and its body size.
func (c *Collector) RequestParsed(bodyBytes int) {
	if !c.enabled() {
		return
	}
	c.http.parsed.Inc()
	c.http.bodySize.Observe(float64(bodyBytes))
}

// ParseError records a malformed HTTP request by error kind.
func (c *Collector) ParseError(kind string) {
	if !c.enabled() {
		return
	}
	c.http.parseErrors.WithLabelValues(kind).Inc()
}

// Dispatch records a routed request.
//
// Parameters:
//   - method: request method as sent by the peer
//   - result: "handled" or "no_handler"
//   - duration: handler execution time (zero when no handler ran)
func (c *Collector) Dispatch(method, result string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	method = normalizeMethod(method)
	c.dispatch.total.WithLabelValues(method, result).Inc()
	if result == "handled" {
		c.dispatch.duration.WithLabelValues(method).Observe(duration.Seconds())
	}
}

// JournalRecorded records a journal write with result "ok" or "error".
func (c *Collector) JournalRecorded(result string) {
	if !c.enabled() {
		return
	}
	c.journal.recorded.WithLabelValues(result).Inc()
}

// JournalPruned records entries removed by retention.
func (c *Collector) JournalPruned(n int64) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.journal.pruned.Add(float64(n))
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// normalizeMethod bounds label cardinality: peers may send any token as the
// method, so everything outside the dispatchable verbs is folded into "other".
func normalizeMethod(method string) string {
	switch method {
	case "GET", "PUT", "POST", "COPY", "DELETE":
		return method
	default:
		return "other"
	}
}
