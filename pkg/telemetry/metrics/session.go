package metrics

import (
	"mercator-hq/callisto/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// TLSMetrics tracks TLS session activity.
type TLSMetrics struct {
	handshakes        *prometheus.CounterVec
	handshakeDuration prometheus.Histogram
	resets            prometheus.Counter
	sessionsActive    prometheus.Gauge
}

// NewTLSMetrics creates and registers TLS metrics with the provided registry.
func NewTLSMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *TLSMetrics {
	tm := &TLSMetrics{
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tls_handshakes_total",
				Help:      "Completed TLS handshakes by result",
			},
			[]string{"result"},
		),

		handshakeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tls_handshake_duration_seconds",
				Help:      "Time from first ciphertext to handshake completion",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		resets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tls_resets_total",
				Help:      "Sessions rebuilt after the peer sent close_notify",
			},
		),

		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tls_sessions_active",
				Help:      "Number of live TLS sessions",
			},
		),
	}

	registry.MustRegister(
		tm.handshakes,
		tm.handshakeDuration,
		tm.resets,
		tm.sessionsActive,
	)

	return tm
}

// HTTPMetrics tracks HTTP framing.
type HTTPMetrics struct {
	parsed      prometheus.Counter
	parseErrors *prometheus.CounterVec
	bodySize    prometheus.Histogram
}

// NewHTTPMetrics creates and registers HTTP metrics with the provided registry.
func NewHTTPMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *HTTPMetrics {
	hm := &HTTPMetrics{
		parsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_requests_parsed_total",
				Help:      "Complete HTTP requests framed from connection input",
			},
		),

		parseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_parse_errors_total",
				Help:      "Malformed HTTP input by error kind",
			},
			[]string{"kind"},
		),

		bodySize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_request_body_bytes",
				Help:      "Size of parsed request bodies",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
			},
		),
	}

	registry.MustRegister(
		hm.parsed,
		hm.parseErrors,
		hm.bodySize,
	)

	return hm
}

// DispatchMetrics tracks verb dispatch.
type DispatchMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewDispatchMetrics creates and registers dispatch metrics with the provided registry.
func NewDispatchMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DispatchMetrics {
	dm := &DispatchMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dispatch_total",
				Help:      "Parsed requests routed to the verb table",
			},
			[]string{"method", "result"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dispatch_duration_seconds",
				Help:      "Handler execution time in seconds",
				Buckets:   cfg.DispatchDurationBuckets,
			},
			[]string{"method"},
		),
	}

	registry.MustRegister(dm.total, dm.duration)

	return dm
}

// JournalMetrics tracks request journal writes and pruning.
type JournalMetrics struct {
	recorded *prometheus.CounterVec
	pruned   prometheus.Counter
}

// NewJournalMetrics creates and registers journal metrics with the provided registry.
func NewJournalMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *JournalMetrics {
	jm := &JournalMetrics{
		recorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "journal_entries_total",
				Help:      "Journal writes by result",
			},
			[]string{"result"},
		),

		pruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "journal_pruned_total",
				Help:      "Journal entries removed by retention",
			},
		),
	}

	registry.MustRegister(jm.recorded, jm.pruned)

	return jm
}
