package metrics

import (
	"mercator-hq/callisto/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics tracks connection registry activity.
//
// Metrics:
//   - callisto_pipeline_connection_events_total: connect/disconnect/retire
//   - callisto_pipeline_connections_active: currently Connected records
//   - callisto_pipeline_bytes_total: raw bytes by direction
//   - callisto_pipeline_buffer_overflows_total: bound hits by direction
//   - callisto_pipeline_stalled_disconnects_total: stall sweep disconnects
type StreamMetrics struct {
	connectionEvents  *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	bytes             *prometheus.CounterVec
	overflows         *prometheus.CounterVec
	stalled           prometheus.Counter
}

// NewStreamMetrics creates and registers stream metrics with the provided registry.
func NewStreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StreamMetrics {
	sm := &StreamMetrics{
		connectionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "connection_events_total",
				Help:      "Connection lifecycle events reported by the driver",
			},
			[]string{"event"},
		),

		connectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "connections_active",
				Help:      "Number of connections in the Connected state",
			},
		),

		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "bytes_total",
				Help:      "Raw bytes exchanged with the driver",
			},
			[]string{"direction"},
		),

		overflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "buffer_overflows_total",
				Help:      "Appends rejected because a connection buffer was full",
			},
			[]string{"direction"},
		),

		stalled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "stalled_disconnects_total",
				Help:      "Connections disconnected for holding partial input too long",
			},
		),
	}

	registry.MustRegister(
		sm.connectionEvents,
		sm.connectionsActive,
		sm.bytes,
		sm.overflows,
		sm.stalled,
	)

	return sm
}
