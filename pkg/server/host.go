package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/datagram"
	"mercator-hq/callisto/pkg/dispatch"
	"mercator-hq/callisto/pkg/httpsession"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/journal/retention"
	"mercator-hq/callisto/pkg/journal/storage"
	sectls "mercator-hq/callisto/pkg/security/tls"
	"mercator-hq/callisto/pkg/stream"
	"mercator-hq/callisto/pkg/telemetry/health"
	"mercator-hq/callisto/pkg/telemetry/logging"
	"mercator-hq/callisto/pkg/telemetry/metrics"
	"mercator-hq/callisto/pkg/telemetry/tracing"
	"mercator-hq/callisto/pkg/tlssession"
)

// Options configures a Host.
type Options struct {
	Config *config.Config

	// Identity overrides the identity described by the tls section.
	Identity *sectls.Identity

	// Raw receives plaintext when the http section is disabled.
	Raw stream.Stage

	// Packets handles packets when server.mode is "datagram".
	Packets datagram.Handler

	// Metrics defaults to a collector on a fresh registry.
	Metrics *metrics.Collector

	// Tracer defaults to the one built from telemetry.tracing.
	Tracer *tracing.Tracer

	Logger *slog.Logger
}

// Host is a stream pipeline assembled from configuration: registry, then
// TLS when enabled and an identity is available, then HTTP framing and the
// dispatcher, or a raw stage in place of HTTP.
type Host struct {
	cfg     *config.Config
	caps    Capability
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	logger  *slog.Logger

	registry   *stream.Registry
	tls        *tlssession.Layer
	http       *httpsession.Layer
	dispatcher *dispatch.Dispatcher
	sender     stream.Sender

	journal *journal.Recorder
	pruner  *retention.Pruner
	watcher *sectls.Watcher
	health  *health.Checker

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds the server selected by server.mode.
func New(opts Options) (Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server requires a config")
	}
	if opts.Config.Server.Mode == "datagram" {
		s := datagram.NewServer(datagram.ConfigFromConfig(opts.Config.Datagram, opts.Packets, opts.Metrics))
		return NewPacketHost(s), nil
	}
	h, err := NewHost(opts)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// NewHost assembles a stream pipeline. A missing or unusable TLS identity
// is logged and leaves TLS out of the pipeline.
func NewHost(opts Options) (*Host, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("host requires a config")
	}

	h := &Host{
		cfg:     cfg,
		caps:    CapBase | CapStream,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default().With("component", "server.host")
	}
	if h.metrics == nil {
		h.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	}
	if h.tracer == nil {
		t, err := tracing.New(&cfg.Telemetry.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracer: %w", err)
		}
		h.tracer = t
	}

	h.registry = stream.NewRegistry(stream.FromConfig(cfg.Stream, h.metrics))
	h.sender = h.registry

	if cfg.TLS.Enabled {
		if err := h.buildTLS(opts.Identity); err != nil {
			return nil, err
		}
	}

	var upper stream.Stage
	if cfg.HTTP.Enabled {
		if err := h.buildHTTP(); err != nil {
			h.closeJournal()
			return nil, err
		}
		upper = h.http
		h.caps |= CapHTTP
	} else {
		if opts.Raw == nil {
			return nil, errors.New("raw mode requires a plaintext stage")
		}
		upper = opts.Raw
	}

	if h.tls != nil {
		h.tls.SetUpper(upper)
		h.registry.SetStage(h.tls)
	} else {
		h.registry.SetStage(upper)
	}

	h.registerChecks()

	h.logger.Info("host assembled",
		"hostname", cfg.Server.Hostname,
		"capabilities", h.caps.String(),
		"journal", h.journal != nil,
	)
	return h, nil
}

func (h *Host) buildTLS(id *sectls.Identity) error {
	if id == nil {
		var err error
		id, err = sectls.FromConfig(h.cfg.TLS)
		if err != nil {
			h.logger.Error("tls identity unavailable, serving plaintext", "mode", h.cfg.TLS.Mode, "error", err)
			return nil
		}
	}

	layer, err := tlssession.NewLayer(tlssession.Config{
		Identity:     id,
		Engine:       sectls.EngineConfigFromConfig(h.cfg.TLS),
		Transport:    h.registry,
		MaxPlaintext: h.cfg.Stream.MaxIncomingBytes,
		Metrics:      h.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create tls layer: %w", err)
	}
	h.tls = layer
	h.sender = layer
	h.caps |= CapTLS

	if h.cfg.TLS.Watch && h.cfg.TLS.Mode == "file" {
		w, err := sectls.NewWatcher(h.cfg.TLS.CertFile, h.cfg.TLS.KeyFile,
			sectls.WithOnChange(func(next *sectls.Identity) {
				if err := layer.SetIdentity(next); err != nil {
					h.logger.Error("failed to install reloaded identity", "error", err)
					return
				}
				h.logger.Info("tls identity reloaded", "subject", next.Leaf().Subject.CommonName)
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to create certificate watcher: %w", err)
		}
		h.watcher = w
	}
	return nil
}

func (h *Host) buildHTTP() error {
	policy, err := dispatch.PolicyFromConfig(h.cfg.HTTP.ParseErrorPolicy)
	if err != nil {
		return err
	}

	dcfg := dispatch.Config{
		Sender:      h.sender,
		ParseErrors: policy,
		Sessions:    h.registry,
		Tracer:      h.tracer,
		Metrics:     h.metrics,
	}
	if h.cfg.Journal.Enabled {
		store, err := storage.Open(h.cfg.Journal)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		rcfg := journal.RecorderConfigFromConfig(h.cfg.Journal, h.metrics)
		rcfg.Redactor = logging.NewHeaderRedactor(h.cfg.Telemetry.Logging.RedactHeaders...)
		h.journal = journal.NewRecorder(store, rcfg)
		h.pruner = retention.NewPruner(store, retention.ConfigFromConfig(h.cfg.Journal, h.metrics))
		dcfg.Journal = h.journal
	}
	h.dispatcher = dispatch.New(dcfg)

	layer, err := httpsession.NewLayer(httpsession.Config{
		Limits:    httpsession.LimitsFromConfig(h.cfg.HTTP),
		Router:    h.dispatcher,
		Transport: h.registry,
		Metrics:   h.metrics,
	})
	if err != nil {
		return err
	}
	h.http = layer
	return nil
}

// Capabilities implements Server.
func (h *Host) Capabilities() Capability { return h.caps }

// OnConnect implements StreamServer.
func (h *Host) OnConnect(id stream.ID, port uint16) error {
	return h.registry.Connect(id, port)
}

// OnDisconnect implements StreamServer.
func (h *Host) OnDisconnect(id stream.ID) {
	_ = h.registry.Disconnect(id)
}

// OnInboundBytes implements StreamServer. A nil buffer is refused.
func (h *Host) OnInboundBytes(id stream.ID, buf []byte) bool {
	if buf == nil {
		return false
	}
	return h.registry.AppendIncoming(id, buf)
}

// OnOutboundPoll implements StreamServer. A nil buffer gets nothing.
func (h *Host) OnOutboundPoll(id stream.ID, buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	n, _ := h.registry.DrainInto(id, buf)
	return n
}

// Retire implements StreamServer.
func (h *Host) Retire(id stream.ID) {
	h.registry.Retire(id)
}

// Send queues data for id, or every connection when id is stream.Broadcast,
// through TLS when the pipeline terminates it.
func (h *Host) Send(id stream.ID, data []byte) error {
	return h.sender.Send(id, data)
}

// Handle registers a verb handler.
func (h *Host) Handle(method string, handler dispatch.Handler) error {
	if h.dispatcher == nil {
		return errors.New("http is disabled")
	}
	return h.dispatcher.Handle(method, handler)
}

// Registry returns the connection registry.
func (h *Host) Registry() *stream.Registry { return h.registry }

// Dispatcher returns the dispatcher, nil in raw mode.
func (h *Host) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// TLS returns the TLS layer, nil when the pipeline is plaintext.
func (h *Host) TLS() *tlssession.Layer { return h.tls }

// Journal returns the request journal, nil when disabled.
func (h *Host) Journal() *journal.Recorder { return h.journal }

// Metrics returns the host's collector.
func (h *Host) Metrics() *metrics.Collector { return h.metrics }

// Health returns the readiness checks of the host's components.
func (h *Host) Health() *health.Checker { return h.health }

// registerChecks adds a check per component that can fail after assembly:
// the TLS identity can expire and the journal store can become unreachable.
func (h *Host) registerChecks() {
	h.health = health.New(0)
	if h.tls != nil {
		h.health.RegisterCheck("tls_identity", func(context.Context) error {
			id := h.tls.Identity()
			if id == nil {
				return sectls.ErrNoIdentity
			}
			return sectls.ValidateX509Certificate(id.Leaf())
		})
	}
	if h.journal != nil {
		store := h.journal.Store()
		h.health.RegisterCheck("journal", func(ctx context.Context) error {
			_, err := store.Count(ctx, &journal.Query{})
			return err
		})
	}
}

func (h *Host) closeJournal() {
	if h.journal == nil {
		return
	}
	if err := h.journal.Close(); err != nil {
		h.logger.Error("failed to close journal", "error", err)
	}
}
