package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/telemetry/logging"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

// RecorderConfig contains configuration for the journal recorder.
type RecorderConfig struct {
	// MaxBodyBytes is the body prefix kept per entry. Zero keeps no body;
	// a negative value keeps the whole body.
	MaxBodyBytes int

	// WriteTimeout bounds each store write. Zero leaves the caller's
	// context alone.
	WriteTimeout time.Duration

	// Redactor masks sensitive header values. Defaults to the logging
	// package's default redactor.
	Redactor *logging.HeaderRedactor

	Metrics *metrics.Collector
	Logger  *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// RecorderConfigFromConfig converts the journal section into a RecorderConfig.
func RecorderConfigFromConfig(cfg config.JournalConfig, m *metrics.Collector) RecorderConfig {
	return RecorderConfig{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Metrics:      m,
	}
}

// Recorder writes entries to a Store synchronously. Writes happen after the
// handler has returned; a failed write is logged and counted, never
// propagated into the pipeline.
type Recorder struct {
	store  Store
	config RecorderConfig
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, cfg RecorderConfig) *Recorder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "journal.recorder")
	}
	return &Recorder{store: store, config: cfg, logger: logger}
}

// Store returns the backing store.
func (r *Recorder) Store() Store {
	return r.store
}

// Record assigns an ID and timestamp, trims the body, redacts headers and
// persists the entry. entry is modified in place.
func (r *Recorder) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = r.config.Now()
	}

	switch limit := r.config.MaxBodyBytes; {
	case limit == 0:
		entry.BodyPrefix = nil
	case limit > 0 && len(entry.BodyPrefix) > limit:
		entry.BodyPrefix = entry.BodyPrefix[:limit]
	}

	for i, h := range entry.Headers {
		if r.config.Redactor != nil {
			entry.Headers[i].Value = r.config.Redactor.Redact(h.Field, h.Value)
		} else {
			entry.Headers[i].Value = logging.RedactHeader(h.Field, h.Value)
		}
	}

	if r.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.WriteTimeout)
		defer cancel()
	}

	if err := r.store.Store(ctx, entry); err != nil {
		r.config.Metrics.JournalRecorded("error")
		r.logger.Error("failed to record journal entry",
			"entry_id", entry.ID,
			"connection", entry.Connection,
			"method", entry.Method,
			"error", err,
		)
		return err
	}

	r.config.Metrics.JournalRecorded("ok")
	r.logger.Debug("journal entry recorded",
		"entry_id", entry.ID,
		"connection", entry.Connection,
		"method", entry.Method,
		"dispatched", entry.Dispatched,
	)
	return nil
}

// Close closes the backing store.
func (r *Recorder) Close() error {
	return r.store.Close()
}
