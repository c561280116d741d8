package retention

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days entries are kept.
	// 0 keeps entries forever.
	RetentionDays int

	// PruneSchedule is a cron expression for scheduled pruning.
	// Example: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string

	Metrics *metrics.Collector

	// Now defaults to time.Now.
	Now func() time.Time
}

// ConfigFromConfig converts the journal section into a retention Config.
func ConfigFromConfig(cfg config.JournalConfig, m *metrics.Collector) *Config {
	return &Config{
		RetentionDays: cfg.RetentionDays,
		PruneSchedule: cfg.PruneSchedule,
		Metrics:       m,
	}
}

// Pruner enforces the retention period on a journal store.
type Pruner struct {
	store     journal.Store
	config    *Config
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewPruner creates a new retention pruner.
func NewPruner(store journal.Store, cfg *Config) *Pruner {
	if cfg == nil {
		cfg = &Config{
			RetentionDays: config.DefaultJournalRetention,
			PruneSchedule: config.DefaultJournalPrune,
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Pruner{
		store:  store,
		config: cfg,
		logger: slog.Default().With("component", "journal.retention"),
	}
	p.scheduler = NewScheduler(p)
	return p
}

// Prune deletes entries recorded before the retention cutoff and returns
// how many were removed.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.RetentionDays <= 0 {
		p.logger.Debug("retention disabled, nothing pruned")
		return 0, nil
	}

	cutoff := p.config.Now().AddDate(0, 0, -p.config.RetentionDays)
	p.logger.Debug("pruning by age",
		"cutoff_time", cutoff,
		"retention_days", p.config.RetentionDays,
	)

	// Until is inclusive; entries recorded exactly at the cutoff are
	// already older than the retention period.
	deleted, err := p.store.Delete(ctx, &journal.Query{Until: &cutoff})
	if err != nil {
		return 0, journal.NewRetentionError(p.config.RetentionDays, err)
	}

	p.config.Metrics.JournalPruned(deleted)
	if deleted > 0 {
		p.logger.Info("journal pruning completed",
			"deleted_count", deleted,
			"retention_days", p.config.RetentionDays,
		)
	}
	return deleted, nil
}

// Start starts the pruning scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the pruning scheduler.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled pruning.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
