// Package retention removes journal entries older than the configured
// retention period, on demand or on a cron schedule.
//
//	pruner := retention.NewPruner(store, retention.ConfigFromConfig(cfg.Journal, collector))
//	if err := pruner.Start(ctx); err != nil {
//	    return err
//	}
//	defer pruner.Stop()
package retention
