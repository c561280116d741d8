package main

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/config")

var scheduleFlags struct {
	count  int
	format string
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [SPEC]",
	Short: "Show upcoming background job runs",
	Long: `Show the next run times of the host's background jobs: the stall sweep,
the TLS expiry check and journal pruning. Jobs that a host built from the
configuration would not schedule are left out.

With SPEC, show the next runs of that cron expression instead. Standard
five-field expressions and descriptors such as @daily or "@every 30s" are
accepted.

Examples:
  callisto schedule
  callisto schedule "0 3 * * *" --count 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: showSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().IntVar(&scheduleFlags.count, "count", 3, "runs to show per job")
	scheduleCmd.Flags().StringVar(&scheduleFlags.format, "format", "text", "output format: text, json, csv")
}

func showSchedule(cmd *cobra.Command, args []string) error {
	if scheduleFlags.count <= 0 {
		return fmt.Errorf("invalid count: %d", scheduleFlags.count)
	}
	out, err := formatter(scheduleFlags.format)
	if err != nil {
		return err
	}

	type job struct{ name, spec string }
	var jobs []job
	if len(args) == 1 {
		jobs = append(jobs, job{"custom", args[0]})
	} else {
		if err := initConfig(cmd); err != nil {
			return err
		}
		cfg := config.MustGetConfig()
		stallHTTP := cfg.HTTP.StallTimeout > 0
		stallTLS := cfg.TLS.Enabled && cfg.TLS.HandshakeTimeout > 0
		if stallHTTP || stallTLS {
			jobs = append(jobs, job{"stall-sweep", cfg.HTTP.StallSweepSchedule})
		}
		if cfg.TLS.Enabled && cfg.TLS.ExpiryCheckSchedule != "" {
			jobs = append(jobs, job{"tls-expiry-check", cfg.TLS.ExpiryCheckSchedule})
		}
		if cfg.Journal.Enabled && cfg.Journal.PruneSchedule != "" {
			jobs = append(jobs, job{"journal-prune", cfg.Journal.PruneSchedule})
		}
	}

	runs := &table{header: []string{"JOB", "SCHEDULE", "NEXT"}}
	start := now()
	for _, j := range jobs {
		sched, err := cron.ParseStandard(j.spec)
		if err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", j.spec, j.name, err)
		}
		t := start
		for range scheduleFlags.count {
			t = sched.Next(t)
			runs.add(j.name, j.spec, t.Format(time.RFC3339))
		}
	}

	if len(runs.rows) == 0 && scheduleFlags.format == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), "No background jobs configured")
		return nil
	}
	return out.FormatTo(cmd.OutOrStdout(), runs)
}
