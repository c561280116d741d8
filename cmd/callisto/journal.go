package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/journal/export"
	"mercator-hq/callisto/pkg/journal/retention"
	"mercator-hq/callisto/pkg/journal/storage"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect and prune the request journal",
	Long: `Inspect and prune the journal of dispatched requests.

Only persistent backends can be read offline; the memory backend lives
inside the embedding process.

Subcommands:
  list   - List recorded requests
  export - Stream entries to a file as JSON lines or CSV
  prune  - Delete entries older than journal.retention_days`,
}

var listFlags struct {
	since      time.Duration
	method     string
	connection uint64
	dispatched string
	limit      int
	format     string
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded requests",
	Long: `List journal entries, oldest first.

Examples:
  # Requests from the last day
  callisto journal list --since 24h

  # Undispatched requests on connection 7, as CSV
  callisto journal list --connection 7 --dispatched false --format csv`,
	RunE: listEntries,
}

var exportFlags struct {
	since  time.Duration
	method string
	format string
	output string
}

var journalExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Stream entries to a file",
	Long: `Export journal entries oldest first, in pages, so the whole journal is
never held in memory.

Examples:
  # Everything as JSON lines on stdout
  callisto journal export

  # Last week's POST requests as CSV
  callisto journal export --since 168h --method POST --format csv --output posts.csv`,
	RunE: exportEntries,
}

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete entries past the retention period",
	RunE:  pruneEntries,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd, journalExportCmd, journalPruneCmd)

	f := journalListCmd.Flags()
	f.DurationVar(&listFlags.since, "since", 0, "only entries recorded within this duration")
	f.StringVar(&listFlags.method, "method", "", "filter by request method")
	f.Uint64Var(&listFlags.connection, "connection", 0, "filter by connection id")
	f.StringVar(&listFlags.dispatched, "dispatched", "", "filter by dispatch outcome: true or false")
	f.IntVar(&listFlags.limit, "limit", 100, "maximum entries to list (0 for all)")
	f.StringVar(&listFlags.format, "format", "text", "output format: text, json, csv")

	f = journalExportCmd.Flags()
	f.DurationVar(&exportFlags.since, "since", 0, "only entries recorded within this duration")
	f.StringVar(&exportFlags.method, "method", "", "filter by request method")
	f.StringVar(&exportFlags.format, "format", "jsonl", "export format: jsonl, csv")
	f.StringVarP(&exportFlags.output, "output", "o", "-", "output file, - for stdout")
}

// openJournal opens the configured persistent journal store.
func openJournal(cfg *config.Config) (journal.Store, error) {
	if !cfg.Journal.Enabled {
		return nil, errors.New("journal is not enabled in the configuration")
	}
	if cfg.Journal.Backend != "sqlite" {
		return nil, fmt.Errorf("journal backend %q cannot be read offline", cfg.Journal.Backend)
	}
	return storage.Open(cfg.Journal)
}

// entryTable lists entries as table rows.
type entryTable []*journal.Entry

func (e entryTable) Header() []string {
	return []string{"RECORDED_AT", "CONNECTION", "METHOD", "URL", "BODY_SIZE", "DISPATCHED", "DURATION", "ERROR"}
}

func (e entryTable) Rows() [][]string {
	rows := make([][]string, 0, len(e))
	for _, entry := range e {
		rows = append(rows, []string{
			entry.RecordedAt.Format(time.RFC3339),
			strconv.FormatUint(entry.Connection, 10),
			entry.Method,
			entry.URL,
			strconv.Itoa(entry.BodySize),
			strconv.FormatBool(entry.Dispatched),
			entry.Duration.String(),
			entry.Error,
		})
	}
	return rows
}

func listEntries(cmd *cobra.Command, args []string) error {
	out, err := formatter(listFlags.format)
	if err != nil {
		return err
	}

	q := &journal.Query{
		Method:     listFlags.method,
		Connection: listFlags.connection,
		Limit:      listFlags.limit,
	}
	if listFlags.since > 0 {
		since := now().Add(-listFlags.since)
		q.Since = &since
	}
	if listFlags.dispatched != "" {
		d, err := strconv.ParseBool(listFlags.dispatched)
		if err != nil {
			return fmt.Errorf("invalid --dispatched value %q", listFlags.dispatched)
		}
		q.Dispatched = &d
	}

	if err := initConfig(cmd); err != nil {
		return err
	}
	cfg := config.MustGetConfig()
	store, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	if listFlags.format == "json" {
		return out.FormatTo(cmd.OutOrStdout(), entries)
	}
	return out.FormatTo(cmd.OutOrStdout(), entryTable(entries))
}

func exportEntries(cmd *cobra.Command, args []string) error {
	exp, err := export.New(exportFlags.format)
	if err != nil {
		return cli.NewCommandError("journal export", err)
	}
	q := &journal.Query{Method: exportFlags.method}
	if exportFlags.since > 0 {
		since := now().Add(-exportFlags.since)
		q.Since = &since
	}

	if err := initConfig(cmd); err != nil {
		return err
	}
	cfg := config.MustGetConfig()
	store, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var w io.Writer = cmd.OutOrStdout()
	if exportFlags.output != "-" {
		f, err := os.Create(exportFlags.output)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		w = f
	}

	n, err := export.Stream(cmd.Context(), store, q, exp, w)
	if err != nil {
		return err
	}
	if exportFlags.output != "-" {
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", n, exportFlags.output)
	}
	return nil
}

func pruneEntries(cmd *cobra.Command, args []string) error {
	if err := initConfig(cmd); err != nil {
		return err
	}
	cfg := config.MustGetConfig()
	store, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rcfg := retention.ConfigFromConfig(cfg.Journal, nil)
	rcfg.Now = now
	deleted, err := retention.NewPruner(store, rcfg).Prune(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries older than %d days\n", deleted, cfg.Journal.RetentionDays)
	return nil
}
