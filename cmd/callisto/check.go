package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/server"
	"mercator-hq/callisto/pkg/stream"
)

var checkFlags struct {
	format string
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Assemble a host and run its readiness checks",
	Long: `Build a host from the configuration exactly as an embedding process would,
then run its readiness checks: the TLS identity when TLS is enabled and the
journal store when the journal is enabled.

The command fails when any check is unhealthy, which makes it usable as a
pre-deployment gate.

Examples:
  callisto check --config deploy/callisto.yaml
  callisto check --format json`,
	RunE: runChecks,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "output format: text, json, csv")
}

func runChecks(cmd *cobra.Command, args []string) error {
	out, err := formatter(checkFlags.format)
	if err != nil {
		return err
	}
	if err := initConfig(cmd); err != nil {
		return err
	}
	cfg := config.MustGetConfig()
	if cfg.Server.Mode == "datagram" {
		fmt.Fprintln(cmd.OutOrStdout(), "Datagram servers have no readiness checks")
		return nil
	}

	host, err := server.NewHost(server.Options{Config: cfg, Raw: stream.Discard})
	if err != nil {
		return err
	}
	defer func() { _ = host.Stop(context.Background()) }()

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	report := host.Health().Check(ctx)
	results := &table{header: []string{"CHECK", "STATUS", "DURATION", "MESSAGE"}}
	for _, name := range report.Names() {
		r := report.Checks[name]
		results.add(name, r.Status, r.Duration.String(), r.Message)
	}

	w := cmd.OutOrStdout()
	if checkFlags.format == "text" {
		fmt.Fprintf(w, "Capabilities: %s\n", host.Capabilities())
		if len(results.rows) > 0 {
			if err := out.FormatTo(w, results); err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "Status: %s\n", report.Status)
	} else if err := out.FormatTo(w, results); err != nil {
		return err
	}

	if !report.Ready() {
		return errors.New("host is not ready")
	}
	return nil
}
