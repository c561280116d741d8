package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

// now is the clock used for expiry and schedule output.
var now = time.Now

var rootCmd = &cobra.Command{
	Use:   "callisto",
	Short: "Callisto - externally driven TLS and HTTP session pipeline",
	Long: `Callisto terminates TLS and frames HTTP/1.x requests on byte streams
handed to it by a network driver, then dispatches them to verb handlers.

This command manages what the pipeline needs around it: configuration,
TLS identities, offline replay of captured traffic, background job
schedules and the request journal.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "callisto.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// initConfig loads the configuration named by --config, installs the logger
// it describes and makes it the process-wide configuration. A missing
// default file falls back to built-in defaults; a missing file named
// explicitly is an error.
func initConfig(cmd *cobra.Command) error {
	var cfg *config.Config
	_, statErr := os.Stat(cfgFile)
	defaults := errors.Is(statErr, fs.ErrNotExist) && !cmd.Flag("config").Changed
	if defaults {
		cfg = config.NewDefault()
	} else {
		loaded, err := config.LoadConfigWithEnvOverrides(cfgFile)
		if err != nil {
			return cli.NewConfigError(cfgFile, err)
		}
		cfg = loaded
	}

	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	lcfg := logging.FromConfig(cfg.Telemetry.Logging)
	lcfg.Writer = cmd.ErrOrStderr()
	logger, err := logging.New(lcfg)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	logger.Install()

	log := logger.With("component", "cli")
	if defaults {
		log.Info("config file not found, using defaults", "path", cfgFile)
	}
	log.Debug("configuration loaded",
		"path", cfgFile,
		"mode", cfg.Server.Mode,
		"tls", cfg.TLS.Enabled,
		"http", cfg.HTTP.Enabled,
		"journal", cfg.Journal.Enabled,
	)

	config.SetConfig(cfg)
	return nil
}

// formatter resolves a --format flag value.
func formatter(format string) (cli.Formatter, error) {
	f, err := cli.NewFormatter(cli.OutputFormat(format))
	if err != nil {
		return nil, cli.NewCommandError("format", err)
	}
	return f, nil
}

// table is a generic cli.Table.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) Header() []string  { return t.header }
func (t *table) Rows() [][]string  { return t.rows }
func (t *table) add(row ...string) { t.rows = append(t.rows, row) }

// MarshalJSON renders rows as objects keyed by the lowercased header.
func (t *table) MarshalJSON() ([]byte, error) {
	objs := make([]map[string]string, 0, len(t.rows))
	for _, row := range t.rows {
		obj := make(map[string]string, len(row))
		for i, v := range row {
			if i < len(t.header) {
				obj[strings.ToLower(t.header[i])] = v
			}
		}
		objs = append(objs, obj)
	}
	return json.Marshal(objs)
}
