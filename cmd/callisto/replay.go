package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/dispatch"
	"mercator-hq/callisto/pkg/httpsession"
	"mercator-hq/callisto/pkg/server"
	"mercator-hq/callisto/pkg/stream"
)

var replayFlags struct {
	chunk  int
	port   int
	format string
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE...",
	Short: "Feed captured request bytes through the pipeline",
	Long: `Replay raw HTTP request captures through a plaintext pipeline built from
the configuration and print what the pipeline writes back.

Each file is one connection. Its bytes are fed in --chunk sized pieces, so
partial lines and pipelined requests are framed exactly as a live driver
would deliver them. Every dispatchable verb is answered with a 200 echoing
the method, target and body size. TLS is always disabled; the journal
records the requests when enabled.

Examples:
  # Replay a single capture
  callisto replay captures/pipelined.http

  # Feed byte by byte and summarise as CSV
  callisto replay --chunk 1 --format csv captures/*.http`,
	Args: cobra.MinimumNArgs(1),
	RunE: replayCaptures,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().IntVar(&replayFlags.chunk, "chunk", 0, "bytes per feed (default: whole file)")
	replayCmd.Flags().IntVar(&replayFlags.port, "port", 80, "local port reported to the pipeline")
	replayCmd.Flags().StringVar(&replayFlags.format, "format", "text", "output format: text (raw responses), json, csv")
}

// replayResult is the outcome of one capture.
type replayResult struct {
	File         string `json:"file"`
	Connection   uint64 `json:"connection"`
	BytesIn      int    `json:"bytes_in"`
	BytesOut     int    `json:"bytes_out"`
	Disconnected bool   `json:"disconnected"`
	Output       string `json:"output"`
}

type replayResults []replayResult

func (r replayResults) Header() []string {
	return []string{"FILE", "CONNECTION", "BYTES_IN", "BYTES_OUT", "DISCONNECTED"}
}

func (r replayResults) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, res := range r {
		rows = append(rows, []string{
			res.File,
			strconv.FormatUint(res.Connection, 10),
			strconv.Itoa(res.BytesIn),
			strconv.Itoa(res.BytesOut),
			strconv.FormatBool(res.Disconnected),
		})
	}
	return rows
}

func replayCaptures(cmd *cobra.Command, args []string) error {
	if replayFlags.port <= 0 || replayFlags.port > 65535 {
		return fmt.Errorf("invalid port: %d", replayFlags.port)
	}
	var out cli.Formatter
	if replayFlags.format != "text" {
		f, err := formatter(replayFlags.format)
		if err != nil {
			return err
		}
		out = f
	}

	if err := initConfig(cmd); err != nil {
		return err
	}
	// The replay pipeline is always plaintext HTTP over streams.
	c := *config.MustGetConfig()
	cfg := &c
	cfg.Server.Mode = "stream"
	cfg.TLS.Enabled = false
	cfg.HTTP.Enabled = true

	host, err := server.NewHost(server.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer func() { _ = host.Stop(context.Background()) }()

	for _, verb := range dispatch.Verbs {
		if err := host.Handle(verb, echo(host)); err != nil {
			return err
		}
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	var progress cli.ProgressReporter
	if len(args) > 1 {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "captures")
		progress.Start(int64(len(args)))
	}

	results := make(replayResults, 0, len(args))
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			if progress != nil {
				progress.Error(err)
			}
			return fmt.Errorf("failed to read capture: %w", err)
		}
		res, err := replay(ctx, host, stream.ID(i+1), uint16(replayFlags.port), data, cfg.Stream.PollBufferBytes)
		if err != nil {
			if progress != nil {
				progress.Error(err)
			}
			return err
		}
		res.File = path
		results = append(results, res)
		if progress != nil {
			progress.Update(int64(i + 1))
		}
	}
	if progress != nil {
		progress.Finish()
	}

	w := cmd.OutOrStdout()
	if out != nil {
		return out.FormatTo(w, results)
	}
	for _, res := range results {
		if len(results) > 1 {
			fmt.Fprintf(w, "==> %s <==\n", res.File)
		}
		fmt.Fprint(w, res.Output)
	}
	return nil
}

// replay drives one connection the way a driver would: connect, feed the
// capture in chunks, poll after every feed, retire.
func replay(ctx context.Context, host *server.Host, id stream.ID, port uint16, data []byte, pollSize int) (replayResult, error) {
	res := replayResult{Connection: uint64(id), BytesIn: len(data)}
	if err := host.OnConnect(id, port); err != nil {
		return res, err
	}
	defer host.Retire(id)

	chunk := replayFlags.chunk
	if chunk <= 0 {
		chunk = len(data)
	}
	if pollSize <= 0 {
		pollSize = 4096
	}
	buf := make([]byte, pollSize)
	var output []byte
	poll := func() {
		for {
			n := host.OnOutboundPoll(id, buf)
			if n == 0 {
				return
			}
			output = append(output, buf[:n]...)
		}
	}

	for off := 0; off < len(data); off += chunk {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(off+chunk, len(data))
		if !host.OnInboundBytes(id, data[off:end]) {
			res.Disconnected = true
			break
		}
		poll()
	}
	poll()
	if !host.Registry().IsConnected(id) {
		res.Disconnected = true
	}

	res.BytesOut = len(output)
	res.Output = string(output)
	return res, nil
}

// echo answers with the method, target and body size of the request.
func echo(host *server.Host) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, id stream.ID, req *httpsession.Request) error {
		body := fmt.Sprintf("%s %s %d\n", req.Method, req.URL, len(req.Body))
		return dispatch.Reply(host, id, 200, []byte(body), httpsession.Header{Field: "Content-Type", Value: "text/plain"})
	})
}
