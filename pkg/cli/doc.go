/*
Package cli provides helpers shared by the callisto commands.

Output formatting renders command results as text, JSON or CSV. Results
that implement Table are laid out in aligned columns for text and become
rows for CSV:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, entries)

Progress reports how far a replay has gone:

	progress := cli.NewProgressReporter(os.Stderr, "requests")
	progress.Start(int64(len(files)))
	for i := range files {
		// replay files[i]
		progress.Update(int64(i + 1))
	}
	progress.Finish()

SetupSignalHandler returns a context canceled on SIGINT or SIGTERM, for
commands that run host background jobs until interrupted.
*/
package cli
