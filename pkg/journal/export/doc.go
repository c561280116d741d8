// Package export writes journal entries out of a store for offline
// analysis.
//
// Two formats are supported. JSONLines writes one JSON object per line and
// suits log pipelines. CSV flattens headers into a single column and
// suits spreadsheets. Both stream: Stream pages through a store and hands
// entries to an exporter over a channel, so an export never holds more than
// one page in memory.
//
// # Usage
//
//	exp, _ := export.New("csv")
//	n, err := export.Stream(ctx, store, &journal.Query{Method: "POST"}, exp, os.Stdout)
package export
