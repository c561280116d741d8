package export

import (
	"context"
	"encoding/json"
	"io"

	"mercator-hq/callisto/pkg/journal"
)

// JSONLines exports one JSON object per line.
type JSONLines struct{}

// Format implements Exporter.
func (e *JSONLines) Format() string { return "jsonl" }

// Export implements Exporter.
func (e *JSONLines) Export(ctx context.Context, ch <-chan *journal.Entry, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case entry, ok := <-ch:
			if !ok {
				return count, nil
			}
			if err := enc.Encode(entry); err != nil {
				return count, journal.NewExportError("jsonl", count, err)
			}
			count++
		}
	}
}
