package export

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"mercator-hq/callisto/pkg/journal"
)

// flushEvery is how many rows CSV buffers between flushes.
const flushEvery = 100

// CSV exports one row per entry. Headers are joined as "Field: value"
// pairs separated by newlines, and the body prefix is base64 encoded.
type CSV struct {
	// IncludeHeader writes a header row with column names.
	IncludeHeader bool
}

// Format implements Exporter.
func (e *CSV) Format() string { return "csv" }

// Columns lists the CSV columns in order.
var Columns = []string{
	"id", "connection", "session", "trace_id",
	"method", "url", "proto", "headers", "body_size", "body_prefix",
	"dispatched", "error", "duration_us", "recorded_at",
}

// Export implements Exporter.
func (e *CSV) Export(ctx context.Context, ch <-chan *journal.Entry, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if e.IncludeHeader {
		if err := cw.Write(Columns); err != nil {
			return 0, journal.NewExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case entry, ok := <-ch:
			if !ok {
				cw.Flush()
				if err := cw.Error(); err != nil {
					return count, journal.NewExportError("csv", count, err)
				}
				return count, nil
			}
			if err := cw.Write(row(entry)); err != nil {
				return count, journal.NewExportError("csv", count, err)
			}
			count++
			if count%flushEvery == 0 {
				cw.Flush()
				if err := cw.Error(); err != nil {
					return count, journal.NewExportError("csv", count, err)
				}
			}
		}
	}
}

func row(e *journal.Entry) []string {
	headers := make([]string, len(e.Headers))
	for i, h := range e.Headers {
		headers[i] = h.Field + ": " + h.Value
	}
	return []string{
		e.ID,
		strconv.FormatUint(e.Connection, 10),
		e.Session,
		e.TraceID,
		e.Method,
		e.URL,
		e.Proto,
		strings.Join(headers, "\n"),
		strconv.Itoa(e.BodySize),
		base64.StdEncoding.EncodeToString(e.BodyPrefix),
		strconv.FormatBool(e.Dispatched),
		e.Error,
		strconv.FormatInt(e.Duration.Microseconds(), 10),
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
}
