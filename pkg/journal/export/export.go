package export

import (
	"context"
	"fmt"
	"io"

	"mercator-hq/callisto/pkg/journal"
)

// DefaultPageSize is the number of entries Stream reads per query.
const DefaultPageSize = 500

// Exporter writes entries to w.
type Exporter interface {
	// Format names the output format.
	Format() string

	// Export writes entries as they arrive on ch until it is closed, and
	// returns the number written.
	Export(ctx context.Context, ch <-chan *journal.Entry, w io.Writer) (int, error)
}

// New returns the exporter for format: "jsonl" or "csv".
func New(format string) (Exporter, error) {
	switch format {
	case "jsonl", "json":
		return &JSONLines{}, nil
	case "csv":
		return &CSV{IncludeHeader: true}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want jsonl or csv)", format)
	}
}

// Stream pages through the entries of store matching q and exports them
// with exp. A positive q.Limit bounds the total; q.Offset is the starting
// offset. The page size is DefaultPageSize.
func Stream(ctx context.Context, store journal.Store, q *journal.Query, exp Exporter, w io.Writer) (int, error) {
	if q == nil {
		q = &journal.Query{}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan *journal.Entry, DefaultPageSize)
	errCh := make(chan error, 1)
	go func() {
		defer close(ch)
		errCh <- feed(ctx, store, *q, ch)
	}()

	n, err := exp.Export(ctx, ch, w)
	if err != nil {
		cancel()
		return n, err
	}
	if err := <-errCh; err != nil {
		return n, journal.NewExportError(exp.Format(), n, err)
	}
	return n, nil
}

func feed(ctx context.Context, store journal.Store, q journal.Query, ch chan<- *journal.Entry) error {
	remaining := q.Limit
	for {
		page := q
		page.Limit = DefaultPageSize
		if remaining > 0 && remaining < page.Limit {
			page.Limit = remaining
		}

		entries, err := store.Query(ctx, &page)
		if err != nil {
			return err
		}
		for _, e := range entries {
			select {
			case ch <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		q.Offset += len(entries)
		if remaining > 0 {
			remaining -= len(entries)
			if remaining <= 0 {
				return nil
			}
		}
		if len(entries) < page.Limit {
			return nil
		}
	}
}
