package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/httpsession"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/journal/storage"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fill(t *testing.T, n int) *storage.MemoryStorage {
	t.Helper()
	s := storage.NewMemoryStorage()
	for i := range n {
		method := "GET"
		if i%2 == 1 {
			method = "POST"
		}
		err := s.Store(context.Background(), &journal.Entry{
			ID:         fmt.Sprintf("e-%04d", i),
			Connection: uint64(i%3 + 1),
			Method:     method,
			URL:        fmt.Sprintf("/item/%d", i),
			Proto:      "HTTP/1.1",
			Headers:    []httpsession.Header{{Field: "Host", Value: "a.test"}, {Field: "Cookie", Value: "[REDACTED]"}},
			BodySize:   2,
			BodyPrefix: []byte("ok"),
			Dispatched: true,
			Duration:   1500 * time.Microsecond,
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestNew(t *testing.T) {
	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{format: "jsonl", want: "jsonl"},
		{format: "json", want: "jsonl"},
		{format: "csv", want: "csv"},
		{format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			exp, err := New(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if exp.Format() != tt.want {
				t.Errorf("Format() = %q, want %q", exp.Format(), tt.want)
			}
		})
	}
}

func TestStream_JSONLinesPages(t *testing.T) {
	total := 2*DefaultPageSize + 3
	s := fill(t, total)

	var buf bytes.Buffer
	n, err := Stream(context.Background(), s, nil, &JSONLines{}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != total {
		t.Errorf("exported %d, want %d", n, total)
	}

	sc := bufio.NewScanner(&buf)
	i := 0
	for sc.Scan() {
		var e journal.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if want := fmt.Sprintf("e-%04d", i); e.ID != want {
			t.Fatalf("line %d id = %s, want %s", i, e.ID, want)
		}
		i++
	}
	if i != total {
		t.Errorf("read %d lines, want %d", i, total)
	}
}

func TestStream_QueryBounds(t *testing.T) {
	s := fill(t, 20)

	tests := []struct {
		name  string
		query *journal.Query
		want  int
	}{
		{name: "all", query: &journal.Query{}, want: 20},
		{name: "method", query: &journal.Query{Method: "POST"}, want: 10},
		{name: "limit", query: &journal.Query{Limit: 7}, want: 7},
		{name: "offset", query: &journal.Query{Offset: 15}, want: 5},
		{name: "connection and limit", query: &journal.Query{Connection: 1, Limit: 3}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := Stream(context.Background(), s, tt.query, &JSONLines{}, &buf)
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.want {
				t.Errorf("exported %d, want %d", n, tt.want)
			}
			if lines := strings.Count(buf.String(), "\n"); lines != tt.want {
				t.Errorf("wrote %d lines, want %d", lines, tt.want)
			}
		})
	}
}

func TestCSV_Rows(t *testing.T) {
	s := fill(t, 2)

	var buf bytes.Buffer
	if _, err := Stream(context.Background(), s, nil, &CSV{IncludeHeader: true}, &buf); err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want header plus 2", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(Columns, ",") {
		t.Errorf("header = %v", records[0])
	}

	row := records[2]
	want := map[string]string{
		"id":          "e-0001",
		"method":      "POST",
		"headers":     "Host: a.test\nCookie: [REDACTED]",
		"body_prefix": "b2s=",
		"duration_us": "1500",
		"recorded_at": "2026-03-01T12:00:01Z",
	}
	for i, col := range Columns {
		if w, ok := want[col]; ok && row[i] != w {
			t.Errorf("%s = %q, want %q", col, row[i], w)
		}
	}
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestStream_WriteError(t *testing.T) {
	s := fill(t, 3)
	boom := errors.New("disk full")

	_, err := Stream(context.Background(), s, nil, &JSONLines{}, failingWriter{boom})
	var eerr *journal.ExportError
	if !errors.As(err, &eerr) {
		t.Fatalf("error = %v, want *journal.ExportError", err)
	}
	if eerr.Format != "jsonl" || !errors.Is(err, boom) {
		t.Errorf("error = %v", err)
	}
}

func TestStream_Canceled(t *testing.T) {
	s := fill(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	if _, err := Stream(ctx, s, nil, &CSV{}, &buf); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
