package journal

import (
	"context"
	"time"

	"mercator-hq/callisto/pkg/httpsession"
)

// Entry records one dispatched request. Bodies are kept only up to the
// recorder's prefix limit; BodySize is always the full size.
type Entry struct {
	// Identity
	ID         string `json:"id"`         // UUID v4
	Connection uint64 `json:"connection"` // stream.ID the request arrived on
	Session    string `json:"session"`    // connection session uuid
	TraceID    string `json:"trace_id"`   // dispatch span, when traced

	// Request
	Method     string               `json:"method"`
	URL        string               `json:"url"`
	Proto      string               `json:"proto"`
	Headers    []httpsession.Header `json:"headers"` // redacted
	BodySize   int                  `json:"body_size"`
	BodyPrefix []byte               `json:"body_prefix"`

	// Outcome
	Dispatched bool          `json:"dispatched"` // a handler existed for Method
	Error      string        `json:"error"`      // handler error, if any
	Duration   time.Duration `json:"duration"`   // handler execution time

	RecordedAt time.Time `json:"recorded_at"`
}

// NewEntry builds an Entry from a routed request. The request is copied, so
// the entry stays valid after the connection reuses req.
func NewEntry(connection uint64, session string, req *httpsession.Request) *Entry {
	return &Entry{
		Connection: connection,
		Session:    session,
		Method:     req.Method,
		URL:        req.URL,
		Proto:      req.Proto,
		Headers:    append([]httpsession.Header(nil), req.Headers...),
		BodySize:   len(req.Body),
		BodyPrefix: append([]byte(nil), req.Body...),
	}
}

// Query filters journal entries. Zero fields match everything.
type Query struct {
	// Time range on RecordedAt
	Since *time.Time `json:"since,omitempty"` // inclusive
	Until *time.Time `json:"until,omitempty"` // inclusive

	Connection uint64 `json:"connection,omitempty"`
	Session    string `json:"session,omitempty"`
	Method     string `json:"method,omitempty"`
	Dispatched *bool  `json:"dispatched,omitempty"`

	// Pagination. Results are ordered oldest first.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the interface for journal storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Store persists an entry.
	Store(ctx context.Context, entry *Entry) error

	// Query returns entries matching the filters, oldest first.
	// Returns an empty slice if nothing matches.
	Query(ctx context.Context, query *Query) ([]*Entry, error)

	// Count returns the number of entries matching the filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes entries matching the filters and returns how many
	// were removed. Pagination fields are ignored.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the backend.
	Close() error
}
