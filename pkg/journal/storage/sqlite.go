package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers "sqlite" (pure Go)

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/journal"
)

// Driver names accepted by NewSQLiteStorage.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path. Parent directories are created.
	Path string

	// Driver is DriverModernc or DriverMattn.
	// Default: DriverModernc
	Driver string

	// WALMode enables write-ahead logging.
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	BusyTimeout time.Duration
}

// SQLiteConfigFromConfig converts the journal sqlite section.
func SQLiteConfigFromConfig(cfg config.SQLiteConfig) *SQLiteConfig {
	return &SQLiteConfig{
		Path:        cfg.Path,
		Driver:      cfg.Driver,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	}
}

// SQLiteStorage implements journal.Store on SQLite through database/sql.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database, applies pragmas and creates the schema.
func NewSQLiteStorage(cfg *SQLiteConfig) (*SQLiteStorage, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, journal.NewStorageError(DriverModernc, "open", errors.New("database path is required"))
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverMattn {
		return nil, journal.NewStorageError(cfg.Driver, "open", fmt.Errorf("unknown driver %q", cfg.Driver))
	}

	logger := slog.Default().With("component", "journal.storage.sqlite")

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, journal.NewStorageError(cfg.Driver, "open", err)
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, journal.NewStorageError(cfg.Driver, "open", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db, config: cfg, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite journal initialized",
		"path", cfg.Path,
		"driver", cfg.Driver,
		"wal_mode", cfg.WALMode,
	)
	return s, nil
}

func (s *SQLiteStorage) fail(op string, err error) error {
	return journal.NewStorageError(s.config.Driver, op, err)
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return s.fail("enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return s.fail("set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return s.fail("create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return s.fail("insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s.fail("get_schema_version", err)
	}
	if version != SchemaVersion {
		return s.fail("schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store persists an entry.
func (s *SQLiteStorage) Store(ctx context.Context, entry *journal.Entry) error {
	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return s.fail("store", err)
	}

	const query = `
		INSERT INTO journal (
			id, connection, session, trace_id,
			method, url, proto, headers, body_size, body_prefix,
			dispatched, error, duration_us,
			recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID, int64(entry.Connection), entry.Session, nullString(entry.TraceID),
		entry.Method, entry.URL, entry.Proto, string(headers), entry.BodySize, entry.BodyPrefix,
		entry.Dispatched, nullString(entry.Error), entry.Duration.Microseconds(),
		entry.RecordedAt.UnixNano(),
	)
	if err != nil {
		return s.fail("store", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Query returns entries matching the filters, oldest first.
func (s *SQLiteStorage) Query(ctx context.Context, query *journal.Query) ([]*journal.Entry, error) {
	if query == nil {
		query = &journal.Query{}
	}
	where, args := buildWhereClause(query)

	sqlQuery := `SELECT id, connection, session, trace_id, method, url, proto, headers,
		body_size, body_prefix, dispatched, error, duration_us, recorded_at FROM journal`
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	sqlQuery += " ORDER BY recorded_at ASC, rowid ASC"
	if query.Limit > 0 {
		sqlQuery += fmt.Sprintf(" LIMIT %d", query.Limit)
	} else if query.Offset > 0 {
		sqlQuery += " LIMIT -1"
	}
	if query.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, s.fail("query", err)
	}
	defer rows.Close()

	entries := []*journal.Entry{}
	for rows.Next() {
		e, err := scanRow(rows)
		if err != nil {
			return nil, s.fail("scan", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("query", err)
	}
	return entries, nil
}

// Count returns the number of entries matching the filters.
func (s *SQLiteStorage) Count(ctx context.Context, query *journal.Query) (int64, error) {
	where, args := buildWhereClause(query)
	sqlQuery := "SELECT COUNT(*) FROM journal"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, s.fail("count", err)
	}
	return count, nil
}

// Delete removes entries matching the filters.
func (s *SQLiteStorage) Delete(ctx context.Context, query *journal.Query) (int64, error) {
	where, args := buildWhereClause(query)
	sqlQuery := "DELETE FROM journal"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, s.fail("delete", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, s.fail("delete", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return s.fail("close", err)
	}
	s.logger.Info("SQLite journal closed")
	return nil
}

func buildWhereClause(q *journal.Query) (string, []any) {
	if q == nil {
		return "", nil
	}
	var conditions []string
	var args []any

	if q.Since != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if q.Until != nil {
		conditions = append(conditions, "recorded_at <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.Connection != 0 {
		conditions = append(conditions, "connection = ?")
		args = append(args, int64(q.Connection))
	}
	if q.Session != "" {
		conditions = append(conditions, "session = ?")
		args = append(args, q.Session)
	}
	if q.Method != "" {
		conditions = append(conditions, "method = ?")
		args = append(args, q.Method)
	}
	if q.Dispatched != nil {
		conditions = append(conditions, "dispatched = ?")
		args = append(args, *q.Dispatched)
	}
	return strings.Join(conditions, " AND "), args
}

func scanRow(rows *sql.Rows) (*journal.Entry, error) {
	var (
		e          journal.Entry
		connection int64
		traceID    sql.NullString
		headers    sql.NullString
		errText    sql.NullString
		durationUS int64
		recordedAt int64
	)
	err := rows.Scan(
		&e.ID, &connection, &e.Session, &traceID,
		&e.Method, &e.URL, &e.Proto, &headers, &e.BodySize, &e.BodyPrefix,
		&e.Dispatched, &errText, &durationUS, &recordedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Connection = uint64(connection)
	e.TraceID = traceID.String
	e.Error = errText.String
	e.Duration = time.Duration(durationUS) * time.Microsecond
	e.RecordedAt = time.Unix(0, recordedAt)
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &e.Headers); err != nil {
			return nil, fmt.Errorf("decode headers of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}
