package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the journal schema.
// Timestamps are Unix nanoseconds and durations microseconds so ordering
// and range filters behave the same under both drivers.
const Schema = `
CREATE TABLE IF NOT EXISTS journal (
    id TEXT PRIMARY KEY,
    connection INTEGER NOT NULL,
    session TEXT NOT NULL,
    trace_id TEXT,

    -- Request
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    proto TEXT NOT NULL,
    headers TEXT,
    body_size INTEGER NOT NULL,
    body_prefix BLOB,

    -- Outcome
    dispatched BOOLEAN NOT NULL,
    error TEXT,
    duration_us INTEGER NOT NULL,

    recorded_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_recorded_at ON journal(recorded_at);
CREATE INDEX IF NOT EXISTS idx_journal_connection ON journal(connection);
CREATE INDEX IF NOT EXISTS idx_journal_session ON journal(session);
CREATE INDEX IF NOT EXISTS idx_journal_method ON journal(method);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
