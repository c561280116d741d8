package storage

import (
	"fmt"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/journal"
)

// Open creates the store selected by the journal section.
func Open(cfg config.JournalConfig) (journal.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		return NewSQLiteStorage(SQLiteConfigFromConfig(cfg.SQLite))
	default:
		return nil, journal.NewStorageError(cfg.Backend, "open", fmt.Errorf("unknown journal backend %q", cfg.Backend))
	}
}
