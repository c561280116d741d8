// Package storage provides journal.Store backends.
//
//   - Memory: entries live in process memory (default backend)
//   - SQLite: durable single-file storage through database/sql, with either
//     the pure Go modernc.org/sqlite driver ("sqlite") or the cgo
//     mattn/go-sqlite3 driver ("sqlite3")
//
// Open picks the backend from the journal configuration section:
//
//	store, err := storage.Open(cfg.Journal)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package storage
