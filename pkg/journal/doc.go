// Package journal records requests that reached the dispatcher.
//
// Each dispatched (or undispatchable) request becomes an Entry: connection
// and session ids, method, URL, redacted headers, a body prefix, whether a
// handler ran, its error and duration. A Recorder writes entries to a
// Store synchronously after the handler returns; subpackage storage
// provides memory and SQLite stores and subpackage retention prunes old
// entries on a cron schedule.
//
//	store, err := storage.Open(cfg.Journal)
//	if err != nil {
//	    return err
//	}
//	rec := journal.NewRecorder(store, journal.RecorderConfigFromConfig(cfg.Journal, collector))
//	defer rec.Close()
package journal
