package storage

import (
	"context"
	"sort"
	"sync"

	"mercator-hq/callisto/pkg/httpsession"
	"mercator-hq/callisto/pkg/journal"
)

// MemoryStorage implements journal.Store in memory. Entries are lost on
// Close; it backs the default configuration and tests.
type MemoryStorage struct {
	entries []*journal.Entry
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func copyEntry(e *journal.Entry) *journal.Entry {
	c := *e
	c.Headers = append([]httpsession.Header(nil), e.Headers...)
	c.BodyPrefix = append([]byte(nil), e.BodyPrefix...)
	return &c
}

// Store persists an entry.
func (s *MemoryStorage) Store(ctx context.Context, entry *journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return journal.NewStorageError("memory", "store", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, copyEntry(entry))
	return nil
}

// Query returns entries matching the filters, oldest first.
func (s *MemoryStorage) Query(ctx context.Context, query *journal.Query) ([]*journal.Entry, error) {
	if query == nil {
		query = &journal.Query{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []*journal.Entry{}
	for _, e := range s.entries {
		if matches(e, query) {
			results = append(results, copyEntry(e))
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RecordedAt.Before(results[j].RecordedAt)
	})

	if query.Offset > 0 {
		if query.Offset >= len(results) {
			return []*journal.Entry{}, nil
		}
		results = results[query.Offset:]
	}
	if query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// Count returns the number of entries matching the filters.
func (s *MemoryStorage) Count(ctx context.Context, query *journal.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, e := range s.entries {
		if matches(e, query) {
			count++
		}
	}
	return count, nil
}

// Delete removes entries matching the filters.
func (s *MemoryStorage) Delete(ctx context.Context, query *journal.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if matches(e, query) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
	return deleted, nil
}

// Close drops every entry.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	return nil
}

// Size returns the number of stored entries.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

func matches(e *journal.Entry, q *journal.Query) bool {
	if q == nil {
		return true
	}
	if q.Since != nil && e.RecordedAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && e.RecordedAt.After(*q.Until) {
		return false
	}
	if q.Connection != 0 && e.Connection != q.Connection {
		return false
	}
	if q.Session != "" && e.Session != q.Session {
		return false
	}
	if q.Method != "" && e.Method != q.Method {
		return false
	}
	if q.Dispatched != nil && e.Dispatched != *q.Dispatched {
		return false
	}
	return true
}
