package retention

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/journal/storage"
	"mercator-hq/callisto/pkg/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

var now = time.Date(2026, 6, 30, 3, 0, 0, 0, time.UTC)

func seed(t *testing.T, s journal.Store, ages ...time.Duration) {
	t.Helper()
	for i, age := range ages {
		e := &journal.Entry{ID: string(rune('a' + i)), Method: "GET", RecordedAt: now.Add(-age)}
		if err := s.Store(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPruner_Prune(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		name        string
		days        int
		wantDeleted int64
		wantLeft    int
	}{
		{name: "disabled", days: 0, wantDeleted: 0, wantLeft: 4},
		{name: "one week", days: 7, wantDeleted: 2, wantLeft: 2},
		{name: "thirty days", days: 30, wantDeleted: 1, wantLeft: 3},
		{name: "a year", days: 365, wantDeleted: 0, wantLeft: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStorage()
			seed(t, store, time.Hour, 2*day, 8*day, 31*day)

			pruner := NewPruner(store, &Config{RetentionDays: tt.days, Now: func() time.Time { return now }})
			deleted, err := pruner.Prune(context.Background())
			if err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			if deleted != tt.wantDeleted {
				t.Errorf("Prune() = %d, want %d", deleted, tt.wantDeleted)
			}
			if store.Size() != tt.wantLeft {
				t.Errorf("left %d entries, want %d", store.Size(), tt.wantLeft)
			}
		})
	}
}

func TestPruner_CountsPruned(t *testing.T) {
	prom := prometheus.NewRegistry()
	m := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test", Subsystem: "pipeline"}, prom)

	store := storage.NewMemoryStorage()
	seed(t, store, 10*24*time.Hour, 20*24*time.Hour, time.Minute)

	cfg := ConfigFromConfig(config.JournalConfig{RetentionDays: 5}, m)
	cfg.Now = func() time.Time { return now }
	if _, err := NewPruner(store, cfg).Prune(context.Background()); err != nil {
		t.Fatal(err)
	}

	expected := `
		# HELP test_pipeline_journal_pruned_total Journal entries removed by retention
		# TYPE test_pipeline_journal_pruned_total counter
		test_pipeline_journal_pruned_total 2
	`
	if err := promtest.GatherAndCompare(prom, strings.NewReader(expected), "test_pipeline_journal_pruned_total"); err != nil {
		t.Error(err)
	}
}

// failingStore forwards to inner but fails every delete.
type failingStore struct {
	inner journal.Store
}

func (s failingStore) Store(ctx context.Context, e *journal.Entry) error { return s.inner.Store(ctx, e) }
func (s failingStore) Query(ctx context.Context, q *journal.Query) ([]*journal.Entry, error) {
	return s.inner.Query(ctx, q)
}
func (s failingStore) Count(ctx context.Context, q *journal.Query) (int64, error) {
	return s.inner.Count(ctx, q)
}
func (s failingStore) Close() error { return s.inner.Close() }

func (failingStore) Delete(context.Context, *journal.Query) (int64, error) {
	return 0, errors.New("disk full")
}

func TestPruner_WrapsStoreErrors(t *testing.T) {
	pruner := NewPruner(failingStore{inner: storage.NewMemoryStorage()}, &Config{RetentionDays: 1})
	_, err := pruner.Prune(context.Background())

	var rerr *journal.RetentionError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want RetentionError", err)
	}
	if rerr.RetentionDays != 1 {
		t.Errorf("RetentionDays = %d", rerr.RetentionDays)
	}
}

func TestScheduler_Lifecycle(t *testing.T) {
	store := storage.NewMemoryStorage()
	pruner := NewPruner(store, &Config{RetentionDays: 1, PruneSchedule: "0 3 * * *"})

	if pruner.NextPruning() != nil {
		t.Error("NextPruning() before Start should be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pruner.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !pruner.scheduler.IsRunning() {
		t.Fatal("scheduler not running after Start")
	}

	next := pruner.NextPruning()
	if next == nil || next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("NextPruning() = %v, want 03:00", next)
	}

	pruner.Stop()
	if pruner.scheduler.IsRunning() {
		t.Error("scheduler still running after Stop")
	}
}

func TestScheduler_Schedules(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
		running  bool
	}{
		{name: "empty schedule is idle", schedule: "", running: false},
		{name: "descriptor", schedule: "@daily", running: true},
		{name: "invalid", schedule: "every day please", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(NewPruner(storage.NewMemoryStorage(), &Config{PruneSchedule: tt.schedule}))
			err := s.Start(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Start() error = %v, wantErr %t", err, tt.wantErr)
			}
			if s.IsRunning() != tt.running {
				t.Errorf("IsRunning() = %t, want %t", s.IsRunning(), tt.running)
			}
			s.Stop()
		})
	}
}
