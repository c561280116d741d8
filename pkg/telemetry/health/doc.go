// Package health aggregates readiness checks for the components a host is
// built from.
//
// Each component registers a CheckFunc under a name. Check runs every
// registered check concurrently, each under the checker's timeout, and
// reports "ready" when all pass or "degraded" when any fails. An empty
// checker is ready.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("journal", func(ctx context.Context) error {
//	    _, err := store.Count(ctx, &journal.Query{})
//	    return err
//	})
//	report := checker.Check(ctx)
//
// ReadinessHandler exposes the report over net/http for processes that
// embed a host next to an HTTP server of their own; it answers 503 while
// degraded.
package health
