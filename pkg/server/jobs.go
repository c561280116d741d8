package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	sectls "mercator-hq/callisto/pkg/security/tls"
	"mercator-hq/callisto/pkg/stream"
)

// Start runs the host's background jobs: the stall sweep when
// http.stall_timeout or, with TLS, tls.handshake_timeout is set, the
// identity expiry check when TLS is on,
// journal pruning and the certificate watcher. None of them touch the
// data path; driver calls work whether or not Start was called.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return errors.New("host already started")
	}

	c := cron.New()
	if h.cfg.HTTP.StallTimeout > 0 || (h.tls != nil && h.cfg.TLS.HandshakeTimeout > 0) {
		if _, err := c.AddFunc(h.cfg.HTTP.StallSweepSchedule, func() { h.SweepStalled() }); err != nil {
			return fmt.Errorf("invalid stall sweep schedule %q: %w", h.cfg.HTTP.StallSweepSchedule, err)
		}
	}
	if h.tls != nil && h.cfg.TLS.ExpiryCheckSchedule != "" {
		if _, err := c.AddFunc(h.cfg.TLS.ExpiryCheckSchedule, func() { h.CheckIdentity() }); err != nil {
			return fmt.Errorf("invalid expiry check schedule %q: %w", h.cfg.TLS.ExpiryCheckSchedule, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	if h.pruner != nil {
		if err := h.pruner.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("failed to start journal pruning: %w", err)
		}
	}
	if h.watcher != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if err := h.watcher.Run(ctx); err != nil {
				h.logger.Error("certificate watcher stopped", "error", err)
			}
		}()
	}

	c.Start()
	h.cron = c
	h.cancel = cancel
	h.started = true
	h.logger.Info("host jobs started", "cron_entries", len(c.Entries()))
	return nil
}

// Stop stops background jobs, flushes the tracer and closes the journal.
// The pipeline itself keeps working.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	c, cancel, started := h.cron, h.cancel, h.started
	h.cron, h.cancel, h.started = nil, nil, false
	h.mu.Unlock()

	if started {
		<-c.Stop().Done()
		if h.pruner != nil {
			h.pruner.Stop()
		}
		cancel()
		h.wg.Wait()
	}

	var errs []error
	if err := h.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	if h.journal != nil {
		if err := h.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SweepStalled disconnects connections parked on partial input for longer
// than http.stall_timeout, and TLS handshakes running longer than
// tls.handshake_timeout. It returns how many it disconnected.
func (h *Host) SweepStalled() int {
	seen := make(map[stream.ID]struct{})
	var ids []stream.ID
	add := func(list []stream.ID) {
		for _, id := range list {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if d := h.cfg.HTTP.StallTimeout; d > 0 {
		add(h.registry.Stalled(d))
	}
	if d := h.cfg.TLS.HandshakeTimeout; d > 0 && h.tls != nil {
		add(h.tls.StalledHandshakes(d))
	}

	for _, id := range ids {
		h.logger.Info("disconnecting stalled connection", "connection", id)
		_ = h.registry.Disconnect(id)
	}
	if len(ids) > 0 {
		h.metrics.Stalled(len(ids))
	}
	return len(ids)
}

// CheckIdentity logs a warning when the presented certificate is close to
// expiry and returns the whole days left. It returns -1 without TLS.
func (h *Host) CheckIdentity() int {
	if h.tls == nil {
		return -1
	}
	id := h.tls.Identity()
	days, warning := sectls.CheckCertificateExpiration(id.Leaf(), time.Now())
	if warning != "" {
		h.logger.Warn("tls identity expiring", "days", days, "detail", warning, "source", id.Source())
	} else {
		h.logger.Debug("tls identity checked", "days", days)
	}
	return days
}
