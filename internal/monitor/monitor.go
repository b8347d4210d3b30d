package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiller/internal/logger"
	"tiller/internal/notifier"
	"tiller/internal/store"
)

// Config tunes the periodic invariant sweep.
type Config struct {
	Interval time.Duration
	// StaleBound is the longest an execution may legitimately sit in
	// SUBMITTING: exchange timeout plus the full reconcile backoff ladder.
	StaleBound time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleBound <= 0 {
		c.StaleBound = 2 * time.Hour
	}
}

// Monitor runs read-only safety checks over the execution table. A violation
// means a bug or an operator-actionable incident, never normal operation, so
// every one is logged at error level and pushed to the operator channel.
type Monitor struct {
	cfg    Config
	store  store.InvariantStore
	notify notifier.TextNotifier
	now    func() time.Time
}

func New(cfg Config, st store.InvariantStore, notify notifier.TextNotifier) *Monitor {
	cfg.applyDefaults()
	return &Monitor{cfg: cfg, store: st, notify: notify, now: time.Now}
}

// CheckAll runs every invariant query once and returns all violations found.
// Check failures are reported as errors, not swallowed into a clean result.
func (m *Monitor) CheckAll(ctx context.Context) ([]store.InvariantViolation, error) {
	if m == nil || m.store == nil {
		return nil, fmt.Errorf("monitor not initialized")
	}
	var all []store.InvariantViolation
	var errs []error

	checks := []struct {
		name string
		fn   func(context.Context) ([]store.InvariantViolation, error)
	}{
		{"duplicate_orders", m.store.CheckDuplicateOrders},
		{"stale_submitting", func(ctx context.Context) ([]store.InvariantViolation, error) {
			return m.store.CheckStaleSubmitting(ctx, m.cfg.StaleBound, m.now())
		}},
		{"missing_order_ids", m.store.CheckMissingOrderIDs},
		{"missing_idempotency_keys", m.store.CheckMissingIdempotencyKeys},
	}
	for _, c := range checks {
		found, err := c.fn(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		all = append(all, found...)
	}
	return all, errors.Join(errs...)
}

// Run sweeps on the configured cadence until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			violations, err := m.CheckAll(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("monitor: invariant checks errored: %v", err)
			}
			if len(violations) > 0 {
				m.report(violations)
			}
		}
	}
}

func (m *Monitor) report(violations []store.InvariantViolation) {
	lines := make([]string, 0, len(violations))
	for _, v := range violations {
		logger.Errorf("monitor: [%s] execution=%s %s", v.Check, v.ExecutionID, v.Detail)
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", v.Check, v.ExecutionID, v.Detail))
	}
	if m.notify == nil {
		return
	}
	msg := notifier.Alert(fmt.Sprintf("invariant violations (%d)", len(violations)), lines...)
	if err := m.notify.SendText(msg); err != nil {
		logger.Warnf("monitor: violation notify failed: %v", err)
	}
}
