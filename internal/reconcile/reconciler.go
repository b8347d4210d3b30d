package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiller/internal/exchange"
	"tiller/internal/logger"
	"tiller/internal/notifier"
	"tiller/internal/store"
)

// Decision paths recorded on reconciliation events.
const (
	pathFound     = "RECONCILE_FOUND"
	pathNotFound  = "RECONCILE_NOT_FOUND"
	pathRetry     = "RECONCILE_RETRY"
	pathEscalated = "RECONCILE_ESCALATED"
)

// Config tunes the reconciliation sweep.
type Config struct {
	// ExchangeTimeout is how long a row may sit in SUBMITTING before the
	// sweep picks it up; mirrors the executor's order call timeout.
	ExchangeTimeout time.Duration
	// MaxAttempts is the ceiling before escalation to an operator.
	MaxAttempts int
	// BackoffBase doubles per attempt, capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	SweepLimit  int
}

func (c *Config) applyDefaults() {
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 12
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Minute
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = 50
	}
}

// Reconciler recovers truth for executions whose outcome is unknown. It only
// ever moves rows forward, so it never competes with the executor: the
// uniqueness constraint prevents a second submission no matter how many times
// reconciliation runs.
type Reconciler struct {
	cfg       Config
	store     store.ReconcileStore
	proposals store.ProposalStore
	history   store.PolicyStore
	client    exchange.Client
	notify    notifier.TextNotifier
	now       func() time.Time
}

func New(cfg Config, st store.ReconcileStore, proposals store.ProposalStore, history store.PolicyStore, client exchange.Client, notify notifier.TextNotifier) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{
		cfg:       cfg,
		store:     st,
		proposals: proposals,
		history:   history,
		client:    client,
		notify:    notify,
		now:       time.Now,
	}
}

// Sweep resolves every due SUBMITTING row once. Individual failures do not
// stop the sweep.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	if r == nil || r.store == nil {
		return 0, fmt.Errorf("reconciler not initialized")
	}
	now := r.now()
	due, err := r.store.ListDueSubmitting(ctx, now.Add(-r.cfg.ExchangeTimeout), now, r.cfg.SweepLimit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, exec := range due {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		if err := r.Reconcile(ctx, exec); err != nil {
			logger.Warnf("reconcile: execution %s failed: %v", exec.ID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// Reconcile resolves one execution by asking the exchange for the order under
// the execution's idempotency key. Correctness beats automation: on an
// inconclusive answer it backs off, and past the ceiling it escalates rather
// than guessing.
func (r *Reconciler) Reconcile(ctx context.Context, exec store.TradeExecution) error {
	if exec.Status != store.ExecutionSubmitting {
		return fmt.Errorf("execution %s is %s, nothing to reconcile", exec.ID, exec.Status)
	}
	proposal, ok, err := r.proposals.GetProposal(ctx, exec.ProposalID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("proposal %s missing for execution %s", exec.ProposalID, exec.ID)
	}
	attempt := exec.ReconcileAttempts + 1

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ExchangeTimeout)
	order, lookupErr := r.client.FindOrderByClientID(callCtx, proposal.Asset, exec.IdempotencyKey)
	cancel()

	switch {
	case lookupErr == nil:
		return r.resolveFound(ctx, exec, proposal, order, attempt)
	case errors.Is(lookupErr, exchange.ErrOrderNotFound):
		return r.resolveNotFound(ctx, exec, proposal, attempt)
	default:
		return r.retryOrEscalate(ctx, exec, attempt, lookupErr)
	}
}

// resolveFound: the original submission succeeded despite the network
// failure. This is the path that prevents a hiccup from turning into either a
// lost or a duplicated order.
func (r *Reconciler) resolveFound(ctx context.Context, exec store.TradeExecution, proposal store.TradeProposal, order exchange.Order, attempt int) error {
	if err := r.store.TransitionExecution(ctx, exec.ID, store.ExecutionSubmitting, store.ExecutionSubmitted, store.ExecutionPatch{
		ExchangeOrderID: order.OrderID,
	}); err != nil {
		return err
	}
	r.appendEvent(ctx, store.ExecutionEvent{
		ExecutionID:      exec.ID,
		FromStatus:       store.ExecutionSubmitting,
		ToStatus:         store.ExecutionSubmitted,
		DecisionPath:     pathFound,
		ReconcileAttempt: attempt,
	})
	if err := r.proposals.UpdateProposalStatus(ctx, exec.ProposalID,
		[]store.ProposalStatus{store.ProposalApproved}, store.ProposalExecuted, ""); err != nil && !errors.Is(err, store.ErrStaleTransition) {
		logger.Warnf("reconcile: proposal %s status update failed: %v", exec.ProposalID, err)
	}
	// The trade really happened; cooldown and anti-flip must see it the same
	// as a direct submission success.
	if r.history != nil {
		if err := r.history.AppendTradeHistory(ctx, store.TradeHistoryEntry{
			UserID:     proposal.UserID,
			Asset:      proposal.Asset,
			Side:       proposal.Side,
			Amount:     proposal.Amount,
			ExecutedAt: r.now(),
		}); err != nil {
			logger.Warnf("reconcile: trade history append failed for %s: %v", exec.ID, err)
		}
	}
	logger.Infof("reconcile: execution %s recovered, order=%s attempt=%d", exec.ID, order.OrderID, attempt)
	return nil
}

// resolveNotFound: the exchange confirms the order never landed. The failed
// attempt is safe to leave behind; a fresh proposal may follow later.
func (r *Reconciler) resolveNotFound(ctx context.Context, exec store.TradeExecution, proposal store.TradeProposal, attempt int) error {
	if err := r.store.TransitionExecution(ctx, exec.ID, store.ExecutionSubmitting, store.ExecutionFailed, store.ExecutionPatch{
		LastError:  "order not found on exchange",
		ErrorClass: store.ErrorClassSoft,
	}); err != nil {
		return err
	}
	r.appendEvent(ctx, store.ExecutionEvent{
		ExecutionID:      exec.ID,
		FromStatus:       store.ExecutionSubmitting,
		ToStatus:         store.ExecutionFailed,
		DecisionPath:     pathNotFound,
		ErrorClass:       store.ErrorClassSoft,
		ReconcileAttempt: attempt,
	})
	if err := r.proposals.UpdateProposalStatus(ctx, proposal.ID,
		[]store.ProposalStatus{store.ProposalApproved}, store.ProposalFailed, ""); err != nil && !errors.Is(err, store.ErrStaleTransition) {
		logger.Warnf("reconcile: proposal %s status update failed: %v", proposal.ID, err)
	}
	logger.Infof("reconcile: execution %s confirmed lost, marked FAILED attempt=%d", exec.ID, attempt)
	return nil
}

func (r *Reconciler) retryOrEscalate(ctx context.Context, exec store.TradeExecution, attempt int, lookupErr error) error {
	if attempt >= r.cfg.MaxAttempts {
		at := r.now()
		if err := r.store.MarkEscalated(ctx, exec.ID, at); err != nil {
			return err
		}
		r.appendEvent(ctx, store.ExecutionEvent{
			ExecutionID:      exec.ID,
			FromStatus:       store.ExecutionSubmitting,
			ToStatus:         store.ExecutionSubmitting,
			DecisionPath:     pathEscalated,
			ErrorClass:       store.ErrorClassSoft,
			ReconcileAttempt: attempt,
		})
		logger.Errorf("reconcile: execution %s escalated after %d attempts: %v", exec.ID, attempt, lookupErr)
		if r.notify != nil {
			msg := notifier.Alert("reconciliation escalated",
				fmt.Sprintf("execution %s (proposal %s)", exec.ID, exec.ProposalID),
				fmt.Sprintf("%d lookup attempts inconclusive, operator review required", attempt))
			if err := r.notify.SendText(msg); err != nil {
				logger.Warnf("reconcile: escalation notify failed: %v", err)
			}
		}
		return nil
	}
	nextAt := r.now().Add(r.backoff(attempt))
	if err := r.store.UpdateReconcileAttempt(ctx, exec.ID, attempt, nextAt); err != nil {
		return err
	}
	r.appendEvent(ctx, store.ExecutionEvent{
		ExecutionID:      exec.ID,
		FromStatus:       store.ExecutionSubmitting,
		ToStatus:         store.ExecutionSubmitting,
		DecisionPath:     pathRetry,
		ErrorClass:       store.ErrorClassSoft,
		ReconcileAttempt: attempt,
	})
	logger.Debugf("reconcile: execution %s inconclusive (attempt %d/%d), next at %s: %v",
		exec.ID, attempt, r.cfg.MaxAttempts, nextAt.Format(time.RFC3339), lookupErr)
	return nil
}

// backoff doubles per attempt from the base, capped.
func (r *Reconciler) backoff(attempt int) time.Duration {
	d := r.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.cfg.BackoffCap {
			return r.cfg.BackoffCap
		}
	}
	if d > r.cfg.BackoffCap {
		d = r.cfg.BackoffCap
	}
	return d
}

// StaleBound is the monitor's upper bound for time spent in SUBMITTING:
// exchange timeout plus the whole backoff ladder.
func (c Config) StaleBound() time.Duration {
	cfg := c
	cfg.applyDefaults()
	total := cfg.ExchangeTimeout
	for i := 1; i <= cfg.MaxAttempts; i++ {
		d := cfg.BackoffBase
		for j := 1; j < i; j++ {
			d *= 2
			if d >= cfg.BackoffCap {
				d = cfg.BackoffCap
				break
			}
		}
		total += d
	}
	return total
}

// Run drives periodic sweeps until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warnf("reconcile: sweep failed: %v", err)
			}
		}
	}
}

func (r *Reconciler) appendEvent(ctx context.Context, evt store.ExecutionEvent) {
	if err := r.store.AppendEvent(ctx, evt); err != nil {
		logger.Errorf("reconcile: event append failed for %s: %v", evt.ExecutionID, err)
	}
}
