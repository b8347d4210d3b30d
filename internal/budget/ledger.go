package budget

import (
	"context"
	"fmt"
	"time"

	"tiller/internal/store"
)

const (
	ReasonDailyExhausted  = "DAILY_BUDGET_EXHAUSTED"
	ReasonHourlyExhausted = "HOURLY_BUDGET_EXHAUSTED"
)

// Decision is the budget verdict for one prospective spend.
type Decision struct {
	CanProceed  bool
	Reason      string
	DailyUsed   int64
	HourlyUsed  int64
	DailyLimit  int64
	HourlyLimit int64
}

// Ledger answers "can this user spend more" by aggregating the append-only
// usage log. There is deliberately no lock around check-then-log: the bounded
// over-spend window between two concurrent checks is accepted and mitigated
// by conservative limits.
type Ledger struct {
	store store.BudgetStore
	now   func() time.Time
}

func NewLedger(st store.BudgetStore) *Ledger {
	return &Ledger{store: st, now: time.Now}
}

// CheckBudget aggregates the trailing day and hour. A limit of zero or below
// disables that window.
func (l *Ledger) CheckBudget(ctx context.Context, userID string, dailyLimit, hourlyLimit int64) (Decision, error) {
	if l == nil || l.store == nil {
		return Decision{}, fmt.Errorf("budget ledger not initialized")
	}
	now := l.now()
	dec := Decision{CanProceed: true, DailyLimit: dailyLimit, HourlyLimit: hourlyLimit}
	if dailyLimit > 0 {
		used, err := l.store.BudgetUsage(ctx, userID, now.Add(-24*time.Hour))
		if err != nil {
			return Decision{}, err
		}
		dec.DailyUsed = used
		if used >= dailyLimit {
			dec.CanProceed = false
			dec.Reason = ReasonDailyExhausted
			return dec, nil
		}
	}
	if hourlyLimit > 0 {
		used, err := l.store.BudgetUsage(ctx, userID, now.Add(-time.Hour))
		if err != nil {
			return Decision{}, err
		}
		dec.HourlyUsed = used
		if used >= hourlyLimit {
			dec.CanProceed = false
			dec.Reason = ReasonHourlyExhausted
			return dec, nil
		}
	}
	return dec, nil
}

// Usage reports the trailing-day and trailing-hour spend without applying any
// limit. Serves the ops surface.
func (l *Ledger) Usage(ctx context.Context, userID string) (daily, hourly int64, err error) {
	if l == nil || l.store == nil {
		return 0, 0, fmt.Errorf("budget ledger not initialized")
	}
	now := l.now()
	daily, err = l.store.BudgetUsage(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return 0, 0, err
	}
	hourly, err = l.store.BudgetUsage(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return 0, 0, err
	}
	return daily, hourly, nil
}

// LogUsage appends one immutable fact to the ledger.
func (l *Ledger) LogUsage(ctx context.Context, entry store.BudgetEntry) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("budget ledger not initialized")
	}
	if entry.Cost <= 0 {
		entry.Cost = 1
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	return l.store.AppendBudgetEntry(ctx, entry)
}
