package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"tiller/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBudgetStore mirrors the ledger table: append-only facts, usage always
// derived by summing.
type memBudgetStore struct {
	mu      sync.Mutex
	entries []store.BudgetEntry
}

func (m *memBudgetStore) AppendBudgetEntry(_ context.Context, entry store.BudgetEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memBudgetStore) BudgetUsage(_ context.Context, userID string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, e := range m.entries {
		if e.UserID == userID && e.Success && !e.CreatedAt.Before(since) {
			total += e.Cost
		}
	}
	return total, nil
}

func newTestLedger(now time.Time) (*Ledger, *memBudgetStore) {
	st := &memBudgetStore{}
	l := NewLedger(st)
	l.now = func() time.Time { return now }
	return l, st
}

func TestCheckBudgetDailyLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(now)
	ctx := context.Background()

	// Spend exactly up to the daily limit.
	for i := 0; i < 5; i++ {
		require.NoError(t, l.LogUsage(ctx, store.BudgetEntry{UserID: "u1", Success: true}))
	}

	dec, err := l.CheckBudget(ctx, "u1", 5, 0)
	require.NoError(t, err)
	assert.False(t, dec.CanProceed)
	assert.Equal(t, ReasonDailyExhausted, dec.Reason)
	assert.EqualValues(t, 5, dec.DailyUsed)

	dec, err = l.CheckBudget(ctx, "u1", 6, 0)
	require.NoError(t, err)
	assert.True(t, dec.CanProceed)
}

func TestCheckBudgetHourlyLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := newTestLedger(now)
	ctx := context.Background()

	// Two entries this hour, three earlier today.
	st.entries = []store.BudgetEntry{
		{UserID: "u1", Cost: 1, Success: true, CreatedAt: now.Add(-10 * time.Minute)},
		{UserID: "u1", Cost: 1, Success: true, CreatedAt: now.Add(-30 * time.Minute)},
		{UserID: "u1", Cost: 1, Success: true, CreatedAt: now.Add(-3 * time.Hour)},
		{UserID: "u1", Cost: 1, Success: true, CreatedAt: now.Add(-5 * time.Hour)},
		{UserID: "u1", Cost: 1, Success: true, CreatedAt: now.Add(-8 * time.Hour)},
	}

	dec, err := l.CheckBudget(ctx, "u1", 10, 2)
	require.NoError(t, err)
	assert.False(t, dec.CanProceed)
	assert.Equal(t, ReasonHourlyExhausted, dec.Reason)
	assert.EqualValues(t, 2, dec.HourlyUsed)
	assert.EqualValues(t, 5, dec.DailyUsed)
}

func TestCheckBudgetIgnoresFailedAndForeignEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := newTestLedger(now)
	ctx := context.Background()

	st.entries = []store.BudgetEntry{
		{UserID: "u1", Cost: 1, Success: false, CreatedAt: now.Add(-time.Minute)},
		{UserID: "u2", Cost: 1, Success: true, CreatedAt: now.Add(-time.Minute)},
		{UserID: "u1", Cost: 1, Success: true, CreatedAt: now.Add(-25 * time.Hour)},
	}

	dec, err := l.CheckBudget(ctx, "u1", 1, 0)
	require.NoError(t, err)
	assert.True(t, dec.CanProceed)
	assert.EqualValues(t, 0, dec.DailyUsed)
}

func TestCheckBudgetZeroLimitDisablesWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(now)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.LogUsage(ctx, store.BudgetEntry{UserID: "u1", Success: true}))
	}
	dec, err := l.CheckBudget(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.True(t, dec.CanProceed)
}

func TestLogUsageDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := newTestLedger(now)

	require.NoError(t, l.LogUsage(context.Background(), store.BudgetEntry{UserID: "u1", Success: true}))
	require.Len(t, st.entries, 1)
	assert.EqualValues(t, 1, st.entries[0].Cost)
	assert.Equal(t, now, st.entries[0].CreatedAt)
}

func TestUsage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, st := newTestLedger(now)

	st.entries = []store.BudgetEntry{
		{UserID: "u1", Cost: 2, Success: true, CreatedAt: now.Add(-10 * time.Minute)},
		{UserID: "u1", Cost: 3, Success: true, CreatedAt: now.Add(-6 * time.Hour)},
	}
	daily, hourly, err := l.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, daily)
	assert.EqualValues(t, 2, hourly)
}
