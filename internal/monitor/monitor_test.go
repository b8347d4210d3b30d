package monitor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tiller/internal/store"
	"tiller/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *memoNotifier) SendText(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func setupMonitor(t *testing.T) (*Monitor, *gormstore.GormStore, *memoNotifier) {
	t.Helper()
	st, err := gormstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	notify := &memoNotifier{}
	m := New(Config{Interval: time.Minute, StaleBound: time.Hour}, st, notify)
	return m, st, notify
}

func seedExecution(t *testing.T, st *gormstore.GormStore, id, key string, to store.ExecutionStatus, patch store.ExecutionPatch) {
	t.Helper()
	ctx := context.Background()
	_, claimed, err := st.ClaimExecution(ctx, store.TradeExecution{
		ID:             id,
		ProposalID:     "prop-" + id,
		UserID:         "u1",
		IdempotencyKey: key,
		Status:         store.ExecutionClaimed,
	})
	require.NoError(t, err)
	require.True(t, claimed)
	if patch.SubmittingAt == nil {
		now := time.Now()
		patch.SubmittingAt = &now
	}
	require.NoError(t, st.TransitionExecution(ctx, id,
		store.ExecutionClaimed, store.ExecutionSubmitting,
		store.ExecutionPatch{SubmittingAt: patch.SubmittingAt}))
	if to == store.ExecutionSubmitting {
		return
	}
	require.NoError(t, st.TransitionExecution(ctx, id,
		store.ExecutionSubmitting, to, patch))
}

func TestCheckAllCleanStore(t *testing.T) {
	m, st, _ := setupMonitor(t)

	seedExecution(t, st, "e1", "k1", store.ExecutionSubmitted,
		store.ExecutionPatch{ExchangeOrderID: "ord-1"})

	violations, err := m.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckAllFindsSeededViolations(t *testing.T) {
	m, st, _ := setupMonitor(t)

	// SUBMITTED without an order id, and a row stuck in SUBMITTING past the
	// stale bound.
	seedExecution(t, st, "no-order", "k1", store.ExecutionSubmitted, store.ExecutionPatch{})
	old := time.Now().Add(-2 * time.Hour)
	seedExecution(t, st, "stuck", "k2", store.ExecutionSubmitting,
		store.ExecutionPatch{SubmittingAt: &old})

	violations, err := m.CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, violations, 2)

	checks := map[string]bool{}
	for _, v := range violations {
		checks[v.Check] = true
	}
	assert.True(t, checks["order_id_presence"])
	assert.True(t, checks["no_stale_submitting"])
}

func TestRunNotifiesOnViolation(t *testing.T) {
	st, err := gormstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	notify := &memoNotifier{}
	m := New(Config{Interval: 20 * time.Millisecond, StaleBound: time.Hour}, st, notify)

	seedExecution(t, st, "no-order", "k1", store.ExecutionSubmitted, store.ExecutionPatch{})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)

	notify.mu.Lock()
	defer notify.mu.Unlock()
	require.NotEmpty(t, notify.messages)
	assert.Contains(t, notify.messages[0], "no-order")
}
