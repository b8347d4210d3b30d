package reconcile

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tiller/internal/exchange"
	"tiller/internal/store"
	"tiller/internal/store/gormstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lookupClient serves canned answers for FindOrderByClientID.
type lookupClient struct {
	mu        sync.Mutex
	orders    map[string]exchange.Order
	lookupErr error
}

func newLookupClient() *lookupClient {
	return &lookupClient{orders: make(map[string]exchange.Order)}
}

func (c *lookupClient) PlaceOrder(context.Context, exchange.OrderRequest) (exchange.Order, error) {
	panic("reconciler must never place orders")
}

func (c *lookupClient) FindOrderByClientID(_ context.Context, _, clientOrderID string) (exchange.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookupErr != nil {
		return exchange.Order{}, c.lookupErr
	}
	order, ok := c.orders[clientOrderID]
	if !ok {
		return exchange.Order{}, exchange.ErrOrderNotFound
	}
	return order, nil
}

// memoNotifier records escalation pings.
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

func setupReconciler(t *testing.T) (*Reconciler, *gormstore.GormStore, *lookupClient, *memoNotifier) {
	t.Helper()
	st, err := gormstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	client := newLookupClient()
	notify := &memoNotifier{}
	r := New(Config{
		ExchangeTimeout: time.Second,
		MaxAttempts:     12,
		BackoffBase:     5 * time.Second,
		BackoffCap:      10 * time.Minute,
	}, st, st, st, client, notify)
	return r, st, client, notify
}

// seedSubmitting creates an APPROVED proposal with an execution stuck in
// SUBMITTING, the state a crashed-or-timed-out submission leaves behind.
func seedSubmitting(t *testing.T, st *gormstore.GormStore, execID, key string, submittingAt time.Time) store.TradeExecution {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InsertProposal(ctx, store.TradeProposal{
		ID:     "prop-" + execID,
		UserID: "u1",
		Asset:  "BTC-EUR",
		Side:   store.SideBuy,
		Price:  decimal.NewFromInt(50000),
		Amount: decimal.RequireFromString("0.001"),
		Status: store.ProposalApproved,
	}))
	_, claimed, err := st.ClaimExecution(ctx, store.TradeExecution{
		ID:             execID,
		ProposalID:     "prop-" + execID,
		UserID:         "u1",
		IdempotencyKey: key,
		Status:         store.ExecutionClaimed,
	})
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, st.TransitionExecution(ctx, execID,
		store.ExecutionClaimed, store.ExecutionSubmitting,
		store.ExecutionPatch{SubmittingAt: &submittingAt}))
	exec, _, err := st.GetExecution(ctx, execID)
	require.NoError(t, err)
	return exec
}

func TestReconcileOrderFound(t *testing.T) {
	r, st, client, _ := setupReconciler(t)
	ctx := context.Background()

	exec := seedSubmitting(t, st, "e1", "key-1", time.Now().Add(-time.Minute))
	client.orders["key-1"] = exchange.Order{OrderID: "ord-77", ClientOrderID: "key-1"}

	require.NoError(t, r.Reconcile(ctx, exec))

	got, _, err := st.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionSubmitted, got.Status)
	assert.Equal(t, "ord-77", got.ExchangeOrderID)

	proposal, _, err := st.GetProposal(ctx, "prop-e1")
	require.NoError(t, err)
	assert.Equal(t, store.ProposalExecuted, proposal.Status)

	events, err := st.ListEvents(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "RECONCILE_FOUND", events[0].DecisionPath)

	// A recovered trade counts for cooldown/anti-flip like any other.
	history, err := st.ListRecentTrades(ctx, "u1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "BTC-EUR", history[0].Asset)
	assert.Equal(t, store.SideBuy, history[0].Side)
}

func TestReconcileOrderNotFound(t *testing.T) {
	r, st, _, _ := setupReconciler(t)
	ctx := context.Background()

	exec := seedSubmitting(t, st, "e1", "key-1", time.Now().Add(-time.Minute))

	require.NoError(t, r.Reconcile(ctx, exec))

	got, _, err := st.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionFailed, got.Status)
	assert.Equal(t, store.ErrorClassSoft, got.ErrorClass)

	proposal, _, err := st.GetProposal(ctx, "prop-e1")
	require.NoError(t, err)
	assert.Equal(t, store.ProposalFailed, proposal.Status)
}

func TestReconcileInconclusiveBacksOff(t *testing.T) {
	r, st, client, notify := setupReconciler(t)
	ctx := context.Background()

	exec := seedSubmitting(t, st, "e1", "key-1", time.Now().Add(-time.Minute))
	client.lookupErr = exchange.Soft("read: connection reset", nil)

	require.NoError(t, r.Reconcile(ctx, exec))

	got, _, err := st.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionSubmitting, got.Status)
	assert.Equal(t, 1, got.ReconcileAttempts)
	require.NotNil(t, got.NextReconcileAt)
	assert.True(t, got.NextReconcileAt.After(time.Now()))
	assert.Nil(t, got.EscalatedAt)
	assert.Empty(t, notify.messages)

	// While the backoff window holds, the sweep skips the row.
	resolved, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
}

func TestReconcileEscalatesAtCeiling(t *testing.T) {
	r, st, client, notify := setupReconciler(t)
	ctx := context.Background()

	exec := seedSubmitting(t, st, "e1", "key-1", time.Now().Add(-time.Hour))
	require.NoError(t, st.UpdateReconcileAttempt(ctx, "e1", 11, time.Now().Add(-time.Minute)))
	exec.ReconcileAttempts = 11
	client.lookupErr = exchange.Soft("read: connection reset", nil)

	require.NoError(t, r.Reconcile(ctx, exec))

	got, _, err := st.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionSubmitting, got.Status) // parked, never guessed
	require.NotNil(t, got.EscalatedAt)
	require.Len(t, notify.messages, 1)
	assert.Contains(t, notify.messages[0], "e1")

	events, err := st.ListEvents(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "RECONCILE_ESCALATED", events[0].DecisionPath)

	// Escalated rows are out of the sweep permanently.
	resolved, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
}

func TestSweepPicksUpOnlyDueRows(t *testing.T) {
	r, st, client, _ := setupReconciler(t)
	ctx := context.Background()

	seedSubmitting(t, st, "old", "key-old", time.Now().Add(-time.Minute))
	seedSubmitting(t, st, "fresh", "key-fresh", time.Now())
	client.orders["key-old"] = exchange.Order{OrderID: "ord-1", ClientOrderID: "key-old"}

	resolved, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, _, err := st.GetExecution(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionSubmitted, got.Status)

	got, _, err = st.GetExecution(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionSubmitting, got.Status)
}

func TestStaleBoundCoversBackoffLadder(t *testing.T) {
	cfg := Config{
		ExchangeTimeout: 30 * time.Second,
		MaxAttempts:     12,
		BackoffBase:     5 * time.Second,
		BackoffCap:      10 * time.Minute,
	}
	bound := cfg.StaleBound()
	assert.Greater(t, bound, 30*time.Second)
	// The ladder can never exceed timeout + attempts x cap.
	assert.LessOrEqual(t, bound, 30*time.Second+12*10*time.Minute)
}
