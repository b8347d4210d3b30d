package gormstore

import (
	"context"
	"testing"
	"time"

	"tiller/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProposal(t *testing.T, st *GormStore, id string, status store.ProposalStatus, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, st.InsertProposal(context.Background(), store.TradeProposal{
		ID:             id,
		PolicyID:       "pol-1",
		UserID:         "u1",
		Exchange:       "binance",
		Asset:          "BTC-EUR",
		Side:           store.SideBuy,
		Price:          decimal.NewFromInt(50000),
		Amount:         decimal.RequireFromString("0.001"),
		EstimatedValue: decimal.NewFromInt(50),
		Confidence:     85,
		Status:         status,
		PolicySnapshot: `{"trading_enabled": true}`,
		ExpiresAt:      expiresAt,
	}))
}

func TestProposalRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seedProposal(t, st, "p1", store.ProposalApproved, time.Time{})

	got, ok, err := st.GetProposal(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.ProposalApproved, got.Status)
	assert.Equal(t, "BTC-EUR", got.Asset)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(50000)))
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("0.001")))
	assert.JSONEq(t, `{"trading_enabled": true}`, got.PolicySnapshot)

	_, ok, err = st.GetProposal(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateProposalStatusConditional(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seedProposal(t, st, "p1", store.ProposalApproved, time.Time{})

	require.NoError(t, st.UpdateProposalStatus(ctx, "p1",
		[]store.ProposalStatus{store.ProposalApproved}, store.ProposalExecuted, ""))

	// Terminal state cannot be clobbered.
	err := st.UpdateProposalStatus(ctx, "p1",
		[]store.ProposalStatus{store.ProposalApproved}, store.ProposalDeclined, "COOLDOWN_ACTIVE")
	assert.ErrorIs(t, err, store.ErrStaleTransition)

	got, _, err := st.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, store.ProposalExecuted, got.Status)
}

func TestDeclineReasonStored(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seedProposal(t, st, "p1", store.ProposalApproved, time.Time{})
	require.NoError(t, st.UpdateProposalStatus(ctx, "p1",
		[]store.ProposalStatus{store.ProposalProposed, store.ProposalApproved},
		store.ProposalDeclined, "DAILY_BUDGET_EXHAUSTED"))

	got, _, err := st.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, store.ProposalDeclined, got.Status)
	assert.Equal(t, "DAILY_BUDGET_EXHAUSTED", got.DeclineReason)
}

func TestListApprovedProposalsSkipsExpired(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seedProposal(t, st, "live", store.ProposalApproved, now.Add(time.Hour))
	seedProposal(t, st, "no-deadline", store.ProposalApproved, time.Time{})
	seedProposal(t, st, "expired", store.ProposalApproved, now.Add(-time.Hour))
	seedProposal(t, st, "pending", store.ProposalProposed, now.Add(time.Hour))

	got, err := st.ListApprovedProposals(ctx, "u1", now, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"live", "no-deadline"}, ids)
}

func TestExpireProposals(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seedProposal(t, st, "stale-approved", store.ProposalApproved, now.Add(-time.Minute))
	seedProposal(t, st, "stale-proposed", store.ProposalProposed, now.Add(-time.Minute))
	seedProposal(t, st, "live", store.ProposalApproved, now.Add(time.Hour))
	seedProposal(t, st, "executed", store.ProposalExecuted, now.Add(-time.Minute))

	n, err := st.ExpireProposals(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for id, want := range map[string]store.ProposalStatus{
		"stale-approved": store.ProposalExpired,
		"stale-proposed": store.ProposalExpired,
		"live":           store.ProposalApproved,
		"executed":       store.ProposalExecuted,
	} {
		got, _, err := st.GetProposal(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}
}
