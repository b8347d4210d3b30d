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

func TestUpsertAndGetUserPolicy(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	pol := store.UserPolicy{
		UserID:              "u1",
		ConfidenceLevel:     store.LevelTraining,
		OrderLimitEUR:       decimal.NewFromInt(50),
		TradingEnabled:      true,
		Allowlist:           []string{"BTC-EUR", "ETH-EUR"},
		CooldownMinutes:     60,
		AntiFlipMinutes:     240,
		ConfidenceThreshold: 70,
		DailyBudget:         50,
		HourlyBudget:        10,
	}
	require.NoError(t, st.UpsertUserPolicy(ctx, pol))

	got, ok, err := st.GetUserPolicy(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.LevelTraining, got.ConfidenceLevel)
	assert.Equal(t, []string{"BTC-EUR", "ETH-EUR"}, got.Allowlist)
	assert.True(t, got.OrderLimitEUR.Equal(decimal.NewFromInt(50)))

	// Upsert replaces in place.
	pol.ConfidenceLevel = store.LevelValidated
	pol.OrderLimitEUR = decimal.NewFromInt(250)
	require.NoError(t, st.UpsertUserPolicy(ctx, pol))

	got, _, err = st.GetUserPolicy(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.LevelValidated, got.ConfidenceLevel)
	assert.True(t, got.OrderLimitEUR.Equal(decimal.NewFromInt(250)))

	_, ok, err = st.GetUserPolicy(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTradeHistoryWindow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, e := range []store.TradeHistoryEntry{
		{UserID: "u1", Asset: "btc-eur", Side: store.SideBuy, Amount: decimal.RequireFromString("0.001"), ExecutedAt: now.Add(-10 * time.Minute)},
		{UserID: "u1", Asset: "ETH-EUR", Side: store.SideSell, Amount: decimal.RequireFromString("0.5"), ExecutedAt: now.Add(-2 * time.Hour)},
		{UserID: "u2", Asset: "BTC-EUR", Side: store.SideBuy, Amount: decimal.RequireFromString("0.1"), ExecutedAt: now.Add(-5 * time.Minute)},
	} {
		require.NoError(t, st.AppendTradeHistory(ctx, e))
	}

	got, err := st.ListRecentTrades(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC-EUR", got[0].Asset) // asset normalized to upper case
	assert.Equal(t, store.SideBuy, got[0].Side)
}

func TestBudgetUsageAggregation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, e := range []store.BudgetEntry{
		{UserID: "u1", Cost: 1, Success: true, CreatedAt: now.Add(-10 * time.Minute)},
		{UserID: "u1", Cost: 2, Success: true, CreatedAt: now.Add(-3 * time.Hour)},
		{UserID: "u1", Cost: 5, Success: false, CreatedAt: now.Add(-5 * time.Minute)},
		{UserID: "u1", Cost: 9, Success: true, CreatedAt: now.Add(-30 * time.Hour)},
		{UserID: "u2", Cost: 7, Success: true, CreatedAt: now.Add(-5 * time.Minute)},
	} {
		require.NoError(t, st.AppendBudgetEntry(ctx, e))
	}

	total, err := st.BudgetUsage(ctx, "u1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	total, err = st.BudgetUsage(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}
