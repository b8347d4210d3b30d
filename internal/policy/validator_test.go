package policy

import (
	"testing"
	"time"

	"tiller/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func basePolicy() store.UserPolicy {
	return store.UserPolicy{
		UserID:              "u1",
		ConfidenceLevel:     store.LevelValidated,
		OrderLimitEUR:       decimal.NewFromInt(100),
		TradingEnabled:      true,
		Allowlist:           []string{"BTC-EUR", "ETH-EUR"},
		CooldownMinutes:     60,
		AntiFlipMinutes:     240,
		ConfidenceThreshold: 70,
	}
}

func baseProposal() store.TradeProposal {
	return store.TradeProposal{
		ID:             "p1",
		UserID:         "u1",
		Asset:          "BTC-EUR",
		Side:           store.SideBuy,
		EstimatedValue: decimal.NewFromInt(50),
		Confidence:     85,
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		mutate     func(p *store.TradeProposal, pol *store.UserPolicy)
		history    []store.TradeHistoryEntry
		wantPass   bool
		wantReason string
	}{
		{
			name:     "clean proposal passes",
			wantPass: true,
		},
		{
			name: "trading disabled",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				pol.TradingEnabled = false
			},
			wantReason: ReasonTradingDisabled,
		},
		{
			name: "empty allowlist blocks everything",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				pol.Allowlist = nil
			},
			wantReason: ReasonAllowlistEmpty,
		},
		{
			name: "asset not on allowlist",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				p.Asset = "DOGE-EUR"
			},
			wantReason: ReasonAllowlistMiss,
		},
		{
			name: "buy BTC five minutes after a BTC trade hits cooldown",
			history: []store.TradeHistoryEntry{
				{UserID: "u1", Asset: "BTC-EUR", Side: store.SideBuy, ExecutedAt: now.Add(-5 * time.Minute)},
			},
			wantReason: ReasonCooldownActive,
		},
		{
			name: "cooldown override skips the cooldown check",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				p.OverrideCooldown = true
			},
			history: []store.TradeHistoryEntry{
				{UserID: "u1", Asset: "BTC-EUR", Side: store.SideBuy, ExecutedAt: now.Add(-5 * time.Minute)},
			},
			wantPass: true,
		},
		{
			name: "trade on a different asset does not trigger cooldown",
			history: []store.TradeHistoryEntry{
				{UserID: "u1", Asset: "ETH-EUR", Side: store.SideBuy, ExecutedAt: now.Add(-5 * time.Minute)},
			},
			wantPass: true,
		},
		{
			name: "trade older than the cooldown window passes",
			history: []store.TradeHistoryEntry{
				{UserID: "u1", Asset: "BTC-EUR", Side: store.SideBuy, ExecutedAt: now.Add(-61 * time.Minute)},
			},
			wantPass: true,
		},
		{
			name: "sell shortly after a buy hits anti-flip",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				p.Side = store.SideSell
				pol.CooldownMinutes = 0
			},
			history: []store.TradeHistoryEntry{
				{UserID: "u1", Asset: "BTC-EUR", Side: store.SideBuy, ExecutedAt: now.Add(-2 * time.Hour)},
			},
			wantReason: ReasonAntiFlipActive,
		},
		{
			name: "anti-flip override skips the anti-flip check",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				p.Side = store.SideSell
				p.OverrideAntiFlip = true
				pol.CooldownMinutes = 0
			},
			history: []store.TradeHistoryEntry{
				{UserID: "u1", Asset: "BTC-EUR", Side: store.SideBuy, ExecutedAt: now.Add(-2 * time.Hour)},
			},
			wantPass: true,
		},
		{
			name: "rebalance is exempt from anti-flip",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				p.Side = store.SideRebalance
				pol.CooldownMinutes = 0
			},
			history: []store.TradeHistoryEntry{
				{UserID: "u1", Asset: "BTC-EUR", Side: store.SideSell, ExecutedAt: now.Add(-2 * time.Hour)},
			},
			wantPass: true,
		},
		{
			name: "same-direction trade does not trigger anti-flip",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				pol.CooldownMinutes = 0
			},
			history: []store.TradeHistoryEntry{
				{UserID: "u1", Asset: "BTC-EUR", Side: store.SideBuy, ExecutedAt: now.Add(-2 * time.Hour)},
			},
			wantPass: true,
		},
		{
			name: "confidence below threshold",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				p.Confidence = 60
			},
			wantReason: ReasonConfidenceLow,
		},
		{
			name: "estimated value over order limit",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				p.EstimatedValue = decimal.NewFromInt(150)
			},
			wantReason: ReasonOrderLimitExceeded,
		},
		{
			name: "estimated value exactly at limit passes",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				p.EstimatedValue = decimal.NewFromInt(100)
			},
			wantPass: true,
		},
		{
			name: "zero order limit disables the limit check",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				pol.OrderLimitEUR = decimal.Zero
				p.EstimatedValue = decimal.NewFromInt(100000)
			},
			wantPass: true,
		},
		{
			name: "allowlist match is case-insensitive",
			mutate: func(p *store.TradeProposal, pol *store.UserPolicy) {
				p.Asset = "btc-eur"
			},
			wantPass: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseProposal()
			pol := basePolicy()
			if tt.mutate != nil {
				tt.mutate(&p, &pol)
			}
			dec := Validate(p, pol, tt.history, now)
			assert.Equal(t, tt.wantPass, dec.Pass)
			if !tt.wantPass {
				assert.Equal(t, tt.wantReason, dec.Reason)
			}
		})
	}
}

func TestValidateSnapshot(t *testing.T) {
	valid := `{
		"confidence_level": "TRAINING",
		"order_limit_eur": "50",
		"trading_enabled": true,
		"allowlist": ["BTC-EUR"]
	}`
	assert.NoError(t, ValidateSnapshot(valid))

	t.Run("empty snapshot rejected", func(t *testing.T) {
		assert.Error(t, ValidateSnapshot(""))
	})
	t.Run("missing required field rejected", func(t *testing.T) {
		assert.Error(t, ValidateSnapshot(`{"trading_enabled": true}`))
	})
	t.Run("bad enum rejected", func(t *testing.T) {
		bad := `{
			"confidence_level": "GODMODE",
			"order_limit_eur": 50,
			"trading_enabled": true,
			"allowlist": []
		}`
		assert.Error(t, ValidateSnapshot(bad))
	})
	t.Run("truncated JSON rejected", func(t *testing.T) {
		assert.Error(t, ValidateSnapshot(`{"confidence_level": "TRAIN`))
	})
}
