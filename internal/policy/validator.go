package policy

import (
	"strings"
	"time"

	"tiller/internal/store"
)

// Reason codes returned by Validate. The first failing check wins.
const (
	ReasonTradingDisabled    = "TRADING_DISABLED"
	ReasonAllowlistEmpty     = "ALLOWLIST_EMPTY"
	ReasonAllowlistMiss      = "ALLOWLIST_MISS"
	ReasonCooldownActive     = "COOLDOWN_ACTIVE"
	ReasonAntiFlipActive     = "ANTI_FLIP_ACTIVE"
	ReasonConfidenceLow      = "CONFIDENCE_LOW"
	ReasonOrderLimitExceeded = "ORDER_LIMIT_EXCEEDED"
)

// Decision is the validator verdict.
type Decision struct {
	Pass   bool
	Reason string
}

func pass() Decision                { return Decision{Pass: true} }
func reject(reason string) Decision { return Decision{Pass: false, Reason: reason} }

// Validate runs the pre-flight checks in order. It is a pure function over
// its inputs, which is what makes it safe to re-run on every retry.
func Validate(p store.TradeProposal, pol store.UserPolicy, history []store.TradeHistoryEntry, now time.Time) Decision {
	if !pol.TradingEnabled {
		return reject(ReasonTradingDisabled)
	}
	// Deny-by-default allowlist: an empty allow-set blocks everything.
	if len(pol.Allowlist) == 0 {
		return reject(ReasonAllowlistEmpty)
	}
	if !allowlistContains(pol.Allowlist, p.Asset) {
		return reject(ReasonAllowlistMiss)
	}
	if !p.OverrideCooldown && pol.CooldownMinutes > 0 {
		window := time.Duration(pol.CooldownMinutes) * time.Minute
		if hasTradeWithin(history, p.Asset, window, now, nil) {
			return reject(ReasonCooldownActive)
		}
	}
	if !p.OverrideAntiFlip && pol.AntiFlipMinutes > 0 && (p.Side == store.SideBuy || p.Side == store.SideSell) {
		window := time.Duration(pol.AntiFlipMinutes) * time.Minute
		side := p.Side
		if hasTradeWithin(history, p.Asset, window, now, func(e store.TradeHistoryEntry) bool {
			return e.Side.Opposite(side)
		}) {
			return reject(ReasonAntiFlipActive)
		}
	}
	if p.Confidence < pol.ConfidenceThreshold {
		return reject(ReasonConfidenceLow)
	}
	if pol.OrderLimitEUR.IsPositive() && p.EstimatedValue.GreaterThan(pol.OrderLimitEUR) {
		return reject(ReasonOrderLimitExceeded)
	}
	return pass()
}

func allowlistContains(allowlist []string, asset string) bool {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	for _, a := range allowlist {
		if strings.ToUpper(strings.TrimSpace(a)) == asset {
			return true
		}
	}
	return false
}

func hasTradeWithin(history []store.TradeHistoryEntry, asset string, window time.Duration, now time.Time, match func(store.TradeHistoryEntry) bool) bool {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	cutoff := now.Add(-window)
	for _, e := range history {
		if strings.ToUpper(strings.TrimSpace(e.Asset)) != asset {
			continue
		}
		if e.ExecutedAt.Before(cutoff) || e.ExecutedAt.After(now) {
			continue
		}
		if match != nil && !match(e) {
			continue
		}
		return true
	}
	return false
}
