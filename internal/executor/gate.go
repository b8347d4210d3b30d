package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiller/internal/budget"
	"tiller/internal/logger"
	"tiller/internal/policy"
	"tiller/internal/store"
)

// GateOutcome reports why a proposal was (not) allowed through to execution.
type GateOutcome struct {
	Allowed bool
	Reason  string
}

// Gate is the pre-flight fence in front of SubmitExecution: policy snapshot
// schema, policy validator, then budget. A rejection is a decision, not an
// exception; the proposal is marked DECLINED with the reason code.
type Gate struct {
	policies store.PolicyStore
	proposal store.ProposalStore
	ledger   *budget.Ledger
	now      func() time.Time
}

func NewGate(policies store.PolicyStore, proposals store.ProposalStore, ledger *budget.Ledger) *Gate {
	return &Gate{policies: policies, proposal: proposals, ledger: ledger, now: time.Now}
}

// Check gates one proposal. Every gated attempt appends one ledger fact so
// budget accounting covers declined work too.
func (g *Gate) Check(ctx context.Context, p store.TradeProposal) (GateOutcome, error) {
	if g == nil || g.policies == nil {
		return GateOutcome{}, fmt.Errorf("gate not initialized")
	}
	if err := policy.ValidateSnapshot(p.PolicySnapshot); err != nil {
		return g.decline(ctx, p, "POLICY_SNAPSHOT_INVALID", err)
	}
	pol, ok, err := g.policies.GetUserPolicy(ctx, p.UserID)
	if err != nil {
		return GateOutcome{}, err
	}
	if !ok {
		return g.decline(ctx, p, "POLICY_NOT_FOUND", nil)
	}
	now := g.now()
	window := pol.CooldownMinutes
	if pol.AntiFlipMinutes > window {
		window = pol.AntiFlipMinutes
	}
	var history []store.TradeHistoryEntry
	if window > 0 {
		history, err = g.policies.ListRecentTrades(ctx, p.UserID, now.Add(-time.Duration(window)*time.Minute))
		if err != nil {
			return GateOutcome{}, err
		}
	}
	if dec := policy.Validate(p, pol, history, now); !dec.Pass {
		g.logAttempt(ctx, p, false)
		return g.decline(ctx, p, dec.Reason, nil)
	}
	budgetDec, err := g.ledger.CheckBudget(ctx, p.UserID, pol.DailyBudget, pol.HourlyBudget)
	if err != nil {
		return GateOutcome{}, err
	}
	if !budgetDec.CanProceed {
		g.logAttempt(ctx, p, false)
		return g.decline(ctx, p, budgetDec.Reason, nil)
	}
	g.logAttempt(ctx, p, true)
	return GateOutcome{Allowed: true}, nil
}

func (g *Gate) decline(ctx context.Context, p store.TradeProposal, reason string, cause error) (GateOutcome, error) {
	if cause != nil {
		logger.Warnf("gate: proposal %s declined (%s): %v", p.ID, reason, cause)
	} else {
		logger.Infof("gate: proposal %s declined (%s)", p.ID, reason)
	}
	err := g.proposal.UpdateProposalStatus(ctx, p.ID,
		[]store.ProposalStatus{store.ProposalProposed, store.ProposalApproved},
		store.ProposalDeclined, reason)
	if err != nil && !errors.Is(err, store.ErrStaleTransition) {
		return GateOutcome{}, err
	}
	return GateOutcome{Allowed: false, Reason: reason}, nil
}

func (g *Gate) logAttempt(ctx context.Context, p store.TradeProposal, success bool) {
	if g.ledger == nil {
		return
	}
	if err := g.ledger.LogUsage(ctx, store.BudgetEntry{
		UserID:  p.UserID,
		JobID:   p.PolicyID,
		Cost:    1,
		Purpose: "trade_gate",
		Success: success,
	}); err != nil {
		logger.Warnf("gate: budget log failed for %s: %v", p.UserID, err)
	}
}
