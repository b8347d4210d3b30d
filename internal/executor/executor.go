package executor

import (
	"context"
	"fmt"
	"time"

	"tiller/internal/exchange"
	"tiller/internal/logger"
	"tiller/internal/pkg/circuit"
	"tiller/internal/store"

	"github.com/google/uuid"
)

// ResultCode tells the caller what happened to its submission.
type ResultCode string

const (
	// CodeSubmitted: the exchange accepted the order.
	CodeSubmitted ResultCode = "SUBMITTED"
	// CodeAlreadyExecuted: the proposal was claimed earlier; the existing
	// execution is returned. This is the designed idempotent response, not
	// an error.
	CodeAlreadyExecuted ResultCode = "ALREADY_EXECUTED"
	// CodeFailed: the exchange definitively rejected the order.
	CodeFailed ResultCode = "FAILED"
	// CodePendingReconcile: the outcome is unknown; the reconciler owns
	// the row now.
	CodePendingReconcile ResultCode = "PENDING_RECONCILE"
)

// Decision paths recorded on execution events.
const (
	pathClaimNew         = "CLAIM_NEW"
	pathSubmitStart      = "SUBMIT_START"
	pathExchangeAck      = "EXCHANGE_ACK"
	pathExchangeRejected = "EXCHANGE_REJECTED"
	pathExchangeUnknown  = "EXCHANGE_UNKNOWN"
)

// ExecutionResult is the outcome of one SubmitExecution call.
type ExecutionResult struct {
	Code      ResultCode
	Execution store.TradeExecution
}

// Config tunes the state machine.
type Config struct {
	// ExchangeTimeout bounds the order placement call; it also sets the
	// first reconcile delay after an ambiguous outcome.
	ExchangeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = 30 * time.Second
	}
}

// Executor turns an approved proposal into at most one exchange order.
type Executor struct {
	cfg       Config
	store     store.ExecutionStore
	proposals store.ProposalStore
	history   store.PolicyStore
	client    exchange.Client
	breaker   *circuit.Breaker
	now       func() time.Time
}

func New(cfg Config, st store.ExecutionStore, proposals store.ProposalStore, history store.PolicyStore, client exchange.Client) *Executor {
	cfg.applyDefaults()
	return &Executor{
		cfg:       cfg,
		store:     st,
		proposals: proposals,
		history:   history,
		client:    client,
		breaker:   circuit.NewBreaker("exchange", 5, time.Minute),
		now:       time.Now,
	}
}

// SubmitExecution claims the proposal exactly once and drives it through the
// persisted state machine. Safe to call any number of times, from any number
// of processes, for the same proposal.
func (e *Executor) SubmitExecution(ctx context.Context, proposalID string) (ExecutionResult, error) {
	if e == nil || e.store == nil || e.client == nil {
		return ExecutionResult{}, fmt.Errorf("executor not initialized")
	}
	proposal, ok, err := e.proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return ExecutionResult{}, err
	}
	if !ok {
		return ExecutionResult{}, fmt.Errorf("proposal %s not found", proposalID)
	}
	if proposal.Status != store.ProposalApproved {
		// A retry may arrive after the proposal already flipped to a terminal
		// status; if the key was claimed, return the existing execution
		// instead of an error.
		existing, found, err := e.store.GetExecutionByKey(ctx, IdempotencyKey(proposalID))
		if err != nil {
			return ExecutionResult{}, err
		}
		if found {
			logger.Debugf("executor: proposal %s is %s with execution %s, idempotent replay", proposalID, proposal.Status, existing.ID)
			return ExecutionResult{Code: CodeAlreadyExecuted, Execution: existing}, nil
		}
		return ExecutionResult{}, fmt.Errorf("proposal %s is %s, not APPROVED", proposalID, proposal.Status)
	}
	// Fail fast while the exchange is known-bad; nothing is claimed yet so
	// a later call starts clean.
	if !e.breaker.Allow() {
		return ExecutionResult{}, fmt.Errorf("exchange circuit open, submission deferred")
	}

	key := IdempotencyKey(proposalID)
	now := e.now()
	exec, claimed, err := e.store.ClaimExecution(ctx, store.TradeExecution{
		ID:             uuid.NewString(),
		ProposalID:     proposalID,
		UserID:         proposal.UserID,
		IdempotencyKey: key,
		Status:         store.ExecutionClaimed,
		CreatedAt:      now,
	})
	if err != nil {
		return ExecutionResult{}, err
	}
	if !claimed {
		logger.Debugf("executor: proposal %s already claimed, execution=%s status=%s", proposalID, exec.ID, exec.Status)
		return ExecutionResult{Code: CodeAlreadyExecuted, Execution: exec}, nil
	}
	e.appendEvent(ctx, store.ExecutionEvent{
		ExecutionID:  exec.ID,
		ToStatus:     store.ExecutionClaimed,
		DecisionPath: pathClaimNew,
	})

	submittingAt := e.now()
	if err := e.store.TransitionExecution(ctx, exec.ID, store.ExecutionClaimed, store.ExecutionSubmitting, store.ExecutionPatch{
		SubmittingAt: &submittingAt,
	}); err != nil {
		return ExecutionResult{}, fmt.Errorf("transition to SUBMITTING failed: %w", err)
	}
	exec.Status = store.ExecutionSubmitting
	exec.SubmittingAt = &submittingAt
	e.appendEvent(ctx, store.ExecutionEvent{
		ExecutionID:  exec.ID,
		FromStatus:   store.ExecutionClaimed,
		ToStatus:     store.ExecutionSubmitting,
		DecisionPath: pathSubmitStart,
	})

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExchangeTimeout)
	order, placeErr := e.client.PlaceOrder(callCtx, exchange.OrderRequest{
		ClientOrderID: key,
		Asset:         proposal.Asset,
		Side:          string(proposal.Side),
		Amount:        proposal.Amount,
		Price:         proposal.Price,
	})
	cancel()
	latency := time.Since(submittingAt).Milliseconds()

	switch {
	case placeErr == nil:
		return e.finishSubmitted(ctx, exec, proposal, order, latency)
	case exchange.IsHard(placeErr):
		return e.finishHardFailure(ctx, exec, proposal, placeErr, latency)
	default:
		// Timeout, connection reset, 5xx: the order may or may not exist.
		// SUBMITTING stays as the explicit unknown-outcome state; only the
		// reconciler may resolve it.
		return e.recordUnknownOutcome(ctx, exec, placeErr, latency)
	}
}

func (e *Executor) finishSubmitted(ctx context.Context, exec store.TradeExecution, proposal store.TradeProposal, order exchange.Order, latencyMs int64) (ExecutionResult, error) {
	e.breaker.RecordSuccess()
	if err := e.store.TransitionExecution(ctx, exec.ID, store.ExecutionSubmitting, store.ExecutionSubmitted, store.ExecutionPatch{
		ExchangeOrderID: order.OrderID,
	}); err != nil {
		return ExecutionResult{}, fmt.Errorf("transition to SUBMITTED failed: %w", err)
	}
	e.appendEvent(ctx, store.ExecutionEvent{
		ExecutionID:  exec.ID,
		FromStatus:   store.ExecutionSubmitting,
		ToStatus:     store.ExecutionSubmitted,
		DecisionPath: pathExchangeAck,
		LatencyMs:    latencyMs,
	})
	if err := e.proposals.UpdateProposalStatus(ctx, proposal.ID,
		[]store.ProposalStatus{store.ProposalApproved}, store.ProposalExecuted, ""); err != nil {
		logger.Warnf("executor: proposal %s status update failed: %v", proposal.ID, err)
	}
	if e.history != nil {
		if err := e.history.AppendTradeHistory(ctx, store.TradeHistoryEntry{
			UserID:     proposal.UserID,
			Asset:      proposal.Asset,
			Side:       proposal.Side,
			Amount:     proposal.Amount,
			ExecutedAt: e.now(),
		}); err != nil {
			logger.Warnf("executor: trade history append failed: %v", err)
		}
	}
	exec.Status = store.ExecutionSubmitted
	exec.ExchangeOrderID = order.OrderID
	logger.Infof("executor: execution %s submitted, order=%s latency=%dms", exec.ID, order.OrderID, latencyMs)
	return ExecutionResult{Code: CodeSubmitted, Execution: exec}, nil
}

func (e *Executor) finishHardFailure(ctx context.Context, exec store.TradeExecution, proposal store.TradeProposal, placeErr error, latencyMs int64) (ExecutionResult, error) {
	e.breaker.RecordSuccess() // the exchange answered; the order was simply refused
	if err := e.store.TransitionExecution(ctx, exec.ID, store.ExecutionSubmitting, store.ExecutionFailed, store.ExecutionPatch{
		LastError:  placeErr.Error(),
		ErrorClass: store.ErrorClassHard,
	}); err != nil {
		return ExecutionResult{}, fmt.Errorf("transition to FAILED failed: %w", err)
	}
	e.appendEvent(ctx, store.ExecutionEvent{
		ExecutionID:  exec.ID,
		FromStatus:   store.ExecutionSubmitting,
		ToStatus:     store.ExecutionFailed,
		DecisionPath: pathExchangeRejected,
		ErrorClass:   store.ErrorClassHard,
		LatencyMs:    latencyMs,
	})
	if err := e.proposals.UpdateProposalStatus(ctx, proposal.ID,
		[]store.ProposalStatus{store.ProposalApproved}, store.ProposalFailed, ""); err != nil {
		logger.Warnf("executor: proposal %s status update failed: %v", proposal.ID, err)
	}
	exec.Status = store.ExecutionFailed
	exec.LastError = placeErr.Error()
	exec.ErrorClass = store.ErrorClassHard
	logger.Warnf("executor: execution %s rejected by exchange: %v", exec.ID, placeErr)
	return ExecutionResult{Code: CodeFailed, Execution: exec}, nil
}

func (e *Executor) recordUnknownOutcome(ctx context.Context, exec store.TradeExecution, placeErr error, latencyMs int64) (ExecutionResult, error) {
	e.breaker.RecordFailure()
	nextAt := e.now().Add(e.cfg.ExchangeTimeout)
	if err := e.store.RecordSoftFailure(ctx, exec.ID, placeErr.Error(), nextAt); err != nil {
		return ExecutionResult{}, fmt.Errorf("recording soft failure failed: %w", err)
	}
	e.appendEvent(ctx, store.ExecutionEvent{
		ExecutionID:  exec.ID,
		FromStatus:   store.ExecutionSubmitting,
		ToStatus:     store.ExecutionSubmitting,
		DecisionPath: pathExchangeUnknown,
		ErrorClass:   store.ErrorClassSoft,
		LatencyMs:    latencyMs,
	})
	exec.LastError = placeErr.Error()
	exec.ErrorClass = store.ErrorClassSoft
	exec.NextReconcileAt = &nextAt
	logger.Warnf("executor: execution %s outcome unknown, handed to reconciler: %v", exec.ID, placeErr)
	return ExecutionResult{Code: CodePendingReconcile, Execution: exec}, nil
}

// appendEvent must never fail a transition that already happened; the audit
// row is best-effort once the state is durable.
func (e *Executor) appendEvent(ctx context.Context, evt store.ExecutionEvent) {
	if err := e.store.AppendEvent(ctx, evt); err != nil {
		logger.Errorf("executor: event append failed for %s (%s->%s): %v",
			evt.ExecutionID, evt.FromStatus, evt.ToStatus, err)
	}
}
