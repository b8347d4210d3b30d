package store

import (
	"context"
	"errors"
	"time"
)

// ErrStaleTransition is returned when a conditional status update matched no
// row, i.e. the execution already moved past the expected from-status.
var ErrStaleTransition = errors.New("store: stale execution transition")

// ExecutionPatch carries the optional columns written alongside a status
// transition.
type ExecutionPatch struct {
	ExchangeOrderID string
	LastError       string
	ErrorClass      ErrorClass
	SubmittingAt    *time.Time
	NextReconcileAt *time.Time
}

// ExecutionStore is the execution state machine's persistence contract.
type ExecutionStore interface {
	// ClaimExecution inserts rec relying on the idempotency_key unique
	// index. claimed=false means the key already existed; the returned
	// execution is then the pre-existing row.
	ClaimExecution(ctx context.Context, rec TradeExecution) (TradeExecution, bool, error)
	// TransitionExecution moves one execution from to the given status with
	// a conditional update; ErrStaleTransition if the row was not in `from`.
	TransitionExecution(ctx context.Context, id string, from, to ExecutionStatus, patch ExecutionPatch) error
	// RecordSoftFailure stamps an ambiguous outcome on a SUBMITTING row and
	// schedules its first reconcile pass without changing status.
	RecordSoftFailure(ctx context.Context, id, lastError string, nextReconcileAt time.Time) error
	GetExecution(ctx context.Context, id string) (TradeExecution, bool, error)
	GetExecutionByKey(ctx context.Context, idempotencyKey string) (TradeExecution, bool, error)
	AppendEvent(ctx context.Context, evt ExecutionEvent) error
	ListEvents(ctx context.Context, executionID string) ([]ExecutionEvent, error)
	ExecutionStats(ctx context.Context, userID string) (ExecutionStats, error)
}

// ReconcileStore is the reconciler's slice of the execution table.
type ReconcileStore interface {
	ExecutionStore
	// ListDueSubmitting returns non-escalated SUBMITTING rows whose
	// submission is older than cutoff and whose backoff window has passed.
	ListDueSubmitting(ctx context.Context, cutoff, now time.Time, limit int) ([]TradeExecution, error)
	UpdateReconcileAttempt(ctx context.Context, id string, attempts int, nextAt time.Time) error
	MarkEscalated(ctx context.Context, id string, at time.Time) error
}

// ProposalStore owns proposal lifecycle writes.
type ProposalStore interface {
	InsertProposal(ctx context.Context, rec TradeProposal) error
	GetProposal(ctx context.Context, id string) (TradeProposal, bool, error)
	// UpdateProposalStatus is conditional on the current status.
	UpdateProposalStatus(ctx context.Context, id string, from []ProposalStatus, to ProposalStatus, reason string) error
	ListApprovedProposals(ctx context.Context, userID string, now time.Time, limit int) ([]TradeProposal, error)
	// ExpireProposals marks PROPOSED/APPROVED rows past their deadline as
	// EXPIRED and reports how many were swept.
	ExpireProposals(ctx context.Context, now time.Time) (int64, error)
}

// JobStore implements the scan job lease protocol.
type JobStore interface {
	UpsertJob(ctx context.Context, job ScanJob) error
	ListJobs(ctx context.Context, limit int) ([]ScanJob, error)
	// ClaimDueJobs atomically leases up to limit due jobs for instanceID.
	ClaimDueJobs(ctx context.Context, instanceID string, limit int, ttl time.Duration) ([]ScanJob, error)
	ReleaseJobLock(ctx context.Context, jobID string, nextDelay time.Duration) error
	CleanupExpiredLocks(ctx context.Context) (int64, error)
}

// BudgetStore is the append-only usage ledger.
type BudgetStore interface {
	AppendBudgetEntry(ctx context.Context, entry BudgetEntry) error
	// BudgetUsage sums successful spend since the window start.
	BudgetUsage(ctx context.Context, userID string, since time.Time) (int64, error)
}

// PolicyStore serves policies and the trade history that gates them.
type PolicyStore interface {
	UpsertUserPolicy(ctx context.Context, pol UserPolicy) error
	GetUserPolicy(ctx context.Context, userID string) (UserPolicy, bool, error)
	AppendTradeHistory(ctx context.Context, entry TradeHistoryEntry) error
	ListRecentTrades(ctx context.Context, userID string, since time.Time) ([]TradeHistoryEntry, error)
}

// InvariantStore exposes the read-only safety checks.
type InvariantStore interface {
	CheckDuplicateOrders(ctx context.Context) ([]InvariantViolation, error)
	CheckStaleSubmitting(ctx context.Context, bound time.Duration, now time.Time) ([]InvariantViolation, error)
	CheckMissingOrderIDs(ctx context.Context) ([]InvariantViolation, error)
	CheckMissingIdempotencyKeys(ctx context.Context) ([]InvariantViolation, error)
}
