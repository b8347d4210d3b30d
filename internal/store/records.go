package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProposalStatus tracks a trade proposal through its lifecycle.
type ProposalStatus string

const (
	ProposalProposed ProposalStatus = "PROPOSED"
	ProposalApproved ProposalStatus = "APPROVED"
	ProposalExecuted ProposalStatus = "EXECUTED"
	ProposalDeclined ProposalStatus = "DECLINED"
	ProposalFailed   ProposalStatus = "FAILED"
	ProposalExpired  ProposalStatus = "EXPIRED"
)

// ExecutionStatus is the persisted state machine of an execution attempt.
// Progression is forward-only; SUBMITTING is an explicit "outcome unknown"
// state that only the reconciler may resolve.
type ExecutionStatus string

const (
	ExecutionClaimed    ExecutionStatus = "CLAIMED"
	ExecutionSubmitting ExecutionStatus = "SUBMITTING"
	ExecutionSubmitted  ExecutionStatus = "SUBMITTED"
	ExecutionFilled     ExecutionStatus = "FILLED"
	ExecutionFailed     ExecutionStatus = "FAILED"
)

// ErrorClass tags an exchange failure once at the boundary so downstream
// logic never re-inspects raw error text.
type ErrorClass string

const (
	ErrorClassNone ErrorClass = ""
	ErrorClassHard ErrorClass = "HARD"
	ErrorClassSoft ErrorClass = "SOFT"
)

type Side string

const (
	SideBuy       Side = "buy"
	SideSell      Side = "sell"
	SideRebalance Side = "rebalance"
	SideClose     Side = "close"
)

// Opposite reports whether two sides point in conflicting directions for
// anti-flip purposes. Rebalance and close are directionless.
func (s Side) Opposite(other Side) bool {
	return (s == SideBuy && other == SideSell) || (s == SideSell && other == SideBuy)
}

// ConfidenceLevel is the graduated trust tier of a user.
type ConfidenceLevel string

const (
	LevelTraining   ConfidenceLevel = "TRAINING"
	LevelValidated  ConfidenceLevel = "VALIDATED"
	LevelProduction ConfidenceLevel = "PRODUCTION"
	LevelMature     ConfidenceLevel = "MATURE"
)

// TradeProposal is a candidate action awaiting execution. It is created by
// an upstream proposer and mutated only by the execution state machine and
// the expiry sweep.
type TradeProposal struct {
	ID               string
	PolicyID         string
	UserID           string
	Exchange         string
	Asset            string
	Side             Side
	Price            decimal.Decimal
	Amount           decimal.Decimal
	EstimatedValue   decimal.Decimal
	Confidence       int
	Reasoning        string
	Status           ProposalStatus
	DeclineReason    string
	OverrideCooldown bool
	OverrideAntiFlip bool
	PolicyHash       string
	PolicySnapshot   string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// TradeExecution is the unit of exactly-once work. At most one row with a
// given IdempotencyKey may ever exist; the store enforces this with a unique
// index at claim time.
type TradeExecution struct {
	ID                string
	ProposalID        string
	UserID            string
	IdempotencyKey    string
	Status            ExecutionStatus
	ExchangeOrderID   string
	SubmittingAt      *time.Time
	LastError         string
	ErrorClass        ErrorClass
	ReconcileAttempts int
	NextReconcileAt   *time.Time
	EscalatedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExecutionEvent is one append-only audit row per state transition.
type ExecutionEvent struct {
	ExecutionID      string
	FromStatus       ExecutionStatus
	ToStatus         ExecutionStatus
	DecisionPath     string
	ErrorClass       ErrorClass
	LatencyMs        int64
	ReconcileAttempt int
	CreatedAt        time.Time
}

// ScanJob is a recurring per-user unit of scheduled work, mutated exclusively
// through the lease protocol.
type ScanJob struct {
	ID            string
	UserID        string
	PolicyID      string
	NextRunAt     time.Time
	LockedBy      string
	LockedAt      *time.Time
	LockExpiresAt *time.Time
	CreatedAt     time.Time
}

// BudgetEntry is an immutable usage fact. Current usage is always derived by
// aggregation, never read from a counter.
type BudgetEntry struct {
	UserID    string
	JobID     string
	Cost      int64
	Purpose   string
	Success   bool
	CreatedAt time.Time
}

// TradeHistoryEntry records a completed trade; read input to cooldown and
// anti-flip checks.
type TradeHistoryEntry struct {
	UserID     string
	Asset      string
	Side       Side
	Amount     decimal.Decimal
	ExecutedAt time.Time
}

// UserPolicy is the read-mostly per-user trading policy.
type UserPolicy struct {
	UserID              string
	ConfidenceLevel     ConfidenceLevel
	OrderLimitEUR       decimal.Decimal
	TradingEnabled      bool
	Allowlist           []string
	CooldownMinutes     int
	AntiFlipMinutes     int
	ConfidenceThreshold int
	DailyBudget         int64
	HourlyBudget        int64
	UpdatedAt           time.Time
}

// ExecutionStats aggregates per-user terminal outcomes; the promotion process
// outside this core consumes them.
type ExecutionStats struct {
	UserID    string
	Submitted int64
	Filled    int64
	Failed    int64
}

// InvariantViolation is one row breaking a safety property.
type InvariantViolation struct {
	Check       string
	ExecutionID string
	Detail      string
}
