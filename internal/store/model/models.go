package model

import (
	"gorm.io/datatypes"
)

// Persisted schema owned by the execution core. Timestamps are unix millis;
// money columns are decimal strings to avoid float drift.

type TradeProposalModel struct {
	ID               string         `gorm:"column:id;primaryKey"`
	PolicyID         string         `gorm:"column:policy_id;index"`
	UserID           string         `gorm:"column:user_id;index"`
	Exchange         string         `gorm:"column:exchange"`
	Asset            string         `gorm:"column:asset"`
	Side             string         `gorm:"column:side"`
	Price            string         `gorm:"column:price"`
	Amount           string         `gorm:"column:amount"`
	EstimatedValue   string         `gorm:"column:estimated_value"`
	Confidence       int            `gorm:"column:confidence"`
	Reasoning        string         `gorm:"column:reasoning"`
	Status           string         `gorm:"column:status;index"`
	DeclineReason    string         `gorm:"column:decline_reason"`
	OverrideCooldown int            `gorm:"column:override_cooldown"`
	OverrideAntiFlip int            `gorm:"column:override_anti_flip"`
	PolicyHash       string         `gorm:"column:policy_hash"`
	PolicySnapshot   datatypes.JSON `gorm:"column:policy_snapshot;type:TEXT"`
	CreatedAtUnix    int64          `gorm:"column:created_at"`
	ExpiresAtUnix    int64          `gorm:"column:expires_at;index"`
}

func (TradeProposalModel) TableName() string { return "trade_proposals" }

type TradeExecutionModel struct {
	ID                string `gorm:"column:id;primaryKey"`
	ProposalID        string `gorm:"column:proposal_id;index"`
	UserID            string `gorm:"column:user_id;index"`
	IdempotencyKey    string `gorm:"column:idempotency_key;uniqueIndex"`
	Status            string `gorm:"column:status;index"`
	ExchangeOrderID   string `gorm:"column:exchange_order_id"`
	SubmittingAtUnix  int64  `gorm:"column:submitting_at"`
	LastError         string `gorm:"column:last_error"`
	ErrorClass        string `gorm:"column:error_class"`
	ReconcileAttempts int    `gorm:"column:reconcile_attempts"`
	NextReconcileUnix int64  `gorm:"column:next_reconcile_at"`
	EscalatedAtUnix   int64  `gorm:"column:escalated_at"`
	CreatedAtUnix     int64  `gorm:"column:created_at"`
	UpdatedAtUnix     int64  `gorm:"column:updated_at"`
}

func (TradeExecutionModel) TableName() string { return "trade_executions" }

type ExecutionEventModel struct {
	ID               int64  `gorm:"column:id;primaryKey"`
	ExecutionID      string `gorm:"column:execution_id;index"`
	FromStatus       string `gorm:"column:from_status"`
	ToStatus         string `gorm:"column:to_status"`
	DecisionPath     string `gorm:"column:decision_path"`
	ErrorClass       string `gorm:"column:error_class"`
	LatencyMs        int64  `gorm:"column:latency_ms"`
	ReconcileAttempt int    `gorm:"column:reconcile_attempt"`
	CreatedAtUnix    int64  `gorm:"column:created_at;index"`
}

func (ExecutionEventModel) TableName() string { return "execution_events" }

type ScanJobModel struct {
	ID                string `gorm:"column:id;primaryKey"`
	UserID            string `gorm:"column:user_id;index"`
	PolicyID          string `gorm:"column:policy_id"`
	NextRunAtUnix     int64  `gorm:"column:next_run_at;index"`
	LockedBy          string `gorm:"column:locked_by"`
	LockedAtUnix      int64  `gorm:"column:locked_at"`
	LockExpiresAtUnix int64  `gorm:"column:lock_expires_at"`
	CreatedAtUnix     int64  `gorm:"column:created_at"`
}

func (ScanJobModel) TableName() string { return "scan_jobs" }

type BudgetLedgerModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	UserID        string `gorm:"column:user_id;index:idx_budget_user_time,priority:1"`
	JobID         string `gorm:"column:job_id"`
	Cost          int64  `gorm:"column:cost"`
	Purpose       string `gorm:"column:purpose"`
	Success       int    `gorm:"column:success"`
	CreatedAtUnix int64  `gorm:"column:created_at;index:idx_budget_user_time,priority:2"`
}

func (BudgetLedgerModel) TableName() string { return "budget_ledger" }

type TradeHistoryModel struct {
	ID             int64  `gorm:"column:id;primaryKey"`
	UserID         string `gorm:"column:user_id;index:idx_history_user_time,priority:1"`
	Asset          string `gorm:"column:asset"`
	Side           string `gorm:"column:side"`
	Amount         string `gorm:"column:amount"`
	ExecutedAtUnix int64  `gorm:"column:executed_at;index:idx_history_user_time,priority:2"`
}

func (TradeHistoryModel) TableName() string { return "trade_history" }

type UserPolicyModel struct {
	UserID              string         `gorm:"column:user_id;primaryKey"`
	ConfidenceLevel     string         `gorm:"column:confidence_level"`
	OrderLimitEUR       string         `gorm:"column:order_limit_eur"`
	TradingEnabled      int            `gorm:"column:trading_enabled"`
	Allowlist           datatypes.JSON `gorm:"column:allowlist;type:TEXT"`
	CooldownMinutes     int            `gorm:"column:cooldown_minutes"`
	AntiFlipMinutes     int            `gorm:"column:anti_flip_minutes"`
	ConfidenceThreshold int            `gorm:"column:confidence_threshold"`
	DailyBudget         int64          `gorm:"column:daily_budget"`
	HourlyBudget        int64          `gorm:"column:hourly_budget"`
	UpdatedAtUnix       int64          `gorm:"column:updated_at"`
}

func (UserPolicyModel) TableName() string { return "user_policies" }
