package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"tiller/internal/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimExecution is the load-bearing write of the whole subsystem: an INSERT
// that relies on the idempotency_key unique index. A conflicting insert is the
// designed idempotent response, not an error.
func (s *GormStore) ClaimExecution(ctx context.Context, rec store.TradeExecution) (store.TradeExecution, bool, error) {
	if s == nil || s.db == nil {
		return store.TradeExecution{}, false, errNotInitialized
	}
	rec.IdempotencyKey = strings.TrimSpace(rec.IdempotencyKey)
	if rec.ID == "" || rec.IdempotencyKey == "" {
		return store.TradeExecution{}, false, errors.New("claim requires id and idempotency_key")
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = store.ExecutionClaimed
	}
	model := newExecutionModel(rec)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(&model)
	if res.Error != nil {
		return store.TradeExecution{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		existing, ok, err := s.GetExecutionByKey(ctx, rec.IdempotencyKey)
		if err != nil {
			return store.TradeExecution{}, false, err
		}
		if !ok {
			// Conflict with no readable row only happens if another
			// writer is mid-transaction; surface it for retry.
			return store.TradeExecution{}, false, gorm.ErrRecordNotFound
		}
		return existing, false, nil
	}
	return rec, true, nil
}

// TransitionExecution moves a row forward with a conditional UPDATE. The
// WHERE clause encodes the expected from-status so no transition can ever
// regress a row that already advanced.
func (s *GormStore) TransitionExecution(ctx context.Context, id string, from, to store.ExecutionStatus, patch store.ExecutionPatch) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": time.Now().UnixMilli(),
	}
	if patch.ExchangeOrderID != "" {
		updates["exchange_order_id"] = patch.ExchangeOrderID
	}
	if patch.LastError != "" {
		updates["last_error"] = patch.LastError
	}
	if patch.ErrorClass != store.ErrorClassNone {
		updates["error_class"] = string(patch.ErrorClass)
	}
	if patch.SubmittingAt != nil {
		updates["submitting_at"] = patch.SubmittingAt.UnixMilli()
	}
	if patch.NextReconcileAt != nil {
		updates["next_reconcile_at"] = patch.NextReconcileAt.UnixMilli()
	}
	res := s.db.WithContext(ctx).Model(&executionModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrStaleTransition
	}
	return nil
}

// RecordSoftFailure keeps a SUBMITTING row in place while stamping the error
// and scheduling the first reconcile pass. Not a transition: status is
// unchanged on purpose.
func (s *GormStore) RecordSoftFailure(ctx context.Context, id, lastError string, nextReconcileAt time.Time) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	res := s.db.WithContext(ctx).Model(&executionModel{}).
		Where("id = ? AND status = ?", id, string(store.ExecutionSubmitting)).
		Updates(map[string]interface{}{
			"last_error":        lastError,
			"error_class":       string(store.ErrorClassSoft),
			"next_reconcile_at": nextReconcileAt.UnixMilli(),
			"updated_at":        time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrStaleTransition
	}
	return nil
}

func (s *GormStore) GetExecution(ctx context.Context, id string) (store.TradeExecution, bool, error) {
	if s == nil || s.db == nil {
		return store.TradeExecution{}, false, errNotInitialized
	}
	var model executionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.TradeExecution{}, false, nil
		}
		return store.TradeExecution{}, false, err
	}
	return executionModelToRecord(model), true, nil
}

func (s *GormStore) GetExecutionByKey(ctx context.Context, idempotencyKey string) (store.TradeExecution, bool, error) {
	if s == nil || s.db == nil {
		return store.TradeExecution{}, false, errNotInitialized
	}
	var model executionModel
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", strings.TrimSpace(idempotencyKey)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.TradeExecution{}, false, nil
		}
		return store.TradeExecution{}, false, err
	}
	return executionModelToRecord(model), true, nil
}

// AppendEvent writes one audit row; the event log is append-only and is the
// after-the-fact proof that no duplicate submission happened.
func (s *GormStore) AppendEvent(ctx context.Context, evt store.ExecutionEvent) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	model := eventModel{
		ExecutionID:      evt.ExecutionID,
		FromStatus:       string(evt.FromStatus),
		ToStatus:         string(evt.ToStatus),
		DecisionPath:     evt.DecisionPath,
		ErrorClass:       string(evt.ErrorClass),
		LatencyMs:        evt.LatencyMs,
		ReconcileAttempt: evt.ReconcileAttempt,
		CreatedAtUnix:    evt.CreatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListEvents(ctx context.Context, executionID string) ([]store.ExecutionEvent, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var models []eventModel
	if err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.ExecutionEvent, 0, len(models))
	for _, m := range models {
		out = append(out, store.ExecutionEvent{
			ExecutionID:      m.ExecutionID,
			FromStatus:       store.ExecutionStatus(m.FromStatus),
			ToStatus:         store.ExecutionStatus(m.ToStatus),
			DecisionPath:     m.DecisionPath,
			ErrorClass:       store.ErrorClass(m.ErrorClass),
			LatencyMs:        m.LatencyMs,
			ReconcileAttempt: m.ReconcileAttempt,
			CreatedAt:        millisToTime(m.CreatedAtUnix),
		})
	}
	return out, nil
}

func (s *GormStore) ExecutionStats(ctx context.Context, userID string) (store.ExecutionStats, error) {
	if s == nil || s.db == nil {
		return store.ExecutionStats{}, errNotInitialized
	}
	stats := store.ExecutionStats{UserID: userID}
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&executionModel{}).
		Select("status, COUNT(*) AS total").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return store.ExecutionStats{}, err
	}
	for _, r := range rows {
		switch store.ExecutionStatus(r.Status) {
		case store.ExecutionSubmitted:
			stats.Submitted = r.Total
		case store.ExecutionFilled:
			stats.Filled = r.Total
		case store.ExecutionFailed:
			stats.Failed = r.Total
		}
	}
	return stats, nil
}

// ListDueSubmitting feeds the reconciler: SUBMITTING rows whose submission is
// older than cutoff, not escalated, and past their backoff window.
func (s *GormStore) ListDueSubmitting(ctx context.Context, cutoff, now time.Time, limit int) ([]store.TradeExecution, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []executionModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(store.ExecutionSubmitting)).
		Where("submitting_at > 0 AND submitting_at < ?", cutoff.UnixMilli()).
		Where("escalated_at = 0").
		Where("next_reconcile_at = 0 OR next_reconcile_at <= ?", now.UnixMilli()).
		Order("submitting_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeExecution, 0, len(models))
	for _, m := range models {
		out = append(out, executionModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) UpdateReconcileAttempt(ctx context.Context, id string, attempts int, nextAt time.Time) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	res := s.db.WithContext(ctx).Model(&executionModel{}).
		Where("id = ? AND status = ?", id, string(store.ExecutionSubmitting)).
		Updates(map[string]interface{}{
			"reconcile_attempts": attempts,
			"next_reconcile_at":  nextAt.UnixMilli(),
			"updated_at":         time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrStaleTransition
	}
	return nil
}

// MarkEscalated freezes an exhausted reconciliation for operator review. The
// row stays SUBMITTING so no fresh proposal can slip past the unknown outcome.
func (s *GormStore) MarkEscalated(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	res := s.db.WithContext(ctx).Model(&executionModel{}).
		Where("id = ? AND status = ? AND escalated_at = 0", id, string(store.ExecutionSubmitting)).
		Updates(map[string]interface{}{
			"escalated_at": at.UnixMilli(),
			"updated_at":   time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrStaleTransition
	}
	return nil
}

// --------------------------- conversions --------------------------------

func newExecutionModel(rec store.TradeExecution) executionModel {
	return executionModel{
		ID:                rec.ID,
		ProposalID:        rec.ProposalID,
		UserID:            rec.UserID,
		IdempotencyKey:    rec.IdempotencyKey,
		Status:            string(rec.Status),
		ExchangeOrderID:   rec.ExchangeOrderID,
		SubmittingAtUnix:  timeToMillis(rec.SubmittingAt),
		LastError:         rec.LastError,
		ErrorClass:        string(rec.ErrorClass),
		ReconcileAttempts: rec.ReconcileAttempts,
		NextReconcileUnix: timeToMillis(rec.NextReconcileAt),
		EscalatedAtUnix:   timeToMillis(rec.EscalatedAt),
		CreatedAtUnix:     rec.CreatedAt.UnixMilli(),
		UpdatedAtUnix:     rec.UpdatedAt.UnixMilli(),
	}
}

func executionModelToRecord(m executionModel) store.TradeExecution {
	return store.TradeExecution{
		ID:                m.ID,
		ProposalID:        m.ProposalID,
		UserID:            m.UserID,
		IdempotencyKey:    m.IdempotencyKey,
		Status:            store.ExecutionStatus(m.Status),
		ExchangeOrderID:   m.ExchangeOrderID,
		SubmittingAt:      millisToTimePtr(m.SubmittingAtUnix),
		LastError:         m.LastError,
		ErrorClass:        store.ErrorClass(m.ErrorClass),
		ReconcileAttempts: m.ReconcileAttempts,
		NextReconcileAt:   millisToTimePtr(m.NextReconcileUnix),
		EscalatedAt:       millisToTimePtr(m.EscalatedAtUnix),
		CreatedAt:         millisToTime(m.CreatedAtUnix),
		UpdatedAt:         millisToTime(m.UpdatedAtUnix),
	}
}
