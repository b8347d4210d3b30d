package gormstore

import (
	"context"
	"fmt"
	"time"

	"tiller/internal/store"
)

// The invariant queries are read-only and safe to run at any frequency. A
// non-empty result from any of them is a severity-critical signal, not a
// normal error path.

// CheckDuplicateOrders verifies that no (user, exchange order) pair appears
// on more than one SUBMITTED/FILLED execution.
func (s *GormStore) CheckDuplicateOrders(ctx context.Context) ([]store.InvariantViolation, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	type row struct {
		UserID          string
		ExchangeOrderID string
		Total           int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&executionModel{}).
		Select("user_id, exchange_order_id, COUNT(*) AS total").
		Where("status IN ? AND exchange_order_id <> ''",
			[]string{string(store.ExecutionSubmitted), string(store.ExecutionFilled)}).
		Group("user_id, exchange_order_id").
		Having("COUNT(*) > 1").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.InvariantViolation, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.InvariantViolation{
			Check:  "no_duplicate_orders",
			Detail: fmt.Sprintf("user=%s order=%s count=%d", r.UserID, r.ExchangeOrderID, r.Total),
		})
	}
	return out, nil
}

// CheckStaleSubmitting flags executions stuck in SUBMITTING beyond the bound
// (exchange timeout + reconcile ceiling x backoff). Escalated rows are exempt:
// they are already parked for operator review.
func (s *GormStore) CheckStaleSubmitting(ctx context.Context, bound time.Duration, now time.Time) ([]store.InvariantViolation, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	cutoff := now.Add(-bound).UnixMilli()
	var models []executionModel
	if err := s.db.WithContext(ctx).
		Where("status = ? AND escalated_at = 0", string(store.ExecutionSubmitting)).
		Where("submitting_at > 0 AND submitting_at < ?", cutoff).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.InvariantViolation, 0, len(models))
	for _, m := range models {
		out = append(out, store.InvariantViolation{
			Check:       "no_stale_submitting",
			ExecutionID: m.ID,
			Detail:      fmt.Sprintf("submitting since %s", millisToTime(m.SubmittingAtUnix).Format(time.RFC3339)),
		})
	}
	return out, nil
}

// CheckMissingOrderIDs: every SUBMITTED/FILLED execution must carry the
// exchange order id.
func (s *GormStore) CheckMissingOrderIDs(ctx context.Context) ([]store.InvariantViolation, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var models []executionModel
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND exchange_order_id = ''",
			[]string{string(store.ExecutionSubmitted), string(store.ExecutionFilled)}).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.InvariantViolation, 0, len(models))
	for _, m := range models {
		out = append(out, store.InvariantViolation{
			Check:       "order_id_presence",
			ExecutionID: m.ID,
			Detail:      fmt.Sprintf("status=%s without exchange_order_id", m.Status),
		})
	}
	return out, nil
}

// CheckMissingIdempotencyKeys: every execution at or past SUBMITTING must
// carry its idempotency key.
func (s *GormStore) CheckMissingIdempotencyKeys(ctx context.Context) ([]store.InvariantViolation, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var models []executionModel
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND idempotency_key = ''",
			[]string{
				string(store.ExecutionSubmitting),
				string(store.ExecutionSubmitted),
				string(store.ExecutionFilled),
			}).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.InvariantViolation, 0, len(models))
	for _, m := range models {
		out = append(out, store.InvariantViolation{
			Check:       "idempotency_key_presence",
			ExecutionID: m.ID,
			Detail:      fmt.Sprintf("status=%s without idempotency_key", m.Status),
		})
	}
	return out, nil
}
