package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"tiller/internal/store"
)

// AppendBudgetEntry writes one immutable usage fact. There is no counter to
// increment anywhere; usage is always derived by aggregation.
func (s *GormStore) AppendBudgetEntry(ctx context.Context, entry store.BudgetEntry) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(entry.UserID) == "" {
		return errors.New("budget entry requires user id")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	model := budgetModel{
		UserID:        entry.UserID,
		JobID:         entry.JobID,
		Cost:          entry.Cost,
		Purpose:       entry.Purpose,
		Success:       boolToInt(entry.Success),
		CreatedAtUnix: entry.CreatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// BudgetUsage sums successful spend over the trailing window.
func (s *GormStore) BudgetUsage(ctx context.Context, userID string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&budgetModel{}).
		Select("COALESCE(SUM(cost), 0)").
		Where("user_id = ? AND success = 1 AND created_at >= ?", userID, since.UnixMilli()).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
