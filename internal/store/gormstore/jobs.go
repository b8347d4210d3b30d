package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"tiller/internal/store"

	"gorm.io/gorm/clause"
)

// ClaimDueJobs leases due jobs with one atomic conditional UPDATE: the lock
// predicate lives in the WHERE clause, so two instances can never both win
// the same row. The fresh expiry doubles as the claim token for reading the
// rows back.
func (s *GormStore) ClaimDueJobs(ctx context.Context, instanceID string, limit int, ttl time.Duration) ([]store.ScanJob, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, errors.New("claim requires instance id")
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	now := time.Now()
	expiresAt := now.Add(ttl).UnixMilli()
	res := s.db.WithContext(ctx).Exec(`
		UPDATE scan_jobs
		SET locked_by = ?, locked_at = ?, lock_expires_at = ?
		WHERE id IN (
			SELECT id FROM scan_jobs
			WHERE next_run_at <= ?
			  AND (locked_at = 0 OR lock_expires_at < ?)
			ORDER BY next_run_at ASC
			LIMIT ?
		)`,
		instanceID, now.UnixMilli(), expiresAt,
		now.UnixMilli(), now.UnixMilli(), limit)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	var models []scanJobModel
	if err := s.db.WithContext(ctx).
		Where("locked_by = ? AND lock_expires_at = ?", instanceID, expiresAt).
		Order("next_run_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.ScanJob, 0, len(models))
	for _, m := range models {
		out = append(out, scanJobModelToRecord(m))
	}
	return out, nil
}

// ReleaseJobLock clears the lease and reschedules the next run.
func (s *GormStore) ReleaseJobLock(ctx context.Context, jobID string, nextDelay time.Duration) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if nextDelay <= 0 {
		nextDelay = time.Minute
	}
	return s.db.WithContext(ctx).Model(&scanJobModel{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"locked_by":       "",
			"locked_at":       0,
			"lock_expires_at": 0,
			"next_run_at":     time.Now().Add(nextDelay).UnixMilli(),
		}).Error
}

// CleanupExpiredLocks re-exposes jobs held by crashed instances. No heartbeat
// protocol: an expired TTL is the crash signal.
func (s *GormStore) CleanupExpiredLocks(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Model(&scanJobModel{}).
		Where("locked_by <> '' AND lock_expires_at > 0 AND lock_expires_at < ?", time.Now().UnixMilli()).
		Updates(map[string]interface{}{
			"locked_by":       "",
			"locked_at":       0,
			"lock_expires_at": 0,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *GormStore) UpsertJob(ctx context.Context, job store.ScanJob) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("scan job requires id")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.NextRunAt.IsZero() {
		job.NextRunAt = time.Now()
	}
	model := scanJobModel{
		ID:                job.ID,
		UserID:            job.UserID,
		PolicyID:          job.PolicyID,
		NextRunAtUnix:     job.NextRunAt.UnixMilli(),
		LockedBy:          job.LockedBy,
		LockedAtUnix:      timeToMillis(job.LockedAt),
		LockExpiresAtUnix: timeToMillis(job.LockExpiresAt),
		CreatedAtUnix:     job.CreatedAt.UnixMilli(),
	}
	// Lock columns are never touched by upsert; only the lease protocol
	// writes them.
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "policy_id", "next_run_at"}),
		}).
		Create(&model).Error
}

func (s *GormStore) ListJobs(ctx context.Context, limit int) ([]store.ScanJob, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []scanJobModel
	if err := s.db.WithContext(ctx).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.ScanJob, 0, len(models))
	for _, m := range models {
		out = append(out, scanJobModelToRecord(m))
	}
	return out, nil
}

func scanJobModelToRecord(m scanJobModel) store.ScanJob {
	return store.ScanJob{
		ID:            m.ID,
		UserID:        m.UserID,
		PolicyID:      m.PolicyID,
		NextRunAt:     millisToTime(m.NextRunAtUnix),
		LockedBy:      m.LockedBy,
		LockedAt:      millisToTimePtr(m.LockedAtUnix),
		LockExpiresAt: millisToTimePtr(m.LockExpiresAtUnix),
		CreatedAt:     millisToTime(m.CreatedAtUnix),
	}
}
