package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"tiller/internal/store"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *GormStore) InsertProposal(ctx context.Context, rec store.TradeProposal) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("proposal requires id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = store.ProposalProposed
	}
	model := newProposalModel(rec)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetProposal(ctx context.Context, id string) (store.TradeProposal, bool, error) {
	if s == nil || s.db == nil {
		return store.TradeProposal{}, false, errNotInitialized
	}
	var model proposalModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.TradeProposal{}, false, nil
		}
		return store.TradeProposal{}, false, err
	}
	return proposalModelToRecord(model), true, nil
}

// UpdateProposalStatus is conditional on the current status so concurrent
// writers cannot clobber a terminal state.
func (s *GormStore) UpdateProposalStatus(ctx context.Context, id string, from []store.ProposalStatus, to store.ProposalStatus, reason string) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if len(from) == 0 {
		return errors.New("proposal transition requires from statuses")
	}
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	updates := map[string]interface{}{"status": string(to)}
	if strings.TrimSpace(reason) != "" {
		updates["decline_reason"] = strings.TrimSpace(reason)
	}
	res := s.db.WithContext(ctx).Model(&proposalModel{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrStaleTransition
	}
	return nil
}

func (s *GormStore) ListApprovedProposals(ctx context.Context, userID string, now time.Time, limit int) ([]store.TradeProposal, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var models []proposalModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(store.ProposalApproved)).
		Where("expires_at = 0 OR expires_at > ?", now.UnixMilli()).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeProposal, 0, len(models))
	for _, m := range models {
		out = append(out, proposalModelToRecord(m))
	}
	return out, nil
}

// ExpireProposals sweeps proposals past their deadline. Executions already
// claimed are untouched; expiry only gates future claims.
func (s *GormStore) ExpireProposals(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	res := s.db.WithContext(ctx).Model(&proposalModel{}).
		Where("status IN ?", []string{string(store.ProposalProposed), string(store.ProposalApproved)}).
		Where("expires_at > 0 AND expires_at <= ?", now.UnixMilli()).
		Update("status", string(store.ProposalExpired))
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// --------------------------- conversions --------------------------------

func newProposalModel(rec store.TradeProposal) proposalModel {
	snapshot := strings.TrimSpace(rec.PolicySnapshot)
	if snapshot == "" {
		snapshot = "{}"
	}
	return proposalModel{
		ID:               rec.ID,
		PolicyID:         rec.PolicyID,
		UserID:           rec.UserID,
		Exchange:         rec.Exchange,
		Asset:            strings.ToUpper(strings.TrimSpace(rec.Asset)),
		Side:             string(rec.Side),
		Price:            decToString(rec.Price),
		Amount:           decToString(rec.Amount),
		EstimatedValue:   decToString(rec.EstimatedValue),
		Confidence:       rec.Confidence,
		Reasoning:        rec.Reasoning,
		Status:           string(rec.Status),
		DeclineReason:    rec.DeclineReason,
		OverrideCooldown: boolToInt(rec.OverrideCooldown),
		OverrideAntiFlip: boolToInt(rec.OverrideAntiFlip),
		PolicyHash:       rec.PolicyHash,
		PolicySnapshot:   datatypes.JSON([]byte(snapshot)),
		CreatedAtUnix:    rec.CreatedAt.UnixMilli(),
		ExpiresAtUnix:    rec.ExpiresAt.UnixMilli(),
	}
}

func proposalModelToRecord(m proposalModel) store.TradeProposal {
	rec := store.TradeProposal{
		ID:               m.ID,
		PolicyID:         m.PolicyID,
		UserID:           m.UserID,
		Exchange:         m.Exchange,
		Asset:            m.Asset,
		Side:             store.Side(m.Side),
		Price:            stringToDec(m.Price),
		Amount:           stringToDec(m.Amount),
		EstimatedValue:   stringToDec(m.EstimatedValue),
		Confidence:       m.Confidence,
		Reasoning:        m.Reasoning,
		Status:           store.ProposalStatus(m.Status),
		DeclineReason:    m.DeclineReason,
		OverrideCooldown: m.OverrideCooldown != 0,
		OverrideAntiFlip: m.OverrideAntiFlip != 0,
		PolicyHash:       m.PolicyHash,
		PolicySnapshot:   string(m.PolicySnapshot),
		CreatedAt:        millisToTime(m.CreatedAtUnix),
	}
	if m.ExpiresAtUnix > 0 {
		rec.ExpiresAt = millisToTime(m.ExpiresAtUnix)
	}
	return rec
}
