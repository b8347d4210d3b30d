package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tiller/internal/store"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *GormStore) UpsertUserPolicy(ctx context.Context, pol store.UserPolicy) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(pol.UserID) == "" {
		return errors.New("user policy requires user id")
	}
	allowlist := pol.Allowlist
	if allowlist == nil {
		allowlist = []string{}
	}
	allowBytes, err := json.Marshal(allowlist)
	if err != nil {
		return err
	}
	model := userPolicyModel{
		UserID:              pol.UserID,
		ConfidenceLevel:     string(pol.ConfidenceLevel),
		OrderLimitEUR:       decToString(pol.OrderLimitEUR),
		TradingEnabled:      boolToInt(pol.TradingEnabled),
		Allowlist:           datatypes.JSON(allowBytes),
		CooldownMinutes:     pol.CooldownMinutes,
		AntiFlipMinutes:     pol.AntiFlipMinutes,
		ConfidenceThreshold: pol.ConfidenceThreshold,
		DailyBudget:         pol.DailyBudget,
		HourlyBudget:        pol.HourlyBudget,
		UpdatedAtUnix:       time.Now().UnixMilli(),
	}
	cols := []string{
		"confidence_level", "order_limit_eur", "trading_enabled", "allowlist",
		"cooldown_minutes", "anti_flip_minutes", "confidence_threshold",
		"daily_budget", "hourly_budget", "updated_at",
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).
		Create(&model).Error
}

func (s *GormStore) GetUserPolicy(ctx context.Context, userID string) (store.UserPolicy, bool, error) {
	if s == nil || s.db == nil {
		return store.UserPolicy{}, false, errNotInitialized
	}
	var model userPolicyModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.UserPolicy{}, false, nil
		}
		return store.UserPolicy{}, false, err
	}
	var allowlist []string
	if len(model.Allowlist) > 0 {
		_ = json.Unmarshal(model.Allowlist, &allowlist)
	}
	return store.UserPolicy{
		UserID:              model.UserID,
		ConfidenceLevel:     store.ConfidenceLevel(model.ConfidenceLevel),
		OrderLimitEUR:       stringToDec(model.OrderLimitEUR),
		TradingEnabled:      model.TradingEnabled != 0,
		Allowlist:           allowlist,
		CooldownMinutes:     model.CooldownMinutes,
		AntiFlipMinutes:     model.AntiFlipMinutes,
		ConfidenceThreshold: model.ConfidenceThreshold,
		DailyBudget:         model.DailyBudget,
		HourlyBudget:        model.HourlyBudget,
		UpdatedAt:           millisToTime(model.UpdatedAtUnix),
	}, true, nil
}

func (s *GormStore) AppendTradeHistory(ctx context.Context, entry store.TradeHistoryEntry) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now()
	}
	model := historyModel{
		UserID:         entry.UserID,
		Asset:          strings.ToUpper(strings.TrimSpace(entry.Asset)),
		Side:           string(entry.Side),
		Amount:         decToString(entry.Amount),
		ExecutedAtUnix: entry.ExecutedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListRecentTrades(ctx context.Context, userID string, since time.Time) ([]store.TradeHistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var models []historyModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND executed_at >= ?", userID, since.UnixMilli()).
		Order("executed_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.TradeHistoryEntry, 0, len(models))
	for _, m := range models {
		out = append(out, store.TradeHistoryEntry{
			UserID:     m.UserID,
			Asset:      m.Asset,
			Side:       store.Side(m.Side),
			Amount:     stringToDec(m.Amount),
			ExecutedAt: millisToTime(m.ExecutedAtUnix),
		})
	}
	return out, nil
}
