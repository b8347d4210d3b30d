package gormstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tiller/internal/store"
	storemodel "tiller/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

type (
	proposalModel   = storemodel.TradeProposalModel
	executionModel  = storemodel.TradeExecutionModel
	eventModel      = storemodel.ExecutionEventModel
	scanJobModel    = storemodel.ScanJobModel
	budgetModel     = storemodel.BudgetLedgerModel
	historyModel    = storemodel.TradeHistoryModel
	userPolicyModel = storemodel.UserPolicyModel
)

// GormStore backs every coordination primitive in the core with a single
// relational store. All correctness-critical writes are one conditional
// statement each, so check-then-act races collapse into the database.
type GormStore struct {
	db *gorm.DB
}

// Open initializes the store at path, migrating the owned schema. The pure-Go
// sqlite driver is used through database/sql so deploys need no cgo.
func Open(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&proposalModel{},
		&executionModel{},
		&eventModel{},
		&scanJobModel{},
		&budgetModel{},
		&historyModel{},
		&userPolicyModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a small pool keeps lock contention low while still
	// letting the HTTP read surface run alongside the writers.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ store.ExecutionStore = (*GormStore)(nil)
	_ store.ReconcileStore = (*GormStore)(nil)
	_ store.ProposalStore  = (*GormStore)(nil)
	_ store.JobStore       = (*GormStore)(nil)
	_ store.BudgetStore    = (*GormStore)(nil)
	_ store.PolicyStore    = (*GormStore)(nil)
	_ store.InvariantStore = (*GormStore)(nil)
)

var errNotInitialized = fmt.Errorf("gorm store not initialized")

// --------------------------- helpers ------------------------------------

func decToString(d decimal.Decimal) string {
	return d.String()
}

func stringToDec(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func timeToMillis(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func millisToTimePtr(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	ts := time.UnixMilli(v)
	return &ts
}
