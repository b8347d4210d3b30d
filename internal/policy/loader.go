package policy

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"tiller/internal/logger"
	"tiller/internal/store"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk shape of the seed policy config.
type PolicyFile struct {
	Policies []PolicyEntry `yaml:"policies"`
}

type PolicyEntry struct {
	UserID              string   `yaml:"user_id"`
	ConfidenceLevel     string   `yaml:"confidence_level"`
	OrderLimitEUR       string   `yaml:"order_limit_eur"`
	TradingEnabled      bool     `yaml:"trading_enabled"`
	Allowlist           []string `yaml:"allowlist"`
	CooldownMinutes     int      `yaml:"cooldown_minutes"`
	AntiFlipMinutes     int      `yaml:"anti_flip_minutes"`
	ConfidenceThreshold int      `yaml:"confidence_threshold"`
	DailyBudget         int64    `yaml:"daily_budget"`
	HourlyBudget        int64    `yaml:"hourly_budget"`
}

// LoadPolicyFile reads and normalizes the policy seed file.
func LoadPolicyFile(path string) ([]store.UserPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file failed: %w", err)
	}
	var file PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse policy file failed: %w", err)
	}
	out := make([]store.UserPolicy, 0, len(file.Policies))
	for i, entry := range file.Policies {
		pol, err := entry.toRecord()
		if err != nil {
			return nil, fmt.Errorf("policy #%d: %w", i+1, err)
		}
		out = append(out, pol)
	}
	return out, nil
}

func (e PolicyEntry) toRecord() (store.UserPolicy, error) {
	userID := strings.TrimSpace(e.UserID)
	if userID == "" {
		return store.UserPolicy{}, fmt.Errorf("user_id is required")
	}
	level := store.ConfidenceLevel(strings.ToUpper(strings.TrimSpace(e.ConfidenceLevel)))
	switch level {
	case store.LevelTraining, store.LevelValidated, store.LevelProduction, store.LevelMature:
	case "":
		level = store.LevelTraining
	default:
		return store.UserPolicy{}, fmt.Errorf("unknown confidence_level %q", e.ConfidenceLevel)
	}
	limit := decimal.Zero
	if raw := strings.TrimSpace(e.OrderLimitEUR); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return store.UserPolicy{}, fmt.Errorf("order_limit_eur %q: %w", raw, err)
		}
		limit = parsed
	}
	return store.UserPolicy{
		UserID:              userID,
		ConfidenceLevel:     level,
		OrderLimitEUR:       limit,
		TradingEnabled:      e.TradingEnabled,
		Allowlist:           e.Allowlist,
		CooldownMinutes:     e.CooldownMinutes,
		AntiFlipMinutes:     e.AntiFlipMinutes,
		ConfidenceThreshold: e.ConfidenceThreshold,
		DailyBudget:         e.DailyBudget,
		HourlyBudget:        e.HourlyBudget,
	}, nil
}

// SeedOnce loads the policy file into the store without watching for changes.
func SeedOnce(path string, st store.PolicyStore) error {
	policies, err := LoadPolicyFile(path)
	if err != nil {
		return err
	}
	for _, pol := range policies {
		if err := st.UpsertUserPolicy(context.Background(), pol); err != nil {
			return fmt.Errorf("upsert policy for %s failed: %w", pol.UserID, err)
		}
	}
	logger.Infof("policy: seeded %d policies from %s", len(policies), path)
	return nil
}

// Loader keeps the policy table in sync with the seed file and reloads on
// filesystem change events.
type Loader struct {
	path    string
	store   store.PolicyStore
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
}

func NewLoader(path string, st store.PolicyStore) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("policy loader requires path")
	}
	if st == nil {
		return nil, fmt.Errorf("policy loader requires store")
	}
	l := &Loader{path: path, store: st}
	if err := l.Sync(context.Background()); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}
	l.watcher = watcher
	go l.watch()
	return l, nil
}

// Sync reads the file and upserts every policy.
func (l *Loader) Sync(ctx context.Context) error {
	policies, err := LoadPolicyFile(l.path)
	if err != nil {
		return err
	}
	for _, pol := range policies {
		if err := l.store.UpsertUserPolicy(ctx, pol); err != nil {
			return fmt.Errorf("upsert policy for %s failed: %w", pol.UserID, err)
		}
	}
	logger.Infof("policy: synced %d policies from %s", len(policies), l.path)
	return nil
}

func (l *Loader) watch() {
	for {
		select {
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.Sync(context.Background()); err != nil {
				logger.Errorf("policy reload failed (%s): %v", evt.Name, err)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("policy watcher error: %v", err)
		}
	}
}

func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.watcher == nil {
		return nil
	}
	l.closed = true
	return l.watcher.Close()
}
