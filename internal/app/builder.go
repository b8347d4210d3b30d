package app

import (
	"fmt"
	"strings"

	"tiller/internal/budget"
	"tiller/internal/config"
	"tiller/internal/exchange"
	"tiller/internal/executor"
	"tiller/internal/logger"
	"tiller/internal/monitor"
	"tiller/internal/notifier"
	"tiller/internal/policy"
	"tiller/internal/reconcile"
	"tiller/internal/scheduler"
	"tiller/internal/store/gormstore"
	opshttp "tiller/internal/transport/http/ops"
)

// Build assembles the full application from config. Every component shares the
// one gorm store; it is the only coordination point between them.
func Build(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	st, err := gormstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store failed: %w", err)
	}

	client, err := buildExchangeClient(cfg.Exchange)
	if err != nil {
		st.Close()
		return nil, err
	}

	var notify notifier.TextNotifier = notifier.Nop{}
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	ledger := budget.NewLedger(st)
	gate := executor.NewGate(st, st, ledger)
	exec := executor.New(executor.Config{ExchangeTimeout: cfg.Exchange.Timeout()}, st, st, st, client)

	reconCfg := reconcile.Config{
		ExchangeTimeout: cfg.Exchange.Timeout(),
		MaxAttempts:     cfg.Reconcile.MaxAttempts,
		BackoffBase:     cfg.Reconcile.BackoffBase(),
		BackoffCap:      cfg.Reconcile.BackoffCap(),
		SweepLimit:      cfg.Reconcile.SweepLimit,
	}
	recon := reconcile.New(reconCfg, st, st, st, client, notify)

	runner := executor.NewScanRunner(st, gate, exec, cfg.Scheduler.BatchSize)
	sched := scheduler.New(scheduler.Config{
		PollInterval:    cfg.Scheduler.PollInterval(),
		LockTTL:         cfg.Scheduler.LockTTL(),
		BatchSize:       cfg.Scheduler.BatchSize,
		CleanupInterval: cfg.Scheduler.CleanupInterval(),
		DefaultInterval: cfg.Scheduler.ScanInterval(),
	}, st, runner)

	mon := monitor.New(monitor.Config{
		Interval:   cfg.Monitor.Interval(),
		StaleBound: reconCfg.StaleBound(),
	}, st, notify)

	var loader *policy.Loader
	if cfg.Policy.HotReload {
		loader, err = policy.NewLoader(cfg.Policy.File, st)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("policy loader failed: %w", err)
		}
	} else if strings.TrimSpace(cfg.Policy.File) != "" {
		if err := policy.SeedOnce(cfg.Policy.File, st); err != nil {
			st.Close()
			return nil, fmt.Errorf("policy seed failed: %w", err)
		}
	}

	var httpSrv *opshttp.Server
	if cfg.HTTP.Enabled {
		router := opshttp.NewRouter(st, st, ledger, mon)
		httpSrv, err = opshttp.NewServer(opshttp.ServerConfig{Addr: cfg.HTTP.Addr, Router: router})
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	logger.Infof("app: built (exchange=%s, store=%s, http=%v, scheduler=%v)",
		cfg.Exchange.Mode, cfg.Store.Path, cfg.HTTP.Enabled, cfg.Scheduler.Enabled)
	return &App{
		cfg:        cfg,
		store:      st,
		scheduler:  sched,
		reconciler: recon,
		monitor:    mon,
		loader:     loader,
		httpServer: httpSrv,
	}, nil
}

func buildExchangeClient(cfg config.ExchangeConfig) (exchange.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "binance":
		baseURL := ""
		if cfg.Testnet {
			baseURL = "https://testnet.binance.vision"
		}
		return exchange.NewBinanceClient(cfg.APIKey, cfg.APISecret, baseURL), nil
	case "mock":
		return exchange.NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown exchange mode %q", cfg.Mode)
	}
}
