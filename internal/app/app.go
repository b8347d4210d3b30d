package app

import (
	"context"

	"tiller/internal/config"
	"tiller/internal/logger"
	"tiller/internal/monitor"
	"tiller/internal/policy"
	"tiller/internal/reconcile"
	"tiller/internal/scheduler"
	"tiller/internal/store/gormstore"
	opshttp "tiller/internal/transport/http/ops"

	"golang.org/x/sync/errgroup"
)

// App owns the long-running loops and their shared store.
type App struct {
	cfg        *config.Config
	store      *gormstore.GormStore
	scheduler  *scheduler.Scheduler
	reconciler *reconcile.Reconciler
	monitor    *monitor.Monitor
	loader     *policy.Loader
	httpServer *opshttp.Server
}

// Run supervises all loops until ctx cancellation or the first fatal error.
// Loop exits caused by cancellation are normal shutdown, not failures.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			err := a.scheduler.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		err := a.reconciler.Run(ctx, a.cfg.Reconcile.Interval())
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	if a.cfg.Monitor.Enabled {
		g.Go(func() error {
			err := a.monitor.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	if a.httpServer != nil {
		g.Go(func() error {
			logger.Infof("app: ops http listening on %s", a.httpServer.Addr())
			return a.httpServer.Start(ctx)
		})
	}

	err := g.Wait()
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	if a.loader != nil {
		if err := a.loader.Close(); err != nil {
			logger.Warnf("app: policy loader close failed: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: store close failed: %v", err)
		}
	}
	logger.Infof("app: shutdown complete")
}
