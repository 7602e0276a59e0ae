// Package daemon composes the application with fx: providers for every
// subsystem and the lifecycle hooks that start and stop them in order.
package daemon

import (
	"context"

	"github.com/wappdesk/wappdesk/internal/bus"
	"github.com/wappdesk/wappdesk/internal/command"
	"github.com/wappdesk/wappdesk/internal/config"
	"github.com/wappdesk/wappdesk/internal/lock"
	"github.com/wappdesk/wappdesk/internal/logging"
	"github.com/wappdesk/wappdesk/internal/media"
	"github.com/wappdesk/wappdesk/internal/protocol"
	"github.com/wappdesk/wappdesk/internal/router"
	"github.com/wappdesk/wappdesk/internal/scheduler"
	"github.com/wappdesk/wappdesk/internal/session"
	"github.com/wappdesk/wappdesk/internal/store"
	enginesync "github.com/wappdesk/wappdesk/internal/sync"
	"github.com/wappdesk/wappdesk/internal/wa"
	"github.com/wappdesk/wappdesk/internal/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module returns the fx module for the daemon.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideLock,
			provideBus,
			provideStore,
			provideMediaStore,
			provideFactory,
			providePool,
			provideSyncEngine,
			provideRouter,
			provideCommands,
			provideHub,
			provideScheduler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath())
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	return lock.Acquire(cfg.DataDir)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideMediaStore(cfg *config.Config) (*media.Store, error) {
	return media.New(cfg.MediaDir)
}

func provideFactory(cfg *config.Config, logger *zap.Logger) protocol.Factory {
	return wa.Factory(cfg, logger)
}

func providePool(factory protocol.Factory, db *store.DB, b *bus.Bus, logger *zap.Logger) *session.Pool {
	return session.NewPool(factory, db, b, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, m *media.Store, pool *session.Pool, logger *zap.Logger) *enginesync.Engine {
	return enginesync.NewEngine(db, b, m, pool, logger)
}

func provideRouter(engine *enginesync.Engine, b *bus.Bus, logger *zap.Logger) *router.Router {
	return router.New(engine, b, logger)
}

func provideCommands(pool *session.Pool, engine *enginesync.Engine, m *media.Store, db *store.DB, logger *zap.Logger) *command.Service {
	return command.NewService(pool, engine, m, db, logger)
}

func provideHub(b *bus.Bus, logger *zap.Logger) *ws.Hub {
	return ws.NewHub(b, logger)
}

func provideScheduler(cfg *config.Config, pool *session.Pool, engine *enginesync.Engine, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(cfg.ResyncSpec, pool, engine, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, pool *session.Pool,
	rt *router.Router, sched *scheduler.Scheduler, db *store.DB, logger *zap.Logger) {

	// The pool and the router need each other; wire the cycle here.
	pool.SetBinder(rt)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			if err := sched.Start(); err != nil {
				return err
			}

			// Revive previously active sessions in the background; pairing
			// and reconnects must not block startup.
			go pool.StartAll(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			pool.Shutdown()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
