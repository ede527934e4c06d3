// Package daemon composes the chatd providers and lifecycle.
package daemon

import (
	"context"

	"github.com/opsdesk/chatd/internal/bus"
	"github.com/opsdesk/chatd/internal/chat"
	"github.com/opsdesk/chatd/internal/config"
	"github.com/opsdesk/chatd/internal/gateway"
	"github.com/opsdesk/chatd/internal/identity"
	"github.com/opsdesk/chatd/internal/lock"
	"github.com/opsdesk/chatd/internal/logging"
	"github.com/opsdesk/chatd/internal/outbox"
	"github.com/opsdesk/chatd/internal/status"
	"github.com/opsdesk/chatd/internal/store"
	"github.com/opsdesk/chatd/internal/transport"
	"github.com/opsdesk/chatd/internal/upload"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTransport,
			provideEngine,
			provideSender,
			provideGateway,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return logging.New(cfg.LogDir())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring daemon lock", zap.String("dir", cfg.LockDir()))
	l, err := lock.Acquire(cfg.LockDir())
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
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
	if !result.FTS {
		logger.Warn("sqlite build lacks fts5, template search uses substring scan")
	}
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideTransport(cfg *config.Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *transport.Manager {
	return transport.NewManager(cfg.Backend.WSURL, transport.Options{
		Keepalive:     cfg.Timing.Keepalive.Duration,
		PongWatchdog:  cfg.Timing.PongWatchdog.Duration,
		ReconnectBase: cfg.Timing.ReconnectBase.Duration,
		ReconnectCap:  cfg.Timing.ReconnectCap.Duration,
	}, b, machine, logger)
}

func provideEngine(cfg *config.Config, mgr *transport.Manager, db *store.DB, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *chat.Engine {
	idClient := identity.NewClient(cfg.Backend.APIURL)
	upClient := upload.NewClient(cfg.Backend.APIURL)
	return chat.NewEngine(chat.Options{
		PageSize:       cfg.Chat.PageSize,
		MaxTextLen:     cfg.Chat.MaxTextLen,
		TypingTTL:      cfg.Timing.TypingTTL.Duration,
		SearchDebounce: cfg.Timing.SearchDebounce.Duration,
		QueueCapacity:  cfg.Queue.Capacity,
	}, mgr, db, b, machine, idClient.Me, upClient.Send, logger)
}

func provideSender(db *store.DB, mgr *transport.Manager, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, mgr, b, machine, logger)
}

func provideGateway(cfg *config.Config, engine *chat.Engine, db *store.DB, b *bus.Bus, logger *zap.Logger) *gateway.Server {
	return gateway.NewServer(cfg.Gateway.ListenAddr, engine, db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, mgr *transport.Manager, engine *chat.Engine, sender *outbox.Sender, gw *gateway.Server, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine first so no wire event is ever dropped on the floor.
			engine.Start(context.Background())
			if err := sender.Start(context.Background()); err != nil {
				return err
			}
			gw.Start(context.Background())
			mgr.Connect()
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Disconnect()
			if err := gw.Stop(ctx); err != nil {
				logger.Warn("gateway shutdown error", zap.Error(err))
			}
			sender.Stop()
			engine.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
