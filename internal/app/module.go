package app

import (
	"context"

	"github.com/kyodoai/dealdesk/internal/bus"
	"github.com/kyodoai/dealdesk/internal/config"
	"github.com/kyodoai/dealdesk/internal/ingest"
	"github.com/kyodoai/dealdesk/internal/lock"
	"github.com/kyodoai/dealdesk/internal/logging"
	"github.com/kyodoai/dealdesk/internal/outbound"
	"github.com/kyodoai/dealdesk/internal/platform"
	"github.com/kyodoai/dealdesk/internal/poller"
	"github.com/kyodoai/dealdesk/internal/session"
	"github.com/kyodoai/dealdesk/internal/status"
	"github.com/kyodoai/dealdesk/internal/store"
	"github.com/kyodoai/dealdesk/internal/timeline"
	"github.com/kyodoai/dealdesk/internal/tui"
	"github.com/kyodoai/dealdesk/internal/tui/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // empty means the default ~/.dealdesk/config.toml
}

// Module composes every client component with its lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("dealdesk",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAuth,
			provideClient,
			provideEngine,
			providePoller,
			provideRunner,
			provideSender,
			provideViewModel,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, false)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("session", p.SessionName))
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
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
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAuth(p Params, cfg *config.Config, logger *zap.Logger) *platform.Auth {
	auth := platform.NewAuth(cfg.Platform.StoreURL, cfg.Platform.AnonKey, logger)
	if err := auth.LoadToken(session.TokenPath(p.SessionName)); err != nil {
		logger.Info("no cached token", zap.Error(err))
	}
	return auth
}

func provideClient(cfg *config.Config, auth *platform.Auth, logger *zap.Logger) *platform.Client {
	return platform.NewClient(cfg.Platform.StoreURL, cfg.Platform.BackendURL, cfg.Platform.AnonKey, auth, logger)
}

func provideEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, logger)
}

func providePoller(client *platform.Client, engine *ingest.Engine, cfg *config.Config, logger *zap.Logger) *poller.Poller {
	return poller.New(client, engine, cfg.PollInterval(), logger)
}

func provideRunner(b *bus.Bus, logger *zap.Logger) *timeline.Runner {
	return timeline.NewRunner(b, logger)
}

func provideSender(db *store.DB, client *platform.Client, b *bus.Bus, logger *zap.Logger) *outbound.Sender {
	return outbound.NewSender(db, client, b, logger)
}

func provideViewModel(db *store.DB, client *platform.Client, engine *ingest.Engine, poll *poller.Poller, runner *timeline.Runner, b *bus.Bus, auth *platform.Auth) *model.ViewModel {
	vm := model.NewViewModel(db, client, engine, poll, runner, b)
	if creds, err := auth.Credentials(); err == nil {
		vm.SetUserID(creds.UserID)
	}
	return vm
}

func provideApp(p Params, vm *model.ViewModel, b *bus.Bus, auth *platform.Auth, machine *status.Machine, logger *zap.Logger) *tui.App {
	return tui.NewApp(vm, b, auth, machine, p.SessionName, logger)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, ui *tui.App, sender *outbound.Sender, poll *poller.Poller, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sender.Start(context.Background())

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("ui exited with error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ui.Stop()
			poll.Stop()
			sender.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
