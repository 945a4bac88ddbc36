package server

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"cipherchat/internal/api"
	"cipherchat/internal/auth"
	"cipherchat/internal/config"
	"cipherchat/internal/db"
	"cipherchat/internal/dispatch"
	"cipherchat/internal/events"
	"cipherchat/internal/logging"
	"cipherchat/internal/metrics"
	"cipherchat/internal/presence"
	"cipherchat/internal/ratelimit"
	"cipherchat/internal/reconcile"
	"cipherchat/internal/telemetry"
	"cipherchat/internal/websocket"
)

// Params selects the configuration source. A non-nil Config wins over
// ConfigPath.
type Params struct {
	ConfigPath string
	Config     *config.Config
}

// Module returns the fx module for the chat server, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("server",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideRegistry,
			provideMetrics,
			provideStore,
			provideSweeper,
			providePresence,
			providePublisher,
			provideLimiter,
			provideDispatcher,
			provideHub,
			provideReconciler,
			provideTokens,
			provideTelemetry,
			provideHandlers,
			NewServer,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.NewConfig(p.ConfigPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

func provideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideStore(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*db.DB, error) {
	store, err := db.Open(cfg.Database.Path,
		db.WithRetention(cfg.Messages.Retention),
		db.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	result, err := store.Migrate()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.Database.Path))
	return store, nil
}

func provideSweeper(cfg *config.Config, store *db.DB, m *metrics.Metrics, logger *zap.Logger) *db.Sweeper {
	return db.NewSweeper(store, cfg.Messages.SweepInterval, logger, m)
}

func providePresence() *presence.Registry {
	return presence.NewRegistry()
}

func providePublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	return events.New(cfg.Kafka, logger)
}

func provideLimiter(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *ratelimit.Limiter {
	var counter ratelimit.Counter
	if cfg.Redis.Addr != "" && cfg.RateLimit.Limit > 0 {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lc.Append(fx.StopHook(client.Close))
		counter = ratelimit.NewRedisCounter(client)
		logger.Info("rate limiting enabled",
			zap.Int64("limit", cfg.RateLimit.Limit),
			zap.Duration("window", cfg.RateLimit.Window))
	}
	return ratelimit.New(counter, cfg.RateLimit.Limit, cfg.RateLimit.Window, logger)
}

func provideDispatcher(registry *presence.Registry, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(registry, publisher, m, logger)
}

func provideHub(cfg *config.Config, registry *presence.Registry, store *db.DB, dispatcher *dispatch.Dispatcher, m *metrics.Metrics, logger *zap.Logger) *websocket.Hub {
	return websocket.NewHub(registry, store, dispatcher, cfg.WS, m, logger)
}

func provideReconciler(store *db.DB, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(store, dispatcher, store.Retention(), logger)
}

func provideTokens(cfg *config.Config) *auth.Tokens {
	return auth.NewTokens(cfg.JWT.Secret, cfg.JWT.TTL)
}

func provideTelemetry(cfg *config.Config) (telemetry.ShutdownFunc, error) {
	return telemetry.Init(context.Background(), cfg.OTEL)
}

type handlerParams struct {
	fx.In

	Config     *config.Config
	Store      *db.DB
	Hub        *websocket.Hub
	Reconciler *reconcile.Reconciler
	Dispatcher *dispatch.Dispatcher
	Presence   *presence.Registry
	Tokens     *auth.Tokens
	Limiter    *ratelimit.Limiter
	Registry   *prometheus.Registry
	Logger     *zap.Logger
}

func provideHandlers(p handlerParams) *api.Handlers {
	return api.NewHandlers(api.Deps{
		Store:      p.Store,
		Hub:        p.Hub,
		Reconciler: p.Reconciler,
		Dispatcher: p.Dispatcher,
		Presence:   p.Presence,
		Tokens:     p.Tokens,
		Limiter:    p.Limiter,
		Gatherer:   p.Registry,
		HTTP:       p.Config.HTTP,
		Logger:     p.Logger,
	})
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Server     *Server
	Hub        *websocket.Hub
	Store      *db.DB
	Sweeper    *db.Sweeper
	Presence   *presence.Registry
	Publisher  events.Publisher
	Telemetry  telemetry.ShutdownFunc
	Logger     *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			p.Sweeper.Start(context.Background())

			go func() {
				if err := p.Server.Start(); err != nil {
					p.Logger.Error("http server error", zap.Error(err))
					_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, p.Config.HTTP.ShutdownTimeout)
			defer cancel()

			p.Server.Stop(shutdownCtx)
			// Hijacked connections outlive the HTTP shutdown. Drain them
			// before the store closes under their frame handlers.
			if err := p.Hub.Shutdown(shutdownCtx); err != nil {
				p.Logger.Warn("websocket connections did not drain", zap.Error(err))
			}
			p.Presence.CloseAll()
			p.Sweeper.Stop()
			if err := p.Publisher.Close(); err != nil {
				p.Logger.Warn("error closing event publisher", zap.Error(err))
			}
			if err := p.Store.Close(); err != nil {
				p.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Telemetry(shutdownCtx); err != nil {
				p.Logger.Warn("error flushing traces", zap.Error(err))
			}
			p.Logger.Info("server stopped")
			_ = p.Logger.Sync()
			return nil
		},
	})
}
