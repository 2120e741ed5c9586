// Package app wires configuration into the stores, services and workers
// shared by the api and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/internal/config"
	"github.com/phonginreallife/oncall/router"
	"github.com/phonginreallife/oncall/services"
	"github.com/phonginreallife/oncall/store/postgres"
	"github.com/phonginreallife/oncall/timers"
	"github.com/phonginreallife/oncall/workers"
)

type App struct {
	Config   config.Config
	Logger   *zap.Logger
	PG       *sql.DB
	Redis    *redis.Client
	Registry *prometheus.Registry

	Store    *postgres.Store
	Timers   services.TimerQueue
	Services router.Services
}

// New connects to Postgres (and Redis when configured) and builds every
// service.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable (or config) is required")
	}
	pg, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	a := &App{
		Config:   cfg,
		Logger:   logger,
		PG:       pg,
		Registry: prometheus.NewRegistry(),
		Store:    postgres.NewStore(pg),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("connected to redis")
	}

	switch cfg.Worker.TimerBackend {
	case config.TimerBackendMemory:
		a.Timers = timers.NewMemoryQueue()
	case config.TimerBackendRedis:
		a.Timers = timers.NewRedisQueue(a.Redis, cfg.Worker.TimerKeyPrefix)
	default:
		a.Timers = postgres.NewTimerQueue(pg)
	}

	clock := services.SystemClock()
	metrics := services.NewMetrics(a.Registry)
	resolver := services.NewScheduleResolver(a.Store, logger)
	routing := services.NewRoutingService(a.Store, clock, logger, metrics)
	dispatcher := NewDispatcher(ctx, cfg, logger)
	webhooks := services.NewWebhookNotifier(cfg.Webhook.SigningKey, clock, logger)
	escalation := services.NewEscalationService(a.Store, resolver, dispatcher, webhooks, a.Timers, clock, logger, metrics)

	a.Services = router.Services{
		Pipeline:   services.NewAlertPipeline(a.Store, routing, escalation, clock, logger),
		Routing:    routing,
		Escalation: escalation,
		Resolver:   resolver,
		Overrides:  services.NewOverrideService(a.Store, clock, logger),
		Rotations:  services.NewRotationService(a.Store, clock, logger),
		Groups:     services.NewGroupService(a.Store, clock, logger),
		Users:      services.NewUserService(a.Store, clock, logger),
		Clock:      clock,
	}
	logger.Info("services initialized", zap.String("timer_backend", cfg.Worker.TimerBackend))
	return a, nil
}

// NewDispatcher registers a channel for every notification method. Methods
// without a configured backend get a LogChannel.
func NewDispatcher(ctx context.Context, cfg config.Config, logger *zap.Logger) *services.MultiChannelDispatcher {
	dispatcher := services.NewMultiChannelDispatcher(logger)
	for _, method := range []string{db.NotificationMethodFCM, db.NotificationMethodEmail, db.NotificationMethodSMS} {
		dispatcher.Register(method, &services.LogChannel{Method: method, Logger: logger.Named("notify")})
	}

	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := services.NewFCMChannel(ctx, cfg.Firebase.CredentialsFile, logger)
		if err != nil {
			logger.Warn("FCM disabled", zap.Error(err))
		} else {
			dispatcher.Register(db.NotificationMethodFCM, fcm)
		}
	}
	if cfg.NotificationGateway.URL != "" {
		for _, method := range []string{db.NotificationMethodEmail, db.NotificationMethodSMS} {
			dispatcher.Register(method, services.NewGatewayChannel(method, cfg.NotificationGateway.URL, cfg.NotificationGateway.APIToken))
		}
	}
	return dispatcher
}

// RunWorkers runs the escalation timer worker, and the action worker when
// Redis is configured, until ctx is cancelled.
func (a *App) RunWorkers(ctx context.Context) error {
	escalation := a.Services.Escalation

	timerWorker := workers.NewEscalationWorker(a.Timers, escalation, a.Services.Clock, a.Logger)
	timerWorker.PollInterval = a.Config.Worker.PollInterval
	if a.Config.Worker.RehydrateInterval > 0 {
		timerWorker.RehydrateInterval = a.Config.Worker.RehydrateInterval
	}
	timerWorker.BatchSize = a.Config.Worker.BatchSize
	if a.Config.Worker.Concurrency > 0 {
		timerWorker.Concurrency = a.Config.Worker.Concurrency
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return timerWorker.Run(ctx) })
	if a.Redis != nil {
		actionWorker := workers.NewActionWorker(a.Redis, a.Config.Worker.ActionQueue, escalation, a.Logger)
		g.Go(func() error { return actionWorker.Run(ctx) })
	} else {
		a.Logger.Info("REDIS_URL not set, action queue disabled")
	}
	return g.Wait()
}

func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.PG != nil {
		a.PG.Close()
	}
}
