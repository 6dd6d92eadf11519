package main

import (
	"context"
	"fmt"
	"time"

	"lompapi/internal/admin"
	"lompapi/internal/api"
	"lompapi/internal/config"
	"lompapi/internal/db"
	"lompapi/internal/dispatch"
	"lompapi/internal/gate"
	"lompapi/internal/keys"
	"lompapi/internal/ratewindow"
	"lompapi/internal/scheduler"
	"lompapi/internal/stats"
	"lompapi/internal/telemetry"
	"lompapi/internal/throttle"
	"lompapi/internal/webhooks"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds every long-lived component of the server.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	db      db.Service
	rdb     *redis.Client
	metrics *telemetry.Metrics

	windows ratewindow.Store
	cache   *keys.CachedStore
	manager *keys.Manager
	stats   stats.Reader
	gate    *gate.Gate

	dispatcher *dispatch.ShellDispatcher
	webhooks   *webhooks.Sender
	scheduler  *scheduler.Scheduler

	publicThrottle *throttle.Store
	adminThrottle  *throttle.Store
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: telemetry.NewMetrics()}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg, log := a.cfg, a.log

	var err error
	a.db, err = db.NewService(cfg.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	log.Info().Str("type", cfg.Database.Type).Msg("Database initialized")

	if cfg.Gate.WindowBackend == config.BackendRedis || cfg.Gate.StatsBackend == config.BackendRedis {
		a.rdb, err = newRedisClient(context.Background(), cfg.Redis)
		if err != nil {
			return err
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connected")
	}

	a.windows, err = ratewindow.New(cfg.Gate, a.db, a.rdb)
	if err != nil {
		return err
	}

	recorders := stats.Multi{a.metrics}
	switch cfg.Gate.StatsBackend {
	case config.BackendMemory:
		r := stats.NewMemoryRecorder()
		recorders = append(recorders, r)
		a.stats = r
	case config.BackendRedis:
		r := stats.NewRedisRecorder(a.rdb)
		recorders = append(recorders, r)
		a.stats = r
	}

	a.cache = keys.NewCachedStore(keys.NewStore(a.db), cfg.Gate.KeyCacheTTL)
	a.manager = keys.NewManager(a.db, a.cache, cfg.Gate.DefaultRateLimit, log)
	a.gate = gate.New(a.cache, a.windows,
		gate.WithRecorder(recorders),
		gate.WithLogger(log),
		gate.WithDefaultRateLimit(cfg.Gate.DefaultRateLimit),
	)

	a.dispatcher = dispatch.NewShellDispatcher(cfg.Dispatch, log, dispatch.WithObserver(a.metrics))
	a.webhooks = webhooks.NewSender(cfg.Webhooks, log, webhooks.WithObserver(a.metrics))
	a.scheduler = scheduler.NewScheduler(a.windows, cfg.Scheduler, log)
	a.publicThrottle = throttle.NewStore(cfg.Throttle.PublicPerMinute)
	a.adminThrottle = throttle.NewStore(cfg.Throttle.AdminPerMinute)

	log.Info().
		Str("window_backend", cfg.Gate.WindowBackend).
		Str("stats_backend", cfg.Gate.StatsBackend).
		Dur("key_cache_ttl", cfg.Gate.KeyCacheTTL).
		Msg("Gate initialized")
	return nil
}

func (a *app) router() *gin.Engine {
	if !a.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(customRecovery(a.log))
	if a.cfg.Debug {
		router.Use(gin.Logger())
	}
	router.Use(a.metrics.Middleware())
	router.Use(api.CORS(a.cfg.CORS.AllowedOrigins))

	api.SetupRoutes(router, api.NewHandler(a.dispatcher, a.webhooks, a.log), a.gate, api.Options{
		StatusThrottle: a.publicThrottle,
		Logger:         a.log,
	})
	admin.SetupRoutes(router, admin.NewHandler(a.manager, a.windows, a.stats), a.cfg, admin.Options{
		Throttle: a.adminThrottle,
		Metrics:  a.metrics.Handler(),
	})
	return router
}

// Close releases the database and Redis connections.
func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error().Err(err).Msg("Failed to close redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error().Err(err).Msg("Failed to close database")
		}
	}
}
