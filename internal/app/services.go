package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/restaurant-ops/restops/internal/closure"
	"github.com/restaurant-ops/restops/internal/closure/memstore"
	jobmetrics "github.com/restaurant-ops/restops/internal/jobs"
	"github.com/restaurant-ops/restops/internal/ledger"
	"github.com/restaurant-ops/restops/internal/observability"
	"github.com/restaurant-ops/restops/internal/platform/cache"
	"github.com/restaurant-ops/restops/internal/platform/db"
	"github.com/restaurant-ops/restops/internal/platform/httpx"
	"github.com/restaurant-ops/restops/internal/reminder"
	"github.com/restaurant-ops/restops/migrations"
)

// Backend is everything the closure engine reads and writes.
type Backend interface {
	closure.Store
	closure.OperationReader
	closure.StatusChannel
}

// Services holds the closure engine shared by the server and the worker.
type Services struct {
	Backend     Backend
	Cache       closure.LocalCache
	Checker     *closure.Checker
	Coordinator *closure.Coordinator
	// Reminders is a scheduler template without Notifier or ClientID.
	Reminders  reminder.Config
	Metrics    *observability.Metrics
	JobMetrics *jobmetrics.Metrics

	pool  *pgxpool.Pool
	redis *redis.Client
	cfg   *Config
}

// OpenServices connects the configured store and cache and builds the
// closure engine. With the memory driver an unreachable Redis falls back to
// an in-process cache.
func OpenServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	daily, err := reminder.ParseDaily(cfg.ClosureReminderCron)
	if err != nil {
		return nil, fmt.Errorf("config: CLOSURE_REMINDER_CRON: %w", err)
	}
	window, err := reminder.ParseWindow(cfg.ClosureReminderWindow)
	if err != nil {
		return nil, fmt.Errorf("config: CLOSURE_REMINDER_WINDOW: %w", err)
	}

	s := &Services{cfg: cfg, Metrics: observability.NewMetrics()}
	s.JobMetrics = jobmetrics.NewMetrics(s.Metrics.Registerer())
	loc := cfg.Location()

	switch cfg.StoreDriver {
	case "memory":
		s.Backend = memstore.New(loc)
	default:
		if cfg.PGMigrate {
			if err := db.Migrate(cfg.PGDSN, migrations.FS, logger); err != nil {
				return nil, err
			}
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "restops"})
		if err != nil {
			return nil, err
		}
		s.pool = pool
		s.Backend = closure.NewRepository(pool, loc, logger)
	}

	client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	switch {
	case err == nil:
		s.redis = client
		s.Cache = closure.NewRedisCache(client, cfg.ClosureCacheTTL)
	case cfg.StoreDriver == "memory":
		logger.Warn("redis unavailable, using in-process closure cache", slog.Any("error", err))
		s.Cache = memstore.NewCache()
	default:
		s.Close()
		return nil, err
	}

	s.Checker = closure.NewChecker(closure.CheckerConfig{
		Store:      s.Backend,
		Cache:      s.Cache,
		Logger:     logger,
		Location:   loc,
		CacheTrust: cfg.ClosureCacheTrust,
	})
	s.Coordinator = closure.NewCoordinator(closure.CoordinatorConfig{
		Store:        s.Backend,
		Status:       s.Backend,
		Cache:        s.Cache,
		Logger:       logger,
		Location:     loc,
		Watchdog:     cfg.ClosureLockWatchdog,
		LookbackDays: cfg.ClosureLookbackDays,
		Recorder:     s.JobMetrics,
	})
	s.Reminders = reminder.Config{
		Checker:   s.Checker,
		Cache:     s.Cache,
		Formatter: ledger.NewFormatter(cfg.Locale, cfg.Currency),
		Logger:    logger,
		Location:  loc,
		Daily:     daily,
		Window:    window,
		Cooldown:  cfg.ClosureReminderCooldown,
		Recorder:  s.JobMetrics,
	}
	return s, nil
}

// AsynqRedis returns the connection options for the job queue.
func (s *Services) AsynqRedis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: s.cfg.RedisAddr, Password: s.cfg.RedisPassword, DB: s.cfg.RedisDB}
}

// HasQueue reports whether Redis, and so the job queue, is reachable.
func (s *Services) HasQueue() bool {
	return s.redis != nil
}

// Ready pings the backing stores.
func (s *Services) Ready(r *http.Request) error {
	ctx := r.Context()
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			return fmt.Errorf("%w: postgres: %v", httpx.ErrUnavailable, err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%w: redis: %v", httpx.ErrUnavailable, err)
		}
	}
	return nil
}

// Close releases the connections.
func (s *Services) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
