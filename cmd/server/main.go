package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/healthgate/internal/config"
	"github.com/aman-churiwal/healthgate/internal/events"
	"github.com/aman-churiwal/healthgate/internal/healthcheck"
	"github.com/aman-churiwal/healthgate/internal/logger"
	"github.com/aman-churiwal/healthgate/internal/ratelimit"
	"github.com/aman-churiwal/healthgate/internal/repository"
	"github.com/aman-churiwal/healthgate/internal/server"
	"github.com/aman-churiwal/healthgate/internal/service"
	"github.com/aman-churiwal/healthgate/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tokenExpiry = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Get().Fatal("failed to load config", zap.Error(err))
	}

	log := logger.Init(cfg.Server.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}

	log.Info("server exited")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	redis, err := connectRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer redis.Close()

	postgres := connectPostgres(cfg, log)
	defer postgres.Close()

	var (
		recorder *events.Recorder
		eventSvc *service.EventService
		eventRec ratelimit.EventRecorder
	)
	if postgres.IsConfigured() {
		repo := repository.NewRateLimitEventRepository(postgres)
		recorder = events.NewRecorder(repo, log, events.WithRetention(cfg.Postgres.EventRetention))
		eventSvc = service.NewEventService(repo)
		eventRec = recorder
	}

	store := ratelimit.NewStore(ratelimit.WithSweepEvery(cfg.RateLimit.SweepInterval))
	limiter, err := ratelimit.New(ratelimit.Options{
		Registry:       cfg.RateLimit.Registry,
		Store:          store,
		Redis:          redis,
		Algorithm:      cfg.RateLimit.Algorithm,
		HashKeys:       cfg.RateLimit.HashKeys,
		BackendTimeout: cfg.RateLimit.BackendTimeout,
		Logger:         log,
		Recorder:       eventRec,
	})
	if err != nil {
		return err
	}

	if limiter.Distributed() {
		log.Info("rate limit counters in redis", zap.String("algorithm", cfg.RateLimit.Algorithm))
	} else {
		log.Info("rate limit counters in memory")
	}

	tokens := service.NewTokenService(cfg.Auth.JWTSecret, tokenExpiry)
	if !tokens.IsConfigured() {
		log.Warn("JWT_SECRET is not set, authenticated routes will reject every request")
	}

	health := healthcheck.NewChecker(healthcheck.Config{Logger: log})
	if redis.IsConfigured() {
		health.Register("redis", redis.Ping)
	}
	if postgres.IsConfigured() {
		health.Register("database", postgres.Ping)
	}

	srv := server.New(server.Deps{
		Config:   cfg,
		Logger:   log,
		Limiter:  limiter,
		Tokens:   tokens,
		Health:   health,
		Recorder: recorder,
		Events:   eventSvc,
	})

	g, gctx := errgroup.WithContext(ctx)
	health.Start(gctx)

	// the recorder outlives the http server so late events still get flushed
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()

	if !limiter.Distributed() {
		store.StartJanitor(gctx, func(removed int) {
			if removed > 0 {
				log.Debug("swept idle rate limit keys", zap.Int("removed", removed), zap.Int("remaining", store.Len()))
			}
		})
	}

	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(recCtx)
		})
	}

	g.Go(func() error {
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		defer stopRecorder()
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Returns a nil client when redis is not configured
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*storage.RedisClient, error) {
	if !cfg.IsConfigured() {
		return nil, nil
	}

	redis, err := storage.NewRedis(storage.RedisOptions{
		URL:      cfg.URL,
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := redis.Ping(pingCtx); err != nil {
		log.Warn("redis is unreachable, rate limits fail open until it recovers", zap.Error(err))
	} else {
		log.Info("connected to redis")
	}

	return redis, nil
}

// Event persistence is optional: a database that cannot be reached or
// migrated is logged and left out.
func connectPostgres(cfg *config.Config, log *zap.Logger) *storage.Postgres {
	if !cfg.Postgres.IsConfigured() {
		return nil
	}

	pg, err := storage.NewPostgres(cfg.Postgres.DSN, cfg.Server.Environment != "production")
	if err != nil {
		log.Warn("postgres unavailable, rate limit events are not persisted", zap.Error(err))
		return nil
	}

	if err := pg.AutoMigrate(); err != nil {
		log.Warn("postgres migration failed, rate limit events are not persisted", zap.Error(err))
		_ = pg.Close()
		return nil
	}

	log.Info("connected to postgres")
	return pg
}
