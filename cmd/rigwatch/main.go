package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"

	"github.com/rigwatch/rigwatch/internal/alert"
	"github.com/rigwatch/rigwatch/internal/cache"
	"github.com/rigwatch/rigwatch/internal/database"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
	"github.com/rigwatch/rigwatch/internal/health"
	"github.com/rigwatch/rigwatch/internal/httpapi"
	"github.com/rigwatch/rigwatch/internal/jobs"
	"github.com/rigwatch/rigwatch/internal/jobs/handlers"
	"github.com/rigwatch/rigwatch/internal/lifecycle"
	"github.com/rigwatch/rigwatch/internal/middleware"
	"github.com/rigwatch/rigwatch/internal/payout"
	"github.com/rigwatch/rigwatch/internal/platform"
	"github.com/rigwatch/rigwatch/internal/ratelimit"
	"github.com/rigwatch/rigwatch/internal/repository"
	rigsync "github.com/rigwatch/rigwatch/internal/sync"
	"github.com/rigwatch/rigwatch/pkg/config"
	"github.com/rigwatch/rigwatch/pkg/graceful"
	"github.com/rigwatch/rigwatch/pkg/logger"
	appredis "github.com/rigwatch/rigwatch/pkg/redis"

	_ "github.com/lib/pq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Sentry.Enabled && cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.AppEnv,
		}); err != nil {
			slog.Error("failed to init sentry", slog.Any("error", err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	log := logger.New(cfg.Log)
	slog.SetDefault(log)
	log.Info("starting rigwatch aggregator",
		slog.String("env", cfg.AppEnv),
		slog.String("http_port", cfg.Server.Port),
		slog.String("sync_cron", cfg.Sync.CronSpec),
	)

	config.Watch(v, log, func(updated *config.Config) {
		log.Info("configuration reloaded", slog.String("env", updated.AppEnv))
	})

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	migrator := database.NewMigrator(db, log)
	if err := migrator.ApplyDir(ctx, "migrations"); err != nil {
		log.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	rdb, err := appredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}

	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	// repositories
	userRepo := repository.NewUserRepository(db, log)
	rigRepo := repository.NewRigRepository(db, log)
	settingsRepo := repository.NewSettingsRepository(db, log)
	payoutRepo := repository.NewPayoutRepository(db, log)
	alertRepo := repository.NewAlertRepository(db, log)

	// redis fast paths, instrumented
	kv := appredis.NewMetricsClient(rdb)
	mirror := cache.NewMirror(kv)
	guard := cache.NewCycleGuard(kv)
	marker := cache.NewAlertMarker(kv)

	// platform adapters
	niceHash := platform.NewNiceHash("", cfg.Sync.UpstreamTimeout)
	hiveOS := platform.NewHiveOS("", cfg.Sync.UpstreamTimeout)
	ethermine := platform.NewEthermine("", cfg.Sync.UpstreamTimeout)
	fetchers := []platform.Fetcher{niceHash, hiveOS, ethermine}

	// alert channel
	var sender alert.Sender
	tgBot, err := alert.NewTelegramBot(cfg.Telegram.Token)
	if err != nil {
		log.Warn("telegram bot unavailable, alerts disabled", slog.Any("error", err))
	} else {
		sender = tgBot
	}
	dispatcher := alert.NewDispatcher(sender, settingsRepo, alertRepo, cfg.Telegram.DefaultChatID, log)

	payoutEngine := payout.NewEngine(log,
		payout.NewNowPayments("", cfg.Sync.UpstreamTimeout),
		payout.NewCoinbase("", cfg.Sync.UpstreamTimeout),
	)

	engine := rigsync.NewEngine(
		rigsync.Config{
			Interval:         cfg.Sync.Interval,
			Workers:          cfg.Sync.Workers,
			OfflineThreshold: cfg.Sync.OfflineThreshold,
			RealertInterval:  cfg.Sync.RealertInterval,
		},
		userRepo, rigRepo, settingsRepo, payoutRepo,
		mirror, guard, marker,
		fetchers, niceHash,
		dispatcher, payoutEngine,
		errHandler, log,
	)

	// background jobs
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	jobManager := jobs.NewManager(redisOpt, log)
	scheduler := jobs.NewScheduler(redisOpt, cfg.Sync.CronSpec, log)
	worker := jobs.NewWorker(redisOpt, map[string]int{
		jobs.QueueCritical: 6,
		jobs.QueueDefault:  3,
		jobs.QueueLow:      1,
	}, log)
	worker.RegisterHandler(jobs.TaskTypeRigSync, handlers.NewRigSyncHandler(engine, log))

	if err := scheduler.RegisterTasks(); err != nil {
		log.Error("failed to register scheduled tasks", slog.Any("error", err))
		os.Exit(1)
	}
	scheduler.Run()
	go func() {
		if err := worker.Run(); err != nil {
			log.Error("jobs worker stopped", slog.Any("error", err))
			stop()
		}
	}()

	// health checks
	checker := health.NewChecker(log)
	checker.AddCheck("postgres", health.NewDBChecker(db))
	checker.AddCheck("redis", health.NewRedisChecker(rdb.Client))
	if tgBot != nil {
		checker.AddCheck("telegram", health.NewTelegramChecker(tgBot))
	}

	// rate limiting for the API surface
	limiter := ratelimit.NewAdaptiveLimiter(
		ratelimit.NewRedisLimiter(rdb.Client, log),
		ratelimit.NewMemoryLimiter(log),
		log,
	)
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, ratelimit.NewRules(cfg.RateLimit), log)

	enqueueSync := func(ctx context.Context) error {
		task, err := jobs.NewRigSyncTask(jobs.TriggerManual)
		if err != nil {
			return err
		}
		_, err = jobManager.Enqueue(ctx, task)
		return err
	}

	api := httpapi.NewServer(
		log, httpapi.PassthroughResolver{},
		userRepo, rigRepo, settingsRepo, payoutRepo, alertRepo,
		mirror, niceHash, enqueueSync, checker, rateLimitMw,
	)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	server := graceful.NewServer(log, httpServer, cfg.Server.ShutdownTimeout)

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register("scheduler", func(context.Context) error {
		scheduler.Shutdown()
		return nil
	})
	shutdown.Register("jobs-worker", func(context.Context) error {
		worker.Shutdown()
		return nil
	})
	shutdown.Register("jobs-manager", func(context.Context) error {
		return jobManager.Close()
	})
	shutdown.Register("redis", func(context.Context) error {
		return rdb.Close()
	})
	shutdown.Register("postgres", func(context.Context) error {
		return db.Close()
	})

	if err := server.ListenAndServe(ctx); err != nil {
		log.Error("http server exited with error", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
	}

	log.Info("rigwatch aggregator stopped")
}
