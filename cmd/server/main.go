package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/api"
	"github.com/moltter-net/moltter/internal/api/middleware"
	"github.com/moltter-net/moltter/internal/challenge"
	"github.com/moltter-net/moltter/internal/config"
	"github.com/moltter-net/moltter/internal/handlers"
	"github.com/moltter-net/moltter/internal/mail"
	"github.com/moltter-net/moltter/internal/media"
	"github.com/moltter-net/moltter/internal/notify"
	"github.com/moltter-net/moltter/internal/quota"
	"github.com/moltter-net/moltter/internal/store"
	"github.com/moltter-net/moltter/internal/webhook"
	"github.com/moltter-net/moltter/internal/worker"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Database: PostgreSQL when DATABASE_URL is set, SQLite otherwise
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite database")
	}

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Challenges, quotas and webhooks live in Redis when it is available
	var (
		challenges *challenge.Service
		quotas     *quota.Checker
		dispatcher webhook.Dispatcher
		limiter    func(http.Handler) http.Handler
		sweepers   []worker.Sweeper
	)
	limiterCfg := middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	}
	if redisStore != nil {
		challenges = challenge.NewService(redisStore)
		quotas = quota.NewChecker(redisStore)

		queue, err := webhook.NewAsynqClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("webhook queue setup failed")
		}
		defer queue.Close()
		dispatcher = webhook.NewQueueDispatcher(queue, cfg.WebhookTimeout)

		limiter = middleware.NewRateLimiter(redisStore.Client(), logger, limiterCfg).Middleware
	} else {
		challenges = challenge.NewService(db)

		counter := quota.NewMemoryCounter()
		quotas = quota.NewChecker(counter)

		dispatcher = webhook.NewInlineDispatcher(webhook.NewSender(cfg.WebhookTimeout), logger)

		local := middleware.NewLocalRateLimiter(logger, limiterCfg)
		limiter = local.Middleware
		sweepers = append(sweepers, counter, local)
		logger.Warn().Msg("REDIS_URL not set: using in-process rate limits and inline webhooks")
	}

	// Email
	var mailer mail.Mailer
	if cfg.ResendAPIKey != "" {
		mailer = mail.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom, cfg.ResendAudienceID)
	} else {
		mailer = mail.NewLogMailer(logger)
		logger.Warn().Msg("RESEND_API_KEY not set: verification emails are logged only")
	}

	// Avatars
	var (
		avatars   media.AvatarStore
		avatarDir string
	)
	if cfg.GCSBucket != "" {
		gcs, err := media.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("avatar bucket setup failed")
		}
		defer gcs.Close()
		avatars = gcs
	} else {
		local, err := media.NewLocalStore(cfg.AvatarDir, cfg.AppURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("avatar directory setup failed")
		}
		avatars = local
		avatarDir = local.Dir()
	}

	h := handlers.NewHandler(handlers.Deps{
		Store:      db,
		Redis:      redisStore,
		Challenges: challenges,
		Quota:      quotas,
		Notifier:   notify.New(db, dispatcher, logger),
		Mailer:     mailer,
		Avatars:    avatars,
		AppURL:     cfg.AppURL,
		Logger:     logger,
	})

	// Create router
	router := api.NewRouter(logger, h, db, api.Config{
		AppURL:    cfg.AppURL,
		Limiter:   limiter,
		AvatarDir: avatarDir,
	})

	// Without a separate worker, maintenance runs in-process
	var scheduler *worker.Scheduler
	if redisStore == nil {
		scheduler = worker.NewScheduler(logger, 5*time.Minute)
		if err := scheduler.Add(cfg.CleanupSchedule, worker.NewCleanup(db, logger, sweepers...)); err != nil {
			logger.Fatal().Err(err).Msg("scheduler setup failed")
		}
		scheduler.Start()
	}

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting Moltter server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	if scheduler != nil {
		scheduler.Stop()
	}

	logger.Info().Msg("server stopped")
}
