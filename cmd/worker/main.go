// Command worker delivers queued webhooks and runs scheduled maintenance.
// It is needed whenever the server runs with REDIS_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/config"
	"github.com/moltter-net/moltter/internal/store"
	"github.com/moltter-net/moltter/internal/webhook"
	"github.com/moltter-net/moltter/internal/worker"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Str("component", "worker").Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()
	}

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the worker")
	}

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Logger:      asynqLogger{logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})

	deliveries := webhook.NewDeliveryHandler(db, webhook.NewSender(cfg.WebhookTimeout), logger)
	mux := asynq.NewServeMux()
	mux.HandleFunc(webhook.TaskDeliver, deliveries.ProcessTask)

	scheduler := worker.NewScheduler(logger, 5*time.Minute)
	if err := scheduler.Add(cfg.CleanupSchedule, worker.NewCleanup(db, logger)); err != nil {
		logger.Fatal().Err(err).Msg("scheduler setup failed")
	}
	scheduler.Start()

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker failed to start")
	}
	logger.Info().Msg("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker...")
	srv.Shutdown()
	scheduler.Stop()
	logger.Info().Msg("worker stopped")
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
