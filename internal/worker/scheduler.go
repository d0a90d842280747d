package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/moltter-net/moltter/internal/metrics"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron specs. Overlapping runs of the same job are
// skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler; each run gets at most timeout.
func NewScheduler(logger zerolog.Logger, timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger}),
		cron.SkipIfStillRunning(cronLogger{logger}),
	))
	return &Scheduler{cron: c, logger: logger, timeout: timeout, ctx: ctx, cancel: cancel}
}

// Add registers job under schedule (standard 5-field or descriptors such as
// @hourly).
func (s *Scheduler) Add(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.RunNow(job) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", job.Name(), schedule, err)
	}
	s.logger.Info().Str("job", job.Name()).Str("schedule", schedule).Msg("job scheduled")
	return nil
}

// RunNow executes job synchronously and records the outcome.
func (s *Scheduler) RunNow(job Job) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	if err != nil {
		metrics.JobRuns.WithLabelValues(job.Name(), "failed").Inc()
		s.logger.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		return err
	}
	metrics.JobRuns.WithLabelValues(job.Name(), "ok").Inc()
	s.logger.Debug().Str("job", job.Name()).Dur("took", time.Since(start)).Msg("job finished")
	return nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
