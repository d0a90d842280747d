// Package worker runs periodic maintenance jobs.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PendingAgentTTL is how long an unclaimed registration is kept.
const PendingAgentTTL = 7 * 24 * time.Hour

// CleanupStore is the persistence the cleanup job needs.
type CleanupStore interface {
	DeletePendingAgentsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper drops expired in-memory state and reports how much it removed.
type Sweeper interface {
	Sweep() int
}

// Cleanup removes stale pending agents and expired challenges.
type Cleanup struct {
	store    CleanupStore
	sweepers []Sweeper
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCleanup creates the cleanup job.
func NewCleanup(store CleanupStore, logger zerolog.Logger, sweepers ...Sweeper) *Cleanup {
	return &Cleanup{store: store, sweepers: sweepers, logger: logger, now: time.Now}
}

// Name identifies the job in logs and metrics.
func (c *Cleanup) Name() string { return "cleanup" }

// Run executes one pass.
func (c *Cleanup) Run(ctx context.Context) error {
	now := c.now().UTC()

	agents, err := c.store.DeletePendingAgentsBefore(ctx, now.Add(-PendingAgentTTL))
	if err != nil {
		return err
	}
	challenges, err := c.store.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		return err
	}
	swept := 0
	for _, s := range c.sweepers {
		swept += s.Sweep()
	}

	c.logger.Info().
		Int64("pending_agents", agents).
		Int64("challenges", challenges).
		Int("quota_windows", swept).
		Msg("cleanup complete")
	return nil
}
