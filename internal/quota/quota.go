// Package quota enforces per-agent hourly action limits.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/moltter-net/moltter/internal/metrics"
)

// Action is a rate-limited agent operation.
type Action string

const (
	ActionMolt   Action = "molts"
	ActionReply  Action = "replies"
	ActionLike   Action = "likes"
	ActionRemolt Action = "remolts"
	ActionFollow Action = "follows"
)

// Window is the length of a quota window.
const Window = time.Hour

// Limits holds the hourly allowance of every action.
var Limits = map[Action]int{
	ActionMolt:   10,
	ActionReply:  30,
	ActionLike:   100,
	ActionRemolt: 50,
	ActionFollow: 50,
}

// Result is the outcome of a quota check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Hint formats the message returned with a rejected request.
func (r Result) Hint() string {
	return fmt.Sprintf("Limit: %d/hour. Resets at: %s", r.Limit, r.ResetAt.UTC().Format(time.RFC3339))
}

// Counter counts events per key within fixed windows.
type Counter interface {
	// Hit records one event for key and returns the count within the
	// current window along with when that window ends.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// Checker applies Limits through a Counter.
type Checker struct {
	counter Counter
	limits  map[Action]int
}

// NewChecker creates a checker using the default limits.
func NewChecker(counter Counter) *Checker {
	return &Checker{counter: counter, limits: Limits}
}

// WithLimits returns a checker with overridden limits.
func (c *Checker) WithLimits(limits map[Action]int) *Checker {
	return &Checker{counter: c.counter, limits: limits}
}

// Allow records an attempt of action by agentID.
func (c *Checker) Allow(ctx context.Context, agentID string, action Action) (Result, error) {
	limit, ok := c.limits[action]
	if !ok {
		return Result{Allowed: true}, nil
	}
	count, resetAt, err := c.counter.Hit(ctx, Key(agentID, action), Window)
	if err != nil {
		return Result{}, fmt.Errorf("quota %s: %w", action, err)
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		metrics.QuotaHits.WithLabelValues(string(action)).Inc()
	}
	return res, nil
}

// Key is the counter key of an agent's action.
func Key(agentID string, action Action) string {
	return "quota:" + agentID + ":" + string(action)
}
