package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// SessionSweeper removes idle sessions and reports unsaved results
type SessionSweeper interface {
	RemoveIdle(ctx context.Context, horizon time.Duration) []int64
	Pending() []int64
}

// ResultRetrier retries persisting a completed result
type ResultRetrier interface {
	RetryPending(ctx context.Context, userID int64) error
}

// Cleaner expires idle sessions and retries results whose persistence
// failed, on a fixed interval.
type Cleaner struct {
	sessions SessionSweeper
	results  ResultRetrier
	horizon  time.Duration
	interval time.Duration
	done     chan struct{}
}

// NewCleaner creates a new cleanup worker
func NewCleaner(sessions SessionSweeper, results ResultRetrier, horizon, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Cleaner{
		sessions: sessions,
		results:  results,
		horizon:  horizon,
		interval: interval,
	}
}

// Start begins the cleanup worker in a goroutine. It stops when ctx is
// cancelled; Wait blocks until it has.
func (c *Cleaner) Start(ctx context.Context) {
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
}

// Wait blocks until a started worker has returned, including any sweep it
// was running
func (c *Cleaner) Wait() {
	if c.done == nil {
		return
	}
	<-c.done
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval, "idle_horizon", c.horizon)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup cycle
func (c *Cleaner) Sweep(ctx context.Context) {
	slog.Debug("running cleanup cycle")

	for _, userID := range c.sessions.Pending() {
		if err := c.results.RetryPending(ctx, userID); err != nil {
			slog.Error("failed to persist pending result", "user_id", userID, "error", err)
			continue
		}
		slog.Info("pending result persisted", "user_id", userID)
	}

	if c.horizon <= 0 {
		return
	}

	expired := c.sessions.RemoveIdle(ctx, c.horizon)
	if len(expired) == 0 {
		slog.Debug("no idle sessions found")
		return
	}
	slog.Info("idle sessions expired", "count", len(expired), "user_ids", expired)
}
