package resultlog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/terra-clan/screening-engine/internal/models"
)

// RetryLog retries failed appends a bounded number of times with
// exponential backoff.
type RetryLog struct {
	inner    ResultLog
	attempts int
	wait     time.Duration
}

// WithRetry wraps log with retry logic. After the last failed attempt Append
// returns a *PersistenceError.
func WithRetry(log ResultLog, attempts int, wait time.Duration) *RetryLog {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryLog{inner: log, attempts: attempts, wait: wait}
}

func (r *RetryLog) Append(ctx context.Context, record models.ResultRecord) error {
	var (
		lastErr error
		made    int
	)
	wait := r.wait

	for attempt := 1; attempt <= r.attempts; attempt++ {
		made = attempt
		err := r.inner.Append(ctx, record)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}

		slog.Warn("result append failed",
			"record_id", record.ID,
			"user_id", record.UserID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == r.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return &PersistenceError{RecordID: record.ID, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(wait):
		}
		wait *= 2
	}

	return &PersistenceError{RecordID: record.ID, Attempts: made, Err: lastErr}
}

func (r *RetryLog) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}

func (r *RetryLog) Close() error {
	return r.inner.Close()
}
