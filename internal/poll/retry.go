package poll

import (
	"context"
	"log/slog"
	"time"

	"smsrelay/internal/types"
)

// Fetch retry defaults: four attempts total with waits of 5s, 10s, 20s
// between them.
const (
	DefaultMaxAttempts   = 4
	DefaultRetryBaseWait = 5 * time.Second
)

// sleepFn abstracts backoff waits so tests run instantly.
type sleepFn func(ctx context.Context, d time.Duration) error

// sleepContext waits out the duration unless the context is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fetchWithRetry runs the source fetch under the transient-retry policy.
// Permanent errors abort immediately; transient errors wait with the base
// duration doubling after each attempt. Cancellation is honored before every
// attempt and during waits. The returned attempt count includes every fetch
// actually started.
func (c *Controller) fetchWithRetry(ctx context.Context, logger *slog.Logger) ([]types.Message, int, error) {
	wait := c.retryBaseWait
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		attempts++
		batch, err := c.source.Fetch(ctx)
		if err == nil {
			return batch, attempts, nil
		}
		// A fetch aborted by cancellation is a cancellation, not a fetch error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempts, ctxErr
		}
		if !types.IsTransient(err) {
			return nil, attempts, err
		}
		if attempts >= c.maxAttempts {
			logger.ErrorContext(ctx, "fetch retries exhausted",
				"attempts", attempts,
				"error", err,
			)
			return nil, attempts, err
		}

		logger.WarnContext(ctx, "transient fetch failure, retrying",
			"attempt", attempts,
			"max_attempts", c.maxAttempts,
			"wait", wait.String(),
			"error", err,
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, attempts, err
		}
		wait *= 2
	}
}
