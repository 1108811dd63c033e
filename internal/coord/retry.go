package coord

import (
	"context"
	"time"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

const (
	// DefaultRetries is how many connection acquisition attempts are made
	// before giving up.
	DefaultRetries = 3

	// DefaultRetryDelay is the delay before the second attempt; it
	// doubles on each subsequent attempt. Absorbs cold-start latency of
	// a serverless database.
	DefaultRetryDelay = time.Second
)

// retryAcquire runs acquire until it succeeds, retrying up to retries
// total attempts with exponential backoff. After exhausting the attempts
// it returns a terminal ConnectionError carrying the last underlying
// error. Context cancellation aborts the wait between attempts.
func retryAcquire(ctx context.Context, retries int, delay time.Duration, acquire func(context.Context) error) error {
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &blob.ConnectionError{Attempts: attempt, Err: ctx.Err()}
			case <-timer.C:
			}
			delay *= 2
		}

		if err := acquire(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return &blob.ConnectionError{Attempts: retries, Err: lastErr}
}
