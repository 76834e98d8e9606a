package actor

import (
	"context"
	"time"
)

// withRetry runs op up to maxAttempts times, waiting base*2^(attempt-1)
// between attempts. The last error is returned unmodified once attempts are
// exhausted. Every failure is treated as retryable; callers inspect the
// final error to classify it.
func withRetry(ctx context.Context, clock Clock, maxAttempts int, base time.Duration, op func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		wait := base << (attempt - 1)
		fired := make(chan struct{})
		timer := clock.AfterFunc(wait, func() { close(fired) })
		select {
		case <-fired:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
	return lastErr
}
