package scraper

import (
	"context"
	"time"
)

type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
}

func (rp retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rp.max; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
