package driver

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 30 * time.Second
	retryJitter    = 0.25
)

// RetryDelay returns the backoff before retry attempt n (1-based):
// exponential doubling from the base, capped, with ±25% jitter so
// concurrent deployments do not retry in lockstep.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			delay = retryMaxDelay
			break
		}
	}
	factor := 1.0 + (rand.Float64()*2-1)*retryJitter
	return time.Duration(float64(delay) * factor)
}

// SleepContext waits d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
