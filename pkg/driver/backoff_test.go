package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelayExponentialWithJitter(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		base    time.Duration
	}{
		{name: "first attempt", attempt: 1, base: 1 * time.Second},
		{name: "second attempt", attempt: 2, base: 2 * time.Second},
		{name: "third attempt", attempt: 3, base: 4 * time.Second},
		{name: "fourth attempt", attempt: 4, base: 8 * time.Second},
		{name: "fifth attempt", attempt: 5, base: 16 * time.Second},
		{name: "capped attempt", attempt: 6, base: 30 * time.Second},
		{name: "far past cap", attempt: 20, base: 30 * time.Second},
		{name: "zero clamps to first", attempt: 0, base: 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				d := RetryDelay(tt.attempt)
				lo := time.Duration(float64(tt.base) * 0.75)
				hi := time.Duration(float64(tt.base) * 1.25)
				assert.GreaterOrEqual(t, d, lo)
				assert.LessOrEqual(t, d, hi)
			}
		})
	}
}

func TestSleepContextHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := SleepContext(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepContextCompletes(t *testing.T) {
	err := SleepContext(context.Background(), 5*time.Millisecond)
	assert.NoError(t, err)
}
