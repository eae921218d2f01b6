package driver

import (
	"fmt"
	"sync"
	"time"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

const (
	// BreakerFailureThreshold is the consecutive-failure count that
	// opens the breaker.
	BreakerFailureThreshold = 5

	// BreakerOpenTimeout is how long the breaker stays open before
	// admitting one half-open trial call.
	BreakerOpenTimeout = 60 * time.Second
)

// CircuitBreaker guards backend calls. Closed passes calls through and
// counts consecutive failures; after the threshold it opens and fails
// fast for the open window; then exactly one trial call is admitted
// half-open. Trial success closes the breaker, trial failure reopens
// it. Owned by a single driver instance.
type CircuitBreaker struct {
	mu          sync.Mutex
	threshold   int
	openTimeout time.Duration

	state       types.CircuitState
	failures    int
	lastFailure time.Time
	trialActive bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, openTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = BreakerFailureThreshold
	}
	if openTimeout <= 0 {
		openTimeout = BreakerOpenTimeout
	}
	return &CircuitBreaker{
		threshold:   threshold,
		openTimeout: openTimeout,
		state:       types.CircuitClosed,
	}
}

// Execute runs fn under the breaker. When the breaker refuses the call,
// fn is never invoked and the returned error is a circuit-open error,
// distinct from a genuine backend failure.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State returns the current breaker position.
func (b *CircuitBreaker) State() types.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case types.CircuitClosed:
		return nil

	case types.CircuitOpen:
		if time.Since(b.lastFailure) < b.openTimeout {
			return errdefs.NewCircuitOpen(fmt.Sprintf(
				"circuit breaker open: %d consecutive failures, retry after %s",
				b.failures, b.openTimeout-time.Since(b.lastFailure))).
				WithHint("the backend is failing repeatedly; wait for the open window to elapse or check backend health")
		}
		// Open window elapsed: admit one trial.
		b.state = types.CircuitHalfOpen
		b.trialActive = true
		return nil

	case types.CircuitHalfOpen:
		if b.trialActive {
			return errdefs.NewCircuitOpen("circuit breaker half-open: trial call in flight").
				WithHint("a probe call is already testing the backend; retry after it completes")
		}
		b.trialActive = true
		return nil
	}
	return nil
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialActive = false
	b.state = types.CircuitClosed
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	if b.state == types.CircuitHalfOpen {
		// Failed trial reopens immediately.
		b.trialActive = false
		b.state = types.CircuitOpen
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = types.CircuitOpen
	}
}
