package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
	"github.com/rocoloco/Mobius1-sub000/pkg/telemetry"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

const (
	// DefaultCooldown is the refusal window a failure key enters after
	// every strategy for it has been exhausted.
	DefaultCooldown = 5 * time.Minute

	// DefaultAttemptWindow is the sliding window over which per-strategy
	// attempt caps are counted.
	DefaultAttemptWindow = time.Hour

	// historySize bounds the attempt ring kept per failure key.
	historySize = 10
)

// Strategy is one remediation step in a failure type's ladder.
type Strategy struct {
	Action types.RecoveryAction

	// MaxPerWindow caps attempts of this strategy within the attempt
	// window. Zero or negative means uncapped.
	MaxPerWindow int

	// Backoff bounds are reserved for chained retries of a single
	// action. The ladder itself never sleeps between strategies.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultStrategies returns the standard failure-type ladder. Order is
// significant: cheaper, narrower actions come first and the first
// success short-circuits the rest.
func DefaultStrategies() map[types.FailureType][]Strategy {
	return map[types.FailureType][]Strategy{
		types.FailureDatabaseConnection: {
			{Action: types.ActionReconnectDatabase, MaxPerWindow: 6, BackoffInitial: 5 * time.Second, BackoffMax: time.Minute},
			{Action: types.ActionRestartService, MaxPerWindow: 3, BackoffInitial: 10 * time.Second, BackoffMax: 2 * time.Minute},
			{Action: types.ActionFailover, MaxPerWindow: 1, BackoffInitial: 30 * time.Second, BackoffMax: 5 * time.Minute},
		},
		types.FailureRedisConnection: {
			{Action: types.ActionClearCache, MaxPerWindow: 6, BackoffInitial: 5 * time.Second, BackoffMax: time.Minute},
			{Action: types.ActionRestartService, MaxPerWindow: 3, BackoffInitial: 10 * time.Second, BackoffMax: 2 * time.Minute},
		},
		types.FailureObjectStoreAccess: {
			{Action: types.ActionRestartService, MaxPerWindow: 3, BackoffInitial: 10 * time.Second, BackoffMax: 2 * time.Minute},
			{Action: types.ActionFailover, MaxPerWindow: 1, BackoffInitial: 30 * time.Second, BackoffMax: 5 * time.Minute},
		},
		types.FailureVectorStoreDown: {
			{Action: types.ActionRestartService, MaxPerWindow: 3, BackoffInitial: 10 * time.Second, BackoffMax: 2 * time.Minute},
			{Action: types.ActionRollback, MaxPerWindow: 1, BackoffInitial: 30 * time.Second, BackoffMax: 5 * time.Minute},
		},
		types.FailureGatewayDown: {
			{Action: types.ActionRestartService, MaxPerWindow: 4, BackoffInitial: 5 * time.Second, BackoffMax: time.Minute},
			{Action: types.ActionFailover, MaxPerWindow: 1, BackoffInitial: 30 * time.Second, BackoffMax: 5 * time.Minute},
		},
		types.FailureInferenceDown: {
			// Model runtimes are slow to come up; keep the cap low so a
			// crash-looping runtime surfaces to operators quickly.
			{Action: types.ActionRestartService, MaxPerWindow: 2, BackoffInitial: 30 * time.Second, BackoffMax: 5 * time.Minute},
			{Action: types.ActionRollback, MaxPerWindow: 1, BackoffInitial: time.Minute, BackoffMax: 10 * time.Minute},
		},
		types.FailureHighResponseTime: {
			{Action: types.ActionScaleUp, MaxPerWindow: 2, BackoffInitial: 10 * time.Second, BackoffMax: 2 * time.Minute},
			{Action: types.ActionRestartService, MaxPerWindow: 2, BackoffInitial: 10 * time.Second, BackoffMax: 2 * time.Minute},
		},
	}
}

// Executor performs a single recovery action against the running
// deployment. Implementations decide how each abstract action maps to
// backend operations.
type Executor interface {
	Execute(ctx context.Context, action types.RecoveryAction, component string) error
}

// Config tunes the manager. Zero values fall back to defaults.
type Config struct {
	Cooldown      time.Duration
	AttemptWindow time.Duration

	// Strategies overrides the failure-type ladder. Nil means
	// DefaultStrategies.
	Strategies map[types.FailureType][]Strategy
}

// Manager runs bounded, best-effort recovery. One recovery per
// failureType+component key at a time; exhausted keys refuse further
// attempts for a cooldown window instead of retrying indefinitely.
type Manager struct {
	cfg    Config
	exec   Executor
	broker *events.Broker
	logger zerolog.Logger

	mu       sync.Mutex
	active   map[string]struct{}
	cooldown map[string]time.Time
	history  map[string][]types.RecoveryAttemptResult
}

// New creates a recovery manager. The broker receives a
// recovery-started and exactly one recovery-completed event per
// admitted run; nil disables publication.
func New(exec Executor, broker *events.Broker, cfg Config) *Manager {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = DefaultAttemptWindow
	}
	if cfg.Strategies == nil {
		cfg.Strategies = DefaultStrategies()
	}
	return &Manager{
		cfg:      cfg,
		exec:     exec,
		broker:   broker,
		logger:   log.WithComponent("recovery"),
		active:   make(map[string]struct{}),
		cooldown: make(map[string]time.Time),
		history:  make(map[string][]types.RecoveryAttemptResult),
	}
}

func recoveryKey(failureType types.FailureType, component string) string {
	return string(failureType) + "/" + component
}

// AttemptRecovery walks the strategy ladder for the failure until one
// action succeeds. Refuses when the same key is already in flight or
// inside its cooldown window; on exhaustion the key enters cooldown
// and the error surfaces to the operator.
func (m *Manager) AttemptRecovery(ctx context.Context, failureType types.FailureType, component string) (result *types.RecoveryAttemptResult, err error) {
	key := recoveryKey(failureType, component)

	m.mu.Lock()
	if _, inFlight := m.active[key]; inFlight {
		m.mu.Unlock()
		return nil, errdefs.NewRecovery(
			fmt.Sprintf("recovery already in progress for %s", key), errdefs.ErrRecoveryInProgress).
			WithCode(errdefs.CodeRecoveryInFlight).
			WithComponent(component).
			WithHint("wait for the in-flight recovery to finish before requesting another")
	}
	if until, ok := m.cooldown[key]; ok {
		if remaining := time.Until(until); remaining > 0 {
			m.mu.Unlock()
			return nil, errdefs.NewRecovery(
				fmt.Sprintf("recovery for %s in cooldown for another %s", key, remaining.Round(time.Second)), errdefs.ErrCooldownActive).
				WithCode(errdefs.CodeCooldownActive).
				WithComponent(component).
				WithHint("strategies were exhausted recently; investigate the service or wait for the cooldown to expire")
		}
		delete(m.cooldown, key)
	}
	m.active[key] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.active, key)
		m.mu.Unlock()
	}()

	// Refusals above return before this point, so only admitted runs
	// produce a span.
	ctx, span := telemetry.StartRecovery(ctx, string(failureType), component)
	defer func() { telemetry.EndSpan(span, err) }()

	m.publish(events.EventRecoveryStarted,
		fmt.Sprintf("attempting recovery for %s on %q", failureType, component),
		map[string]string{
			"failure_type": string(failureType),
			"component":    component,
		})

	result, err = m.runLadder(ctx, failureType, component, key)
	if err != nil {
		meta := map[string]string{
			"failure_type": string(failureType),
			"component":    component,
			"success":      "false",
		}
		m.mu.Lock()
		if until, ok := m.cooldown[key]; ok {
			meta["cooldown_until"] = until.UTC().Format(time.RFC3339)
		}
		m.mu.Unlock()
		m.publish(events.EventRecoveryCompleted, err.Error(), meta)
		return nil, err
	}

	m.publish(events.EventRecoveryCompleted,
		fmt.Sprintf("recovery succeeded for %s on %q via %s", failureType, component, result.Action),
		map[string]string{
			"failure_type": string(failureType),
			"component":    component,
			"action":       string(result.Action),
			"success":      "true",
		})
	return result, nil
}

// runLadder tries each strategy in declared order, skipping those at
// their attempt cap. The first success wins; anything else puts the
// key into cooldown.
func (m *Manager) runLadder(ctx context.Context, failureType types.FailureType, component, key string) (*types.RecoveryAttemptResult, error) {
	strategies := m.cfg.Strategies[failureType]
	if len(strategies) == 0 {
		m.enterCooldown(key)
		return nil, errdefs.NewRecovery(
			fmt.Sprintf("no recovery strategies configured for failure type %q", failureType), nil).
			WithComponent(component).
			WithHint("add a strategy ladder for this failure type or recover the service manually")
	}

	var (
		tried   int
		lastErr error
	)
	for _, strat := range strategies {
		if err := ctx.Err(); err != nil {
			// Shutdown, not exhaustion: leave the key out of cooldown so
			// the next poll cycle can try again.
			return nil, errdefs.NewRecovery(
				fmt.Sprintf("recovery for %s canceled", key), err).
				WithComponent(component)
		}
		if !m.eligible(key, strat) {
			m.logger.Debug().
				Str("failure_type", string(failureType)).
				Str("component", component).
				Str("action", string(strat.Action)).
				Msg("strategy at attempt cap, skipping")
			continue
		}

		tried++
		attempt := m.execute(ctx, failureType, component, key, strat)
		if attempt.Success {
			return &attempt, nil
		}
		lastErr = fmt.Errorf("%s: %s", strat.Action, attempt.Error)
	}

	m.enterCooldown(key)
	if tried == 0 {
		return nil, errdefs.NewRecovery(
			fmt.Sprintf("no eligible recovery strategies for %s: every attempt cap is reached", key), nil).
			WithComponent(component).
			WithHint("attempt caps reset as the window slides; investigate why earlier attempts did not hold")
	}
	return nil, errdefs.NewRecovery(
		fmt.Sprintf("all recovery strategies failed for %s", key), lastErr).
		WithComponent(component).
		WithHint("automatic recovery re-arms after the cooldown window; inspect the service logs meanwhile")
}

// execute runs one strategy and records the attempt in the key's
// history ring, success or not.
func (m *Manager) execute(ctx context.Context, failureType types.FailureType, component, key string, strat Strategy) types.RecoveryAttemptResult {
	started := time.Now()
	err := m.exec.Execute(ctx, strat.Action, component)

	attempt := types.RecoveryAttemptResult{
		FailureType: failureType,
		Component:   component,
		Action:      strat.Action,
		Success:     err == nil,
		StartedAt:   started,
		Duration:    time.Since(started),
	}
	if err != nil {
		attempt.Error = redact.Error(err)
	}

	m.mu.Lock()
	ring := append(m.history[key], attempt)
	if len(ring) > historySize {
		ring = ring[len(ring)-historySize:]
	}
	m.history[key] = ring
	m.mu.Unlock()

	var evt *zerolog.Event
	if err != nil {
		evt = m.logger.Warn().Str("error", attempt.Error)
	} else {
		evt = m.logger.Info()
	}
	evt.Str("failure_type", string(failureType)).
		Str("component", component).
		Str("action", string(strat.Action)).
		Dur("duration", attempt.Duration).
		Bool("success", attempt.Success).
		Msg("recovery attempt finished")
	return attempt
}

// eligible reports whether the strategy is under its attempt cap for
// the key, counting both successes and failures inside the window.
func (m *Manager) eligible(key string, strat Strategy) bool {
	if strat.MaxPerWindow <= 0 {
		return true
	}
	cutoff := time.Now().Add(-m.cfg.AttemptWindow)

	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, attempt := range m.history[key] {
		if attempt.Action == strat.Action && attempt.StartedAt.After(cutoff) {
			count++
		}
	}
	return count < strat.MaxPerWindow
}

func (m *Manager) enterCooldown(key string) {
	m.mu.Lock()
	m.cooldown[key] = time.Now().Add(m.cfg.Cooldown)
	m.mu.Unlock()

	m.logger.Warn().
		Str("key", key).
		Dur("cooldown", m.cfg.Cooldown).
		Msg("recovery strategies exhausted, key entering cooldown")
}

// History returns a copy of the attempt ring for a failure key, oldest
// first.
func (m *Manager) History(failureType types.FailureType, component string) []types.RecoveryAttemptResult {
	key := recoveryKey(failureType, component)

	m.mu.Lock()
	defer m.mu.Unlock()
	ring := m.history[key]
	out := make([]types.RecoveryAttemptResult, len(ring))
	copy(out, ring)
	return out
}

// ComponentAttempts counts recorded attempts for a component across
// every failure type still held in history.
func (m *Manager) ComponentAttempts(component string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, ring := range m.history {
		for _, attempt := range ring {
			if attempt.Component == component {
				count++
			}
		}
	}
	return count
}

// Busy reports whether any recovery is currently in flight.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) > 0
}

// InCooldown reports whether the failure key is inside its cooldown
// window.
func (m *Manager) InCooldown(failureType types.FailureType, component string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.cooldown[recoveryKey(failureType, component)]
	return ok && time.Now().Before(until)
}

func (m *Manager) publish(eventType events.EventType, message string, metadata map[string]string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  message,
		Metadata: metadata,
	})
}
