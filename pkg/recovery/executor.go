package recovery

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rocoloco/Mobius1-sub000/pkg/driver"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// defaultMaxReplicas bounds scale-up recovery so a misbehaving service
// cannot absorb the whole backend.
const defaultMaxReplicas = 5

// SpecSource returns the currently deployed spec, or nil when nothing
// has been deployed yet.
type SpecSource func() *types.DeploymentSpec

// DriverSource returns the driver owning the current deployment, or
// nil before the first deploy.
type DriverSource func() driver.Driver

// DriverExecutor maps recovery actions onto driver operations. The
// backend exposes no cache-flush or connection-pool primitive, so
// clear-cache and reconnect-database degrade to an in-place restart;
// failover redeploys the component from the stored spec under a fresh
// idempotency key, and rollback returns it to its declared shape.
type DriverExecutor struct {
	drv    DriverSource
	spec   SpecSource
	logger zerolog.Logger

	// replicas is this executor's view of desired replica counts,
	// seeded from the declared spec and moved by scale actions.
	mu       sync.Mutex
	replicas map[string]int
}

// NewDriverExecutor creates an executor bound to the sources of the
// current driver and deployed spec. Both are read per action, so the
// executor can be wired before the first deploy.
func NewDriverExecutor(drv DriverSource, spec SpecSource) *DriverExecutor {
	return &DriverExecutor{
		drv:      drv,
		spec:     spec,
		logger:   log.WithComponent("recovery.executor"),
		replicas: make(map[string]int),
	}
}

// Execute performs one recovery action against the named component.
func (e *DriverExecutor) Execute(ctx context.Context, action types.RecoveryAction, component string) error {
	drv := e.drv()
	if drv == nil {
		return fmt.Errorf("no active driver, nothing has been deployed")
	}

	switch action {
	case types.ActionRestartService, types.ActionClearCache, types.ActionReconnectDatabase:
		// Restart drops in-memory cache contents and every open
		// connection, which is the narrowest remediation the backend
		// offers for all three.
		return drv.Restart(ctx, component)

	case types.ActionScaleUp:
		return e.scaleBy(ctx, drv, component, 1)

	case types.ActionScaleDown:
		return e.scaleBy(ctx, drv, component, -1)

	case types.ActionFailover:
		return e.redeploy(ctx, drv, component)

	case types.ActionRollback:
		return e.restoreDeclared(ctx, drv, component)

	default:
		return fmt.Errorf("unsupported recovery action %q", action)
	}
}

// scaleBy moves the desired replica count by delta, clamped to
// [1, defaultMaxReplicas]. Hitting a bound is a failed action so the
// ladder can move on to the next strategy.
func (e *DriverExecutor) scaleBy(ctx context.Context, drv driver.Driver, component string, delta int) error {
	current := e.desired(component)
	target := current + delta
	if target > defaultMaxReplicas {
		return fmt.Errorf("component %q already at maximum of %d replicas", component, defaultMaxReplicas)
	}
	if target < 1 {
		return fmt.Errorf("component %q already at minimum of 1 replica", component)
	}

	if err := drv.Scale(ctx, component, target); err != nil {
		return err
	}
	e.mu.Lock()
	e.replicas[component] = target
	e.mu.Unlock()

	e.logger.Info().
		Str("component", component).
		Int("from", current).
		Int("to", target).
		Msg("scaled component for recovery")
	return nil
}

// redeploy pushes the component through a full deploy under a fresh
// idempotency key, forcing the driver down its update-and-restart path
// and a readiness wait.
func (e *DriverExecutor) redeploy(ctx context.Context, drv driver.Driver, component string) error {
	sub, err := e.componentSpec(component)
	if err != nil {
		return err
	}

	result, err := drv.Deploy(ctx, sub, types.DeployOptions{
		IdempotencyKey: uuid.New().String(),
		MaxAttempts:    1,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		if len(result.Errors) > 0 {
			return fmt.Errorf("failover redeploy of %q failed: %s", component, result.Errors[0].Message)
		}
		return fmt.Errorf("failover redeploy of %q failed", component)
	}

	e.logger.Info().Str("component", component).Msg("component redeployed for failover")
	return nil
}

// restoreDeclared scales the component back to its declared replica
// count and restarts it, undoing drift left by earlier scale actions.
func (e *DriverExecutor) restoreDeclared(ctx context.Context, drv driver.Driver, component string) error {
	sub, err := e.componentSpec(component)
	if err != nil {
		return err
	}
	declared := declaredReplicas(&sub.Components[0])

	if err := drv.Scale(ctx, component, declared); err != nil {
		return err
	}
	e.mu.Lock()
	e.replicas[component] = declared
	e.mu.Unlock()

	if err := drv.Restart(ctx, component); err != nil {
		return err
	}

	e.logger.Info().
		Str("component", component).
		Int("replicas", declared).
		Msg("component rolled back to declared shape")
	return nil
}

// componentSpec builds a single-component spec for the named component
// from the stored deployment spec. Dependencies are cleared: they were
// satisfied by the original deploy and are not being touched here.
func (e *DriverExecutor) componentSpec(component string) (*types.DeploymentSpec, error) {
	current := e.spec()
	if current == nil {
		return nil, fmt.Errorf("no deployment spec on record for component %q", component)
	}
	comp := current.Component(component)
	if comp == nil {
		return nil, fmt.Errorf("component %q is not part of the deployed spec", component)
	}

	single := *comp
	single.DependsOn = nil

	sub := *current
	sub.Components = []types.ComponentSpec{single}
	return &sub, nil
}

// desired returns the executor's view of the component's replica
// count, falling back to the declared spec value.
func (e *DriverExecutor) desired(component string) int {
	e.mu.Lock()
	if n, ok := e.replicas[component]; ok {
		e.mu.Unlock()
		return n
	}
	e.mu.Unlock()

	if current := e.spec(); current != nil {
		if comp := current.Component(component); comp != nil {
			return declaredReplicas(comp)
		}
	}
	return 1
}

func declaredReplicas(comp *types.ComponentSpec) int {
	if v, ok := comp.Config["replicas"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
