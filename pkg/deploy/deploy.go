package deploy

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rocoloco/Mobius1-sub000/pkg/driver"
	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/graph"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
	"github.com/rocoloco/Mobius1-sub000/pkg/telemetry"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
	"github.com/rocoloco/Mobius1-sub000/pkg/validator"
)

// deploySLA is the soft completion deadline. Overruns append a
// warning-class error to the result, they never fail it.
var deploySLA = types.DeploymentSLA

// Config selects the backend a Manager deploys to.
type Config struct {
	// BackendType is the driver registry key, for example "mobiusd".
	BackendType string

	Driver driver.Config
}

// Manager is the deployment entry point. Every path runs the same
// validator first; the driver path delegates ordering and concurrency
// to the driver, while DeployDirect keeps the serial one-component-at-
// a-time sequence with per-type preparation hooks.
type Manager struct {
	registry *driver.Registry
	broker   *events.Broker
	cfg      Config
	logger   zerolog.Logger

	mu   sync.Mutex
	drv  driver.Driver
	spec *types.DeploymentSpec
	last *types.DeploymentResult
}

// New creates a deployment manager resolving drivers from the given
// registry. A nil broker disables event publication.
func New(registry *driver.Registry, broker *events.Broker, cfg Config) *Manager {
	return &Manager{
		registry: registry,
		broker:   broker,
		cfg:      cfg,
		logger:   log.WithComponent("deploy"),
	}
}

// Deploy validates the spec, constructs and initializes a driver for
// the configured backend, and delegates the full deployment to it.
func (m *Manager) Deploy(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (result *types.DeploymentResult, err error) {
	start := time.Now()
	ctx, span := telemetry.StartDeploy(ctx, specWorkspace(spec), specSize(spec))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := validator.Validate(spec).Err(); err != nil {
		return nil, err
	}

	drv, err := m.registry.New(m.cfg.BackendType, m.cfg.Driver)
	if err != nil {
		return nil, err
	}
	if err := drv.Initialize(ctx, spec); err != nil {
		return nil, err
	}

	m.publishStarted(spec, "driver")
	result, err = drv.Deploy(ctx, spec, opts)
	if err != nil {
		m.publishFailed(spec, "driver", err)
		return nil, err
	}

	finalize(result, start)
	m.store(drv, spec, result)
	m.publishCompleted(spec, "driver", result)

	return result, nil
}

// DeployDirect is the serial path: it orders components itself and
// deploys them one at a time through a driver, running a per-type
// preparation hook before each. A failed critical component halts the
// remaining sequence; dependents of any failed component are skipped.
func (m *Manager) DeployDirect(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (result *types.DeploymentResult, err error) {
	start := time.Now()
	ctx, span := telemetry.StartDeploy(ctx, specWorkspace(spec), specSize(spec))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := validator.Validate(spec).Err(); err != nil {
		return nil, err
	}

	order, err := deployOrder(spec)
	if err != nil {
		return nil, err
	}

	drv, err := m.registry.New(m.cfg.BackendType, m.cfg.Driver)
	if err != nil {
		return nil, err
	}
	if err := drv.Initialize(ctx, spec); err != nil {
		return nil, err
	}

	result = &types.DeploymentResult{
		ID:          uuid.NewString(),
		WorkspaceID: spec.WorkspaceID,
		StartedAt:   start,
	}
	logger := m.logger.With().
		Str("deployment_id", result.ID).
		Str("workspace_id", spec.WorkspaceID).
		Logger()
	m.publishStarted(spec, "direct")

	failed := make(map[string]bool)
	halted := false
	for _, name := range order {
		if ctx.Err() != nil {
			break
		}
		comp := spec.Component(name)
		if comp == nil {
			continue
		}
		if halted {
			failed[name] = true
			result.Components = append(result.Components, skippedResult(comp,
				"deployment halted after critical component failure"))
			continue
		}
		if dep := failedDependency(comp, failed); dep != "" {
			failed[name] = true
			result.Components = append(result.Components, skippedResult(comp,
				fmt.Sprintf("dependency %q did not deploy", dep)))
			continue
		}

		res, errs := m.deployOne(ctx, drv, spec, comp, opts)
		result.Components = append(result.Components, res)
		result.Errors = append(result.Errors, errs...)
		if res.Status != types.ComponentStatusSuccess {
			failed[name] = true
			if comp.Type.Critical() {
				halted = true
				logger.Warn().Str("component", name).Msg("critical component failed, halting sequence")
			}
		}
	}

	result.Success = len(failed) == 0 && ctx.Err() == nil
	if !result.Success && opts.RollbackOnFailure {
		// The direct path rolls back by removing every service this
		// run's driver instance owns, adopted ones included.
		logger.Info().Msg("rolling back direct deployment")
		if err := drv.Cleanup(ctx); err != nil {
			logger.Warn().Err(err).Msg("rollback cleanup incomplete")
		}
	}

	finalize(result, start)
	sortComponents(result.Components)
	m.store(drv, spec, result)
	m.publishCompleted(spec, "direct", result)

	return result, nil
}

// deployOne prepares and deploys a single component through the
// driver, returning its result and any surfaced errors.
func (m *Manager) deployOne(ctx context.Context, drv driver.Driver, spec *types.DeploymentSpec, comp *types.ComponentSpec, opts types.DeployOptions) (types.ComponentResult, []types.DeploymentError) {
	started := time.Now()

	if hook := prepareHooks[comp.Type]; hook != nil {
		if err := hook(spec, comp); err != nil {
			return failedResult(comp, started, err), []types.DeploymentError{deploymentError(comp.Name, err)}
		}
	}

	sub := singleComponentSpec(spec, comp)
	res, err := drv.Deploy(ctx, sub, types.DeployOptions{
		IdempotencyKey:   opts.IdempotencyKey,
		MaxAttempts:      opts.MaxAttempts,
		ReadinessTimeout: opts.ReadinessTimeout,
	})
	if err != nil {
		return failedResult(comp, started, err), []types.DeploymentError{deploymentError(comp.Name, err)}
	}
	if len(res.Components) == 0 {
		err := errdefs.NewDeployment(fmt.Sprintf("driver returned no result for component %q", comp.Name), nil)
		return failedResult(comp, started, err), []types.DeploymentError{deploymentError(comp.Name, err)}
	}
	return res.Components[0], res.Errors
}

// Driver returns the driver of the most recent deployment, or nil
// before the first one.
func (m *Manager) Driver() driver.Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drv
}

// Spec returns a copy of the most recently deployed spec, or nil.
func (m *Manager) Spec() *types.DeploymentSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySpec(m.spec)
}

// LastResult returns a copy of the most recent deployment result, or
// nil.
func (m *Manager) LastResult() *types.DeploymentResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyResult(m.last)
}

func (m *Manager) store(drv driver.Driver, spec *types.DeploymentSpec, result *types.DeploymentResult) {
	m.mu.Lock()
	m.drv = drv
	m.spec = spec
	m.last = result
	m.mu.Unlock()
}

// prepareHook runs type-specific checks that only matter once a deploy
// is actually happening, beyond what shape validation can see.
type prepareHook func(spec *types.DeploymentSpec, comp *types.ComponentSpec) error

var prepareHooks = map[types.ComponentType]prepareHook{
	types.ComponentDatabase: func(spec *types.DeploymentSpec, comp *types.ComponentSpec) error {
		if spec.Environment == types.EnvironmentProduction && comp.Config["version"] == "" {
			return errdefs.NewConfiguration(
				fmt.Sprintf("component %q must pin a database version in production", comp.Name), nil).
				WithComponent(comp.Name).
				WithHint("set config.version to an explicit major version before deploying to production")
		}
		return nil
	},
	types.ComponentCache: func(spec *types.DeploymentSpec, comp *types.ComponentSpec) error {
		if n, err := strconv.Atoi(comp.Config["replicas"]); err == nil && n > 1 {
			return errdefs.NewConfiguration(
				fmt.Sprintf("component %q runs a single-node cache; %d replicas are not supported", comp.Name, n), nil).
				WithComponent(comp.Name).
				WithHint("remove config.replicas or set it to 1")
		}
		return nil
	},
	types.ComponentGateway: func(spec *types.DeploymentSpec, comp *types.ComponentSpec) error {
		if spec.Environment == types.EnvironmentProduction && comp.Config["domain"] == "" {
			return errdefs.NewConfiguration(
				fmt.Sprintf("component %q needs a domain in production", comp.Name), nil).
				WithComponent(comp.Name).
				WithHint("set config.domain so the gateway can route external traffic")
		}
		return nil
	},
	types.ComponentInferenceRuntime: func(spec *types.DeploymentSpec, comp *types.ComponentSpec) error {
		if n, err := strconv.Atoi(comp.Config["context_length"]); err == nil && n > 32768 {
			return errdefs.NewConfiguration(
				fmt.Sprintf("component %q context_length %d exceeds the runtime limit of 32768", comp.Name, n), nil).
				WithComponent(comp.Name).
				WithHint("lower config.context_length or choose a runtime built for longer contexts")
		}
		return nil
	},
}

// deployOrder flattens the dependency graph of enabled components into
// a serial order.
func deployOrder(spec *types.DeploymentSpec) ([]string, error) {
	g := graph.New()
	for i := range spec.Components {
		comp := &spec.Components[i]
		if !comp.Enabled {
			continue
		}
		if err := g.Add(comp.Name, comp.DependsOn); err != nil {
			return nil, errdefs.NewValidation(
				fmt.Sprintf("invalid component graph: %v", err), err)
		}
	}
	if missing := g.Resolve(); len(missing) > 0 {
		return nil, errdefs.NewValidation(
			fmt.Sprintf("unknown dependencies: %v", missing), nil).
			WithCode(errdefs.CodeUnknownDependency)
	}
	if cycle := g.FindCycle(); cycle != nil {
		return nil, errdefs.NewValidation(
			fmt.Sprintf("dependency cycle: %s", graph.FormatCycle(cycle)), nil).
			WithCode(errdefs.CodeDependencyCycle)
	}
	return g.Order()
}

// singleComponentSpec carves one component out of the spec with its
// dependencies cleared; they are handled by the caller's ordering.
func singleComponentSpec(spec *types.DeploymentSpec, comp *types.ComponentSpec) *types.DeploymentSpec {
	single := *comp
	single.DependsOn = nil

	sub := *spec
	sub.Components = []types.ComponentSpec{single}
	return &sub
}

// finalize stamps the wrapping operation's timing onto the result and
// flags an SLA overrun with a warning-class error.
func finalize(result *types.DeploymentResult, start time.Time) {
	result.StartedAt = start
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	if result.Duration > deploySLA {
		result.SLAExceeded = true
		result.Errors = append(result.Errors, types.DeploymentError{
			Code: errdefs.CodeSLAExceeded,
			Message: fmt.Sprintf("deployment took %s, exceeding the %s SLA",
				result.Duration.Round(time.Second), deploySLA),
			Hint:        "the deployment still completed; investigate slow components or raise readiness timeouts",
			Recoverable: true,
		})
	}
}

// specWorkspace and specSize feed span attributes before validation
// has rejected a nil spec.
func specWorkspace(spec *types.DeploymentSpec) string {
	if spec == nil {
		return ""
	}
	return spec.WorkspaceID
}

func specSize(spec *types.DeploymentSpec) int {
	if spec == nil {
		return 0
	}
	return len(spec.Components)
}

func failedDependency(comp *types.ComponentSpec, failed map[string]bool) string {
	for _, dep := range comp.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func skippedResult(comp *types.ComponentSpec, reason string) types.ComponentResult {
	return types.ComponentResult{
		Name:      comp.Name,
		Type:      comp.Type,
		Status:    types.ComponentStatusSkipped,
		StartedAt: time.Now(),
		Error:     reason,
	}
}

func failedResult(comp *types.ComponentSpec, started time.Time, err error) types.ComponentResult {
	return types.ComponentResult{
		Name:      comp.Name,
		Type:      comp.Type,
		Status:    types.ComponentStatusFailed,
		StartedAt: started,
		Duration:  time.Since(started),
		Error:     redact.Error(err),
	}
}

func deploymentError(component string, err error) types.DeploymentError {
	return types.DeploymentError{
		Component:   component,
		Code:        errdefs.CodeOf(err),
		Message:     redact.Error(err),
		Hint:        errdefs.HintOf(err),
		Recoverable: errdefs.IsRetryable(err),
	}
}

func sortComponents(results []types.ComponentResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
}

func copySpec(spec *types.DeploymentSpec) *types.DeploymentSpec {
	if spec == nil {
		return nil
	}
	out := *spec
	out.Components = make([]types.ComponentSpec, len(spec.Components))
	for i, comp := range spec.Components {
		c := comp
		if comp.Config != nil {
			c.Config = make(map[string]string, len(comp.Config))
			for k, v := range comp.Config {
				c.Config[k] = v
			}
		}
		c.DependsOn = append([]string(nil), comp.DependsOn...)
		out.Components[i] = c
	}
	return &out
}

func copyResult(result *types.DeploymentResult) *types.DeploymentResult {
	if result == nil {
		return nil
	}
	out := *result
	out.Components = append([]types.ComponentResult(nil), result.Components...)
	out.Errors = append([]types.DeploymentError(nil), result.Errors...)
	return &out
}

func (m *Manager) publishStarted(spec *types.DeploymentSpec, path string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:    events.EventDeploymentStarted,
		Message: fmt.Sprintf("deploying %d components for workspace %q", len(spec.Components), spec.WorkspaceID),
		Metadata: map[string]string{
			"workspace_id": spec.WorkspaceID,
			"path":         path,
		},
	})
}

func (m *Manager) publishCompleted(spec *types.DeploymentSpec, path string, result *types.DeploymentResult) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:    events.EventDeploymentCompleted,
		Message: fmt.Sprintf("deployment %s for workspace %q finished", result.ID, spec.WorkspaceID),
		Metadata: map[string]string{
			"workspace_id":  spec.WorkspaceID,
			"path":          path,
			"deployment_id": result.ID,
			"success":       strconv.FormatBool(result.Success),
			"duration":      result.Duration.String(),
			"sla_exceeded":  strconv.FormatBool(result.SLAExceeded),
		},
	})
}

func (m *Manager) publishFailed(spec *types.DeploymentSpec, path string, err error) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:    events.EventDeploymentCompleted,
		Message: fmt.Sprintf("deployment for workspace %q failed: %s", spec.WorkspaceID, redact.Error(err)),
		Metadata: map[string]string{
			"workspace_id": spec.WorkspaceID,
			"path":         path,
			"success":      "false",
		},
	})
}
