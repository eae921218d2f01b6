package mobiusd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rocoloco/Mobius1-sub000/pkg/backend"
	"github.com/rocoloco/Mobius1-sub000/pkg/driver"
	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/graph"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
	"github.com/rocoloco/Mobius1-sub000/pkg/telemetry"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// DriverName is the registry key for this driver.
const DriverName = "mobiusd"

const defaultMaxAttempts = 3

// readyPollInterval is how often waitReady re-reads service state.
// Package variable so tests can shorten it.
var readyPollInterval = 2 * time.Second

// deploySLA is the soft deadline a finished deployment is compared
// against. Overrun sets the flag on the result, never fails it.
var deploySLA = types.DeploymentSLA

// Backend-native states the driver acts on by name. Everything else
// goes through mapState.
const (
	stateRunning = "running"
	stateStopped = "stopped"
)

// Driver deploys workspace components as services on a mobiusd node.
// All backend calls run through a circuit breaker owned by this
// instance; retry and rollback policy live here, not in the client.
type Driver struct {
	cfg     driver.Config
	client  *backend.Client
	breaker *driver.CircuitBreaker
	logger  zerolog.Logger

	mu       sync.Mutex
	spec     *types.DeploymentSpec
	services map[string]string // component name -> backend service ID
}

// New builds a mobiusd driver from backend connection config. Matches
// driver.Factory so it can be registered under DriverName.
func New(cfg driver.Config) (driver.Driver, error) {
	client, err := backend.New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return &Driver{
		cfg:      cfg,
		client:   client,
		breaker:  driver.NewCircuitBreaker(driver.BreakerFailureThreshold, driver.BreakerOpenTimeout),
		logger:   log.WithComponent("driver.mobiusd"),
		services: make(map[string]string),
	}, nil
}

// Initialize verifies compliance flags and backend reachability, then
// records the spec for later status and health lookups. Fails fast
// without touching backend state.
func (d *Driver) Initialize(ctx context.Context, spec *types.DeploymentSpec) error {
	if spec == nil {
		return errdefs.NewConfiguration("deployment spec is nil", nil)
	}
	if err := checkCompliance(spec, d.cfg.AllowedDomainSuffix); err != nil {
		return err
	}

	var info *backend.VersionInfo
	err := d.call(func() error {
		v, err := d.client.Ping(ctx)
		if err != nil {
			return err
		}
		info = v
		return nil
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.spec = spec
	d.mu.Unlock()

	d.logger.Info().
		Str("workspace_id", spec.WorkspaceID).
		Str("backend_version", info.Version).
		Str("api_version", info.APIVersion).
		Msg("driver initialized")
	return nil
}

// Deploy materializes the spec's enabled components in dependency
// order. Components with no path between them deploy concurrently
// within a level. A failed critical component halts the remaining
// levels; dependents of any failed component are skipped. With
// RollbackOnFailure set, recorded operations are undone in reverse
// order before the result is returned.
func (d *Driver) Deploy(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error) {
	if spec == nil {
		return nil, errdefs.NewConfiguration("deployment spec is nil", nil)
	}
	if err := checkCompliance(spec, d.cfg.AllowedDomainSuffix); err != nil {
		return nil, err
	}

	result := &types.DeploymentResult{
		ID:          uuid.NewString(),
		WorkspaceID: spec.WorkspaceID,
		StartedAt:   time.Now(),
	}
	logger := d.logger.With().
		Str("deployment_id", result.ID).
		Str("workspace_id", spec.WorkspaceID).
		Logger()

	levels, err := deployLevels(spec)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.spec = spec
	d.mu.Unlock()

	var (
		mu       sync.Mutex
		rollback []types.RollbackOperation
		failed   = make(map[string]bool)
		halt     bool
	)

	for _, level := range levels {
		// Decide skips before launching the level so sibling failures
		// only affect later levels.
		var torun []*types.ComponentSpec
		mu.Lock()
		for _, name := range level {
			comp := spec.Component(name)
			if comp == nil {
				continue
			}
			if halt {
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
			torun = append(torun, comp)
		}
		mu.Unlock()

		var g errgroup.Group
		for _, comp := range torun {
			comp := comp
			g.Go(func() error {
				res, ops, err := d.deployComponent(ctx, logger, spec, comp, opts)
				mu.Lock()
				defer mu.Unlock()
				rollback = append(rollback, ops...)
				result.Components = append(result.Components, res)
				if err != nil {
					failed[comp.Name] = true
					result.Errors = append(result.Errors, deploymentError(comp.Name, err))
					if comp.Type.Critical() {
						halt = true
					}
					return err
				}
				return nil
			})
		}
		// Per-component outcomes are already recorded; Wait only joins.
		_ = g.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	result.Success = len(failed) == 0 && ctx.Err() == nil
	if !result.Success && opts.RollbackOnFailure {
		d.runRollback(ctx, logger, rollback)
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.SLAExceeded = result.Duration > deploySLA

	sortComponents(result.Components)

	logger.Info().
		Bool("success", result.Success).
		Dur("duration", result.Duration).
		Bool("sla_exceeded", result.SLAExceeded).
		Int("components", len(result.Components)).
		Msg("deployment finished")
	return result, nil
}

// GetStatus maps the backend's native service state for a component
// onto the canonical status values.
func (d *Driver) GetStatus(ctx context.Context, component string) (types.ServiceStatus, error) {
	spec := d.currentSpec()
	if spec == nil {
		return types.StatusUnknown, errNotInitialized("GetStatus")
	}
	svc, found, err := d.lookupService(ctx, serviceName(spec.WorkspaceID, component))
	if err != nil {
		return types.StatusUnknown, err
	}
	if !found {
		return types.StatusUnknown, errdefs.NewDeployment(
			fmt.Sprintf("component %q has no deployed service", component),
			errdefs.ErrServiceNotFound).WithComponent(component).AsPermanent()
	}
	return mapState(svc.State), nil
}

// HealthCheck probes every enabled component of the initialized spec.
// Probe failures are reported per component, never as a call error, so
// monitoring keeps observing a partially failing deployment.
func (d *Driver) HealthCheck(ctx context.Context) ([]types.HealthCheckResult, error) {
	spec := d.currentSpec()
	if spec == nil {
		return nil, errNotInitialized("HealthCheck")
	}

	results := make([]types.HealthCheckResult, 0, len(spec.Components))
	for i := range spec.Components {
		comp := &spec.Components[i]
		if !comp.Enabled {
			continue
		}
		start := time.Now()
		svc, found, err := d.lookupService(ctx, serviceName(spec.WorkspaceID, comp.Name))
		r := types.HealthCheckResult{
			Service:      comp.Name,
			ResponseTime: time.Since(start),
			CheckedAt:    time.Now(),
		}
		switch {
		case err != nil:
			r.Message = redact.Error(err)
		case !found:
			r.Message = "service not found"
		default:
			st := mapState(svc.State)
			r.Healthy = st == types.StatusReady
			if !r.Healthy {
				r.Message = fmt.Sprintf("service state %q", svc.State)
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// Scale changes a component's replica count.
func (d *Driver) Scale(ctx context.Context, component string, replicas int) error {
	if replicas < 0 {
		return errdefs.NewConfiguration(fmt.Sprintf("replica count %d is negative", replicas), nil)
	}
	id, err := d.resolveServiceID(ctx, component)
	if err != nil {
		return err
	}
	return d.call(func() error { return d.client.ScaleService(ctx, id, replicas) })
}

// Restart restarts a component's service.
func (d *Driver) Restart(ctx context.Context, component string) error {
	id, err := d.resolveServiceID(ctx, component)
	if err != nil {
		return err
	}
	return d.call(func() error { return d.client.RestartService(ctx, id) })
}

// Logs returns the tail of a component's service log.
func (d *Driver) Logs(ctx context.Context, component string, tail int) (string, error) {
	id, err := d.resolveServiceID(ctx, component)
	if err != nil {
		return "", err
	}
	var out string
	err = d.call(func() error {
		s, err := d.client.ServiceLogs(ctx, id, tail)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// Cleanup deletes every service this driver deployed. Best effort:
// already-gone services are ignored, remaining failures are joined.
func (d *Driver) Cleanup(ctx context.Context) error {
	d.mu.Lock()
	owned := make(map[string]string, len(d.services))
	for comp, id := range d.services {
		owned[comp] = id
	}
	d.mu.Unlock()

	comps := make([]string, 0, len(owned))
	for comp := range owned {
		comps = append(comps, comp)
	}
	sort.Strings(comps)

	var errs []error
	for _, comp := range comps {
		err := d.call(func() error { return d.client.DeleteService(ctx, owned[comp]) })
		if err != nil && !errors.Is(err, errdefs.ErrServiceNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", comp, err))
			continue
		}
		d.mu.Lock()
		delete(d.services, comp)
		d.mu.Unlock()
	}
	return errors.Join(errs...)
}

// deployComponent runs the retry loop for one component. Rollback
// operations from every attempt are returned even on failure, so a
// half-created service can still be undone.
func (d *Driver) deployComponent(ctx context.Context, logger zerolog.Logger, spec *types.DeploymentSpec, comp *types.ComponentSpec, opts types.DeployOptions) (types.ComponentResult, []types.RollbackOperation, error) {
	ctx, span := telemetry.StartComponent(ctx, comp.Name, string(comp.Type))
	res := types.ComponentResult{
		Name:      comp.Name,
		Type:      comp.Type,
		Status:    types.ComponentStatusFailed,
		StartedAt: time.Now(),
	}
	clog := logger.With().Str("component", comp.Name).Str("type", string(comp.Type)).Logger()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var (
		ops     []types.RollbackOperation
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := driver.RetryDelay(attempt - 1)
			clog.Info().Int("attempt", attempt).Dur("backoff", delay).Msg("retrying component deploy")
			if err := driver.SleepContext(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		serviceID, endpoint, attemptOps, err := d.deployOnce(ctx, clog, spec, comp, opts)
		ops = append(ops, attemptOps...)
		if err == nil {
			res.Status = types.ComponentStatusSuccess
			res.ServiceID = serviceID
			res.Endpoint = endpoint
			res.Duration = time.Since(res.StartedAt)
			d.mu.Lock()
			d.services[comp.Name] = serviceID
			d.mu.Unlock()
			clog.Info().Str("service_id", serviceID).Dur("duration", res.Duration).Msg("component deployed")
			telemetry.EndSpan(span, nil)
			return res, ops, nil
		}

		lastErr = err
		clog.Warn().Err(err).Int("attempt", attempt).Msg("component deploy attempt failed")
		if !errdefs.IsRetryable(err) {
			break
		}
	}

	res.Duration = time.Since(res.StartedAt)
	res.Error = redact.Error(lastErr)
	telemetry.EndSpan(span, lastErr)
	return res, ops, lastErr
}

// deployOnce performs a single create-or-update pass for a component
// and waits for readiness.
func (d *Driver) deployOnce(ctx context.Context, logger zerolog.Logger, spec *types.DeploymentSpec, comp *types.ComponentSpec, opts types.DeployOptions) (string, string, []types.RollbackOperation, error) {
	name := serviceName(spec.WorkspaceID, comp.Name)
	desired := buildServiceSpec(spec, comp, opts)

	existing, found, err := d.lookupService(ctx, name)
	if err != nil {
		return "", "", nil, err
	}

	var ops []types.RollbackOperation

	switch {
	case found && opts.IdempotencyKey != "" && existing.Labels[labelIdempotencyKey] == opts.IdempotencyKey:
		// This attempt already materialized the service; converge it
		// without recording new undo steps.
		logger.Debug().Str("service_id", existing.ID).Msg("reusing service from idempotent attempt")
		if mapState(existing.State) == types.StatusReady {
			return existing.ID, existing.Endpoint, nil, nil
		}
		if existing.State == stateStopped || mapState(existing.State) == types.StatusFailed {
			if err := d.call(func() error { return d.client.StartService(ctx, existing.ID) }); err != nil {
				return "", "", nil, err
			}
		}

	case found:
		prior := map[string]string{
			"image":    existing.Image,
			"replicas": strconv.Itoa(existing.Replicas),
		}
		if _, err := d.updateService(ctx, existing.ID, &desired); err != nil {
			return "", "", nil, err
		}
		ops = append(ops, rollbackOp(types.RollbackUpdateService, existing.ID, comp.Name, prior))
		if err := d.call(func() error { return d.client.RestartService(ctx, existing.ID) }); err != nil {
			return "", "", ops, err
		}

	default:
		created, err := d.createService(ctx, &desired)
		if err != nil {
			return "", "", nil, err
		}
		ops = append(ops, rollbackOp(types.RollbackCreateService, created.ID, comp.Name, nil))
		if err := d.call(func() error { return d.client.StartService(ctx, created.ID) }); err != nil {
			return "", "", ops, err
		}
	}

	svc, err := d.waitReady(ctx, name, readinessTimeout(comp.Type, opts))
	if err != nil {
		return "", "", ops, err
	}

	if replicas := replicasFor(comp); replicas > 1 && svc.Replicas != replicas {
		if err := d.call(func() error { return d.client.ScaleService(ctx, svc.ID, replicas) }); err != nil {
			return "", "", ops, err
		}
	}

	if comp.Type == types.ComponentGateway {
		if domain := comp.Config[cfgDomain]; domain != "" {
			route, err := d.createRoute(ctx, &backend.Route{
				ServiceID:  svc.ID,
				Host:       domain,
				TargetPort: templateFor(comp.Type).mainPort,
			})
			if err != nil {
				return "", "", ops, err
			}
			ops = append(ops, rollbackOp(types.RollbackCreateRoute, svc.ID, comp.Name,
				map[string]string{"route_id": route.ID}))
		}
	}

	return svc.ID, svc.Endpoint, ops, nil
}

// waitReady polls service state until ready, failed, or the deadline.
func (d *Driver) waitReady(ctx context.Context, name string, timeout time.Duration) (*backend.Service, error) {
	deadline := time.Now().Add(timeout)
	for {
		svc, found, err := d.lookupService(ctx, name)
		if err != nil {
			if errdefs.IsCircuitOpen(err) {
				return nil, err
			}
			// Transient lookup failure: keep polling until the deadline.
		} else if found {
			switch mapState(svc.State) {
			case types.StatusReady:
				return svc, nil
			case types.StatusFailed:
				return nil, errdefs.NewDeployment(
					fmt.Sprintf("service %s entered state %q while waiting for readiness", name, svc.State), nil).
					WithCode(errdefs.CodeServiceFailed).
					WithHint("check the service logs for the crash cause")
			}
		}

		if time.Now().After(deadline) {
			return nil, errdefs.NewDeployment(
				fmt.Sprintf("service %s not ready within %s", name, timeout), nil).
				WithCode(errdefs.CodeReadinessTimeout).
				WithHint("the component may still be starting; raise the readiness timeout or check service logs")
		}
		if err := driver.SleepContext(ctx, readyPollInterval); err != nil {
			return nil, err
		}
	}
}

// runRollback undoes recorded operations in reverse order. Rollback is
// best effort: failures are logged and the remaining steps still run.
func (d *Driver) runRollback(ctx context.Context, logger zerolog.Logger, ops []types.RollbackOperation) {
	if len(ops) == 0 {
		return
	}
	logger.Info().Int("operations", len(ops)).Msg("rolling back deployment")

	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		var err error
		switch op.Type {
		case types.RollbackCreateService:
			err = d.call(func() error { return d.client.DeleteService(ctx, op.ServiceID) })
			if errors.Is(err, errdefs.ErrServiceNotFound) {
				err = nil
			}
			d.mu.Lock()
			delete(d.services, op.Component)
			d.mu.Unlock()
		case types.RollbackUpdateService:
			err = d.revertUpdate(ctx, op)
		case types.RollbackCreateRoute:
			err = d.call(func() error { return d.client.DeleteRoute(ctx, op.PriorState["route_id"]) })
		case types.RollbackSetEnv:
			err = d.call(func() error { return d.client.SetEnv(ctx, op.ServiceID, op.PriorState) })
		case types.RollbackDeleteService:
			// Deletion cannot be undone; surface it and move on.
			err = fmt.Errorf("service %s was deleted and cannot be restored", op.ServiceID)
		}
		if err != nil {
			logger.Warn().Err(err).
				Str("op", string(op.Type)).
				Str("component", op.Component).
				Msg("rollback step failed")
		}
	}
}

func (d *Driver) revertUpdate(ctx context.Context, op types.RollbackOperation) error {
	if _, err := d.updateService(ctx, op.ServiceID, &backend.ServiceSpec{Image: op.PriorState["image"]}); err != nil {
		return err
	}
	if n, err := strconv.Atoi(op.PriorState["replicas"]); err == nil && n > 0 {
		return d.call(func() error { return d.client.ScaleService(ctx, op.ServiceID, n) })
	}
	return nil
}

// call routes a backend invocation through the circuit breaker. Only
// backend faults (transport errors, 5xx) count against the breaker;
// client-side rejections prove the backend is alive.
func (d *Driver) call(fn func() error) error {
	var callErr error
	if err := d.breaker.Execute(func() error {
		callErr = fn()
		if errdefs.IsRetryable(callErr) {
			return callErr
		}
		return nil
	}); err != nil && callErr == nil {
		return err // refused by the breaker
	}
	return callErr
}

// lookupService fetches a service by name. Absence is a valid answer,
// not a fault.
func (d *Driver) lookupService(ctx context.Context, name string) (*backend.Service, bool, error) {
	var (
		svc   *backend.Service
		found bool
	)
	err := d.call(func() error {
		s, err := d.client.GetService(ctx, name)
		if err != nil {
			if errors.Is(err, errdefs.ErrServiceNotFound) {
				return nil
			}
			return err
		}
		svc, found = s, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return svc, found, nil
}

func (d *Driver) createService(ctx context.Context, spec *backend.ServiceSpec) (*backend.Service, error) {
	var svc *backend.Service
	err := d.call(func() error {
		s, err := d.client.CreateService(ctx, spec)
		if err != nil {
			return err
		}
		svc = s
		return nil
	})
	return svc, err
}

func (d *Driver) updateService(ctx context.Context, id string, spec *backend.ServiceSpec) (*backend.Service, error) {
	var svc *backend.Service
	err := d.call(func() error {
		s, err := d.client.UpdateService(ctx, id, spec)
		if err != nil {
			return err
		}
		svc = s
		return nil
	})
	return svc, err
}

func (d *Driver) createRoute(ctx context.Context, route *backend.Route) (*backend.Route, error) {
	var out *backend.Route
	err := d.call(func() error {
		r, err := d.client.CreateRoute(ctx, route)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// resolveServiceID maps a component name to its backend service ID,
// consulting the backend when the driver has no record of it.
func (d *Driver) resolveServiceID(ctx context.Context, component string) (string, error) {
	d.mu.Lock()
	id, ok := d.services[component]
	spec := d.spec
	d.mu.Unlock()
	if ok {
		return id, nil
	}
	if spec == nil {
		return "", errNotInitialized("resolveServiceID")
	}

	svc, found, err := d.lookupService(ctx, serviceName(spec.WorkspaceID, component))
	if err != nil {
		return "", err
	}
	if !found {
		return "", errdefs.NewDeployment(
			fmt.Sprintf("component %q has no deployed service", component),
			errdefs.ErrServiceNotFound).WithComponent(component).AsPermanent()
	}
	d.mu.Lock()
	d.services[component] = svc.ID
	d.mu.Unlock()
	return svc.ID, nil
}

func (d *Driver) currentSpec() *types.DeploymentSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spec
}

// mapState folds backend-native state strings onto the canonical
// status values. Unmapped states are Unknown, never a guess.
func mapState(state string) types.ServiceStatus {
	switch state {
	case stateRunning:
		return types.StatusReady
	case "created", "deploying", "starting", "restarting", "pending", stateStopped:
		return types.StatusPending
	case "crashed", "failed", "dead", "exited":
		return types.StatusFailed
	case "degraded", "unhealthy":
		return types.StatusDegraded
	default:
		return types.StatusUnknown
	}
}

// deployLevels builds the level plan for the spec's enabled components.
// Validation runs before any deploy, so graph errors here mean the
// caller skipped it.
func deployLevels(spec *types.DeploymentSpec) ([][]string, error) {
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
	return g.Levels()
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
	now := time.Now()
	return types.ComponentResult{
		Name:      comp.Name,
		Type:      comp.Type,
		Status:    types.ComponentStatusSkipped,
		StartedAt: now,
		Error:     reason,
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

func rollbackOp(t types.RollbackOpType, serviceID, component string, prior map[string]string) types.RollbackOperation {
	return types.RollbackOperation{
		Type:       t,
		ServiceID:  serviceID,
		Component:  component,
		PriorState: prior,
		RecordedAt: time.Now(),
	}
}

// sortComponents orders results by name for stable output. Concurrent
// level execution makes append order nondeterministic.
func sortComponents(results []types.ComponentResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
}

func errNotInitialized(op string) error {
	return errdefs.NewConfiguration("driver not initialized", nil).
		WithOperation(op).
		WithHint("call Initialize with a deployment spec first")
}
