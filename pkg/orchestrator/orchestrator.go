package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rocoloco/Mobius1-sub000/pkg/budget"
	"github.com/rocoloco/Mobius1-sub000/pkg/detector"
	"github.com/rocoloco/Mobius1-sub000/pkg/driver"
	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/health"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
	"github.com/rocoloco/Mobius1-sub000/pkg/storage"
	"github.com/rocoloco/Mobius1-sub000/pkg/telemetry"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// DefaultPollInterval is the health polling period when Config leaves
// it unset.
const DefaultPollInterval = 30 * time.Second

// Deployer is the slice of the deployment manager the orchestrator
// drives. Satisfied by deploy.Manager.
type Deployer interface {
	Deploy(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error)
	Driver() driver.Driver
	Spec() *types.DeploymentSpec
}

// Recoverer is the slice of the recovery manager the orchestrator
// drives. Satisfied by recovery.Manager.
type Recoverer interface {
	AttemptRecovery(ctx context.Context, failureType types.FailureType, component string) (*types.RecoveryAttemptResult, error)
	History(failureType types.FailureType, component string) []types.RecoveryAttemptResult
	ComponentAttempts(component string) int
	Busy() bool
}

// Deps carries the constructed collaborators. Budget, Store, and
// Broker are optional; the rest are required.
type Deps struct {
	Deployer Deployer
	Monitor  *health.Monitor
	Detector *detector.Detector
	Recovery Recoverer
	Budget   *budget.Tracker
	Store    storage.Store
	Broker   *events.Broker
}

// Config tunes the control loop.
type Config struct {
	// PollInterval is the health polling period. Zero takes the
	// 30-second default.
	PollInterval time.Duration

	// DisablePolling skips the periodic loop. Start still performs its
	// immediate health check, and manual operations keep working.
	DisablePolling bool
}

// Orchestrator is the control loop binding deployment, health
// monitoring, failure detection, recovery, and the quota gate. One
// instance owns SystemStatus; readers get copies.
type Orchestrator struct {
	deployer Deployer
	monitor  *health.Monitor
	detector *detector.Detector
	recovery Recoverer
	budget   *budget.Tracker
	store    storage.Store
	broker   *events.Broker
	logger   zerolog.Logger
	cfg      Config

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	status    types.SystemStatus
	hasStatus bool
	reported  map[detector.Failure]bool
}

// New validates dependencies and builds a stopped orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Deployer == nil:
		return nil, fmt.Errorf("orchestrator needs a deployer")
	case deps.Monitor == nil:
		return nil, fmt.Errorf("orchestrator needs a health monitor")
	case deps.Detector == nil:
		return nil, fmt.Errorf("orchestrator needs a failure detector")
	case deps.Recovery == nil:
		return nil, fmt.Errorf("orchestrator needs a recovery manager")
	}

	return &Orchestrator{
		deployer: deps.Deployer,
		monitor:  deps.Monitor,
		detector: deps.Detector,
		recovery: deps.Recovery,
		budget:   deps.Budget,
		store:    deps.Store,
		broker:   deps.Broker,
		logger:   log.WithComponent("orchestrator"),
		cfg:      cfg,
		status:   types.SystemStatus{Overall: types.HealthHealthy},
		reported: make(map[detector.Failure]bool),
	}, nil
}

// Start moves the orchestrator to running, performs one immediate
// health check, and begins the polling loop unless polling is
// disabled. Starting a running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.hasStatus = false
	o.reported = make(map[detector.Failure]bool)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel = cancel
	o.loopDone = done
	o.mu.Unlock()

	o.logger.Info().
		Dur("poll_interval", o.pollInterval()).
		Bool("polling", !o.cfg.DisablePolling).
		Msg("orchestrator started")

	o.pollOnce(ctx)

	if o.cfg.DisablePolling {
		close(done)
		return nil
	}
	go o.pollLoop(loopCtx, done)
	return nil
}

// Stop cancels future polls, waits for an in-flight cycle to finish,
// and tears down budget tracking. In-flight deploy and recovery work
// runs to completion. Repeat calls are no-ops.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	done := o.loopDone
	o.cancel = nil
	o.loopDone = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if o.budget != nil {
		o.budget.Stop()
	}
	o.logger.Info().Msg("orchestrator stopped")
}

// Running reports whether the control loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// DeployInfrastructure validates quota, delegates to the deployment
// manager, and on success records spend, persists the result, and
// points health monitoring at the new deployment. Requires running.
func (o *Orchestrator) DeployInfrastructure(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error) {
	if err := o.requireRunning("deploy infrastructure"); err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, errdefs.NewValidation("deployment spec is required", nil).
			WithHint("submit a spec with a workspace id and at least one component")
	}

	estimate := budget.EstimateCost(spec)
	decision := o.CheckQuota(spec.WorkspaceID, estimate)
	if !decision.Allowed {
		return nil, errdefs.NewConfiguration(
			fmt.Sprintf("deployment estimated at %.2f exceeds the remaining budget of %.2f for workspace %s",
				estimate, decision.Remaining, spec.WorkspaceID), nil).
			WithCode(errdefs.CodeQuotaExceeded).
			WithOperation("deploy").
			WithHint("raise the workspace's monthly limit or wait for the next budget month")
	}

	result, err := o.deployer.Deploy(ctx, spec, opts)
	if result != nil && o.store != nil {
		if saveErr := o.store.SaveDeployment(result); saveErr != nil {
			o.logger.Warn().Str("error", saveErr.Error()).Msg("failed to persist deployment result")
		}
	}
	if err != nil {
		return result, err
	}

	if result.Success {
		if o.budget != nil {
			if _, spendErr := o.budget.RecordSpend(spec.WorkspaceID, estimate, "deployment "+result.ID); spendErr != nil {
				o.logger.Warn().Str("error", spendErr.Error()).Msg("failed to record deployment spend")
			}
		}
		o.watchDeployment(result)
	}
	return result, nil
}

// AttemptRecovery triggers one recovery run for the failure key.
// Requires running; refusals (single-flight, cooldown) pass through
// from the recovery manager.
func (o *Orchestrator) AttemptRecovery(ctx context.Context, failureType types.FailureType, component string) error {
	if err := o.requireRunning("attempt recovery"); err != nil {
		return err
	}
	return o.recoverOne(ctx, detector.Failure{Type: failureType, Component: component})
}

// CheckQuota answers the admission question for a workspace. Usable
// regardless of lifecycle state; a missing tracker means cost tracking
// is disabled and the gate allows with unlimited remaining.
func (o *Orchestrator) CheckQuota(workspaceID string, estimatedCost float64) types.QuotaDecision {
	if o.budget == nil {
		return budget.Unlimited()
	}
	return o.budget.CheckQuota(workspaceID, estimatedCost)
}

// Budget exposes the effective budget config for a workspace, or the
// disabled zero config when no tracker is wired.
func (o *Orchestrator) Budget(workspaceID string) types.BudgetConfig {
	if o.budget == nil {
		return types.BudgetConfig{}
	}
	return o.budget.Budget(workspaceID)
}

// SetBudget stores a workspace budget config.
func (o *Orchestrator) SetBudget(workspaceID string, cfg types.BudgetConfig) error {
	if o.budget == nil {
		return errdefs.NewConfiguration("cost tracking is disabled", nil).
			WithHint("enable the budget tracker in the controller configuration")
	}
	return o.budget.SetBudget(workspaceID, cfg)
}

// Status returns a copy of the current system status.
func (o *Orchestrator) Status() types.SystemStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := o.status
	status.Components = make([]types.ComponentHealth, len(o.status.Components))
	copy(status.Components, o.status.Components)
	return status
}

func (o *Orchestrator) requireRunning(op string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return errdefs.NewConfiguration(
			fmt.Sprintf("cannot %s while the orchestrator is stopped", op), errdefs.ErrNotRunning).
			WithCode(errdefs.CodeNotRunning).
			WithOperation(op).
			WithHint("start the orchestrator before calling this operation")
	}
	return nil
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.cfg.PollInterval > 0 {
		return o.cfg.PollInterval
	}
	return DefaultPollInterval
}

func (o *Orchestrator) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()

	for {
		// A tick can queue while a cycle is in flight. Check for
		// cancellation first so a stopped loop never runs it.
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The cycle runs on its own context so stopping the loop
			// never interrupts in-flight recovery work.
			o.pollOnce(context.Background())
		}
	}
}

// pollOnce is one control-loop cycle: check health, update status,
// classify failures, attempt recoveries independently, then re-check
// health so the status reflects what recovery changed.
func (o *Orchestrator) pollOnce(ctx context.Context) {
	ctx, span := telemetry.StartPoll(ctx)
	defer telemetry.EndSpan(span, nil)

	report := o.monitor.CheckSystemHealth(ctx)
	o.updateStatus(report)
	o.publishHealthChecked(report)

	failures := o.detector.Observe(report.Checks)
	o.publishNewFailures(failures)
	if len(failures) == 0 {
		return
	}

	var g errgroup.Group
	for _, failure := range failures {
		failure := failure
		g.Go(func() error {
			// Recovery errors are contained here: a refused or exhausted
			// run must never take down the polling cycle.
			if err := o.recoverOne(ctx, failure); err != nil {
				o.logger.Warn().
					Str("failure_type", string(failure.Type)).
					Str("component", failure.Component).
					Str("error", redact.Error(err)).
					Msg("recovery attempt failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	report = o.monitor.CheckSystemHealth(ctx)
	o.updateStatus(report)
}

// recoverOne runs a single recovery and persists the attempt record
// unless the run was refused before executing anything.
func (o *Orchestrator) recoverOne(ctx context.Context, failure detector.Failure) error {
	_, err := o.recovery.AttemptRecovery(ctx, failure.Type, failure.Component)
	if err != nil && (errors.Is(err, errdefs.ErrRecoveryInProgress) || errors.Is(err, errdefs.ErrCooldownActive)) {
		return err
	}

	if o.store != nil {
		history := o.recovery.History(failure.Type, failure.Component)
		if len(history) > 0 {
			last := history[len(history)-1]
			if saveErr := o.store.SaveRecoveryAttempt(last); saveErr != nil {
				o.logger.Warn().Str("error", saveErr.Error()).Msg("failed to persist recovery attempt")
			}
		}
	}
	return err
}

// updateStatus rebuilds SystemStatus from a health report and emits
// system-status-changed only when the overall value moved. The first
// poll after Start always emits.
func (o *Orchestrator) updateStatus(report health.SystemReport) {
	components := make([]types.ComponentHealth, len(report.Checks))
	for i, check := range report.Checks {
		state := types.HealthHealthy
		if !check.Healthy {
			state = types.HealthUnhealthy
		}
		components[i] = types.ComponentHealth{
			Name:             check.Service,
			Status:           state,
			ResponseTime:     check.ResponseTime,
			LastCheck:        check.CheckedAt,
			RecoveryAttempts: o.recovery.ComponentAttempts(check.Service),
		}
	}

	status := types.SystemStatus{
		Overall:            report.Status,
		Components:         components,
		LastCheck:          time.Now().UTC(),
		Uptime:             report.Uptime,
		RecoveryInProgress: o.recovery.Busy(),
	}

	o.mu.Lock()
	previous := o.status.Overall
	emit := !o.hasStatus || previous != status.Overall
	o.status = status
	o.hasStatus = true
	o.mu.Unlock()

	if !emit {
		return
	}
	o.logger.Info().
		Str("previous", string(previous)).
		Str("overall", string(status.Overall)).
		Msg("system status changed")
	o.publish(&events.Event{
		Type:    events.EventSystemStatusChanged,
		Message: fmt.Sprintf("system status is %s", status.Overall),
		Metadata: map[string]string{
			"previous": string(previous),
			"overall":  string(status.Overall),
		},
	})
}

func (o *Orchestrator) publishHealthChecked(report health.SystemReport) {
	healthy := 0
	for _, check := range report.Checks {
		if check.Healthy {
			healthy++
		}
	}
	o.publish(&events.Event{
		Type: events.EventHealthCheckCompleted,
		Message: fmt.Sprintf("health check completed: %d of %d services healthy",
			healthy, len(report.Checks)),
		Metadata: map[string]string{
			"overall": string(report.Status),
			"healthy": strconv.Itoa(healthy),
			"checked": strconv.Itoa(len(report.Checks)),
		},
	})
}

// publishNewFailures emits failure-detected once per failing episode:
// a failure repeats silently across polls until it clears, and a later
// relapse is a new episode.
func (o *Orchestrator) publishNewFailures(failures []detector.Failure) {
	current := make(map[detector.Failure]bool, len(failures))

	o.mu.Lock()
	var fresh []detector.Failure
	for _, failure := range failures {
		current[failure] = true
		if !o.reported[failure] {
			o.reported[failure] = true
			fresh = append(fresh, failure)
		}
	}
	for failure := range o.reported {
		if !current[failure] {
			delete(o.reported, failure)
		}
	}
	o.mu.Unlock()

	for _, failure := range fresh {
		o.publish(&events.Event{
			Type:    events.EventFailureDetected,
			Message: fmt.Sprintf("detected %s on component %s", failure.Type, failure.Component),
			Metadata: map[string]string{
				"failure_type": string(failure.Type),
				"component":    failure.Component,
			},
		})
	}
}

// watchDeployment points the health monitor at the deployment's driver
// and replaces endpoint probes with ones for the new components.
// Gateways get an HTTP probe: accepting a TCP connection is not proof
// the proxy routes. Everything else gets a TCP probe.
func (o *Orchestrator) watchDeployment(result *types.DeploymentResult) {
	o.monitor.SetSource(o.deployer.Driver())
	o.monitor.ClearProbes()

	for _, comp := range result.Components {
		if comp.Status != types.ComponentStatusSuccess || comp.Endpoint == "" {
			continue
		}
		if comp.Type == types.ComponentGateway {
			o.monitor.RegisterProbe(comp.Name, health.NewHTTPChecker("http://"+comp.Endpoint))
		} else {
			o.monitor.RegisterProbe(comp.Name, health.NewTCPChecker(comp.Endpoint))
		}
	}
}

func (o *Orchestrator) publish(event *events.Event) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(event)
}
