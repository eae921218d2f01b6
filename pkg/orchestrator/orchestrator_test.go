package orchestrator

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocoloco/Mobius1-sub000/pkg/budget"
	"github.com/rocoloco/Mobius1-sub000/pkg/detector"
	"github.com/rocoloco/Mobius1-sub000/pkg/driver"
	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/health"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/storage"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// scriptedSource feeds the health monitor a controllable batch of
// results, standing in for a live driver.
type scriptedSource struct {
	mu    sync.Mutex
	batch []types.HealthCheckResult
	calls int
}

func (s *scriptedSource) set(batch ...types.HealthCheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = batch
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedSource) HealthCheck(ctx context.Context) ([]types.HealthCheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := make([]types.HealthCheckResult, len(s.batch))
	copy(out, s.batch)
	return out, nil
}

type fakeDriver struct {
	mu     sync.Mutex
	checks []types.HealthCheckResult
}

func (d *fakeDriver) Initialize(ctx context.Context, spec *types.DeploymentSpec) error {
	return nil
}

func (d *fakeDriver) Deploy(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error) {
	return &types.DeploymentResult{}, nil
}

func (d *fakeDriver) GetStatus(ctx context.Context, component string) (types.ServiceStatus, error) {
	return types.StatusReady, nil
}

func (d *fakeDriver) HealthCheck(ctx context.Context) ([]types.HealthCheckResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.HealthCheckResult, len(d.checks))
	copy(out, d.checks)
	return out, nil
}

func (d *fakeDriver) Scale(ctx context.Context, component string, replicas int) error {
	return nil
}

func (d *fakeDriver) Restart(ctx context.Context, component string) error { return nil }

func (d *fakeDriver) Logs(ctx context.Context, component string, tail int) (string, error) {
	return "", nil
}

func (d *fakeDriver) Cleanup(ctx context.Context) error { return nil }

type fakeDeployer struct {
	mu     sync.Mutex
	result *types.DeploymentResult
	err    error
	drv    *fakeDriver
	spec   *types.DeploymentSpec
	calls  int
}

func (f *fakeDeployer) Deploy(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.spec = spec
	return f.result, f.err
}

func (f *fakeDeployer) Driver() driver.Driver { return f.drv }

func (f *fakeDeployer) Spec() *types.DeploymentSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spec
}

func (f *fakeDeployer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recoveryCall struct {
	failureType types.FailureType
	component   string
}

// fakeRecoverer records attempts and lets tests script per-component
// errors, a blocking window, and a side effect that mimics recovery
// actually repairing the system.
type fakeRecoverer struct {
	mu       sync.Mutex
	calls    []recoveryCall
	errs     map[string]error
	history  map[string][]types.RecoveryAttemptResult
	attempts map[string]int
	busy     bool

	onAttempt func(types.FailureType, string)
	entered   chan struct{}
	release   chan struct{}
}

func newFakeRecoverer() *fakeRecoverer {
	return &fakeRecoverer{
		errs:     make(map[string]error),
		history:  make(map[string][]types.RecoveryAttemptResult),
		attempts: make(map[string]int),
	}
}

func (f *fakeRecoverer) AttemptRecovery(ctx context.Context, failureType types.FailureType, component string) (*types.RecoveryAttemptResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recoveryCall{failureType: failureType, component: component})
	scripted := f.errs[component]
	hook := f.onAttempt
	entered := f.entered
	release := f.release
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if release != nil {
		<-release
	}

	// Refusals happen before any action executes, so they leave no
	// history behind.
	if scripted != nil && (errors.Is(scripted, errdefs.ErrRecoveryInProgress) || errors.Is(scripted, errdefs.ErrCooldownActive)) {
		return nil, scripted
	}

	attempt := types.RecoveryAttemptResult{
		FailureType: failureType,
		Component:   component,
		Action:      types.ActionRestartService,
		Success:     scripted == nil,
		StartedAt:   time.Now().UTC(),
		Duration:    5 * time.Millisecond,
	}
	if scripted != nil {
		attempt.Error = scripted.Error()
	}

	f.mu.Lock()
	key := string(failureType) + "/" + component
	f.history[key] = append(f.history[key], attempt)
	f.attempts[component]++
	f.mu.Unlock()

	if hook != nil {
		hook(failureType, component)
	}
	if scripted != nil {
		return nil, scripted
	}
	return &attempt, nil
}

func (f *fakeRecoverer) History(failureType types.FailureType, component string) []types.RecoveryAttemptResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(failureType) + "/" + component
	out := make([]types.RecoveryAttemptResult, len(f.history[key]))
	copy(out, f.history[key])
	return out
}

func (f *fakeRecoverer) ComponentAttempts(component string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[component]
}

func (f *fakeRecoverer) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeRecoverer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRecoverer) recorded() []recoveryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recoveryCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fixture struct {
	orch     *Orchestrator
	deployer *fakeDeployer
	source   *scriptedSource
	monitor  *health.Monitor
	recov    *fakeRecoverer
	broker   *events.Broker
	store    storage.Store
	tracker  *budget.Tracker
}

type fixtureOpts struct {
	orch      Config
	detector  detector.Config
	withStore bool
	budget    *budget.Config
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	source := &scriptedSource{}
	monitor := health.NewMonitor()
	monitor.SetSource(source)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	f := &fixture{
		deployer: &fakeDeployer{drv: &fakeDriver{}},
		source:   source,
		monitor:  monitor,
		recov:    newFakeRecoverer(),
		broker:   broker,
	}

	deps := Deps{
		Deployer: f.deployer,
		Monitor:  monitor,
		Detector: detector.New(opts.detector),
		Recovery: f.recov,
		Broker:   broker,
	}
	if opts.withStore || opts.budget != nil {
		store, err := storage.NewBoltStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		deps.Store = store
		f.store = store
		if opts.budget != nil {
			f.tracker = budget.New(store, broker, *opts.budget)
			deps.Budget = f.tracker
		}
	}

	orch, err := New(deps, opts.orch)
	require.NoError(t, err)
	t.Cleanup(orch.Stop)
	f.orch = orch
	return f
}

func check(service string, healthy bool) types.HealthCheckResult {
	return types.HealthCheckResult{
		Service:      service,
		Healthy:      healthy,
		ResponseTime: 5 * time.Millisecond,
		CheckedAt:    time.Now().UTC(),
	}
}

func collectEvents(t *testing.T, sub events.Subscriber, n int) []*events.Event {
	t.Helper()
	out := make([]*events.Event, 0, n)
	for len(out) < n {
		select {
		case event := <-sub:
			out = append(out, event)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func noEvent(t *testing.T, sub events.Subscriber) {
	t.Helper()
	select {
	case event := <-sub:
		t.Fatalf("unexpected event %s: %s", event.Type, event.Message)
	case <-time.After(100 * time.Millisecond):
	}
}

func eventTypes(evs []*events.Event) []events.EventType {
	out := make([]events.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

// closedPort returns an address nothing is listening on.
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestNewValidatesDependencies(t *testing.T) {
	monitor := health.NewMonitor()
	det := detector.New(detector.Config{})
	recov := newFakeRecoverer()
	deployer := &fakeDeployer{drv: &fakeDriver{}}

	tests := []struct {
		name    string
		deps    Deps
		wantErr string
	}{
		{
			name:    "missing deployer",
			deps:    Deps{Monitor: monitor, Detector: det, Recovery: recov},
			wantErr: "needs a deployer",
		},
		{
			name:    "missing monitor",
			deps:    Deps{Deployer: deployer, Detector: det, Recovery: recov},
			wantErr: "needs a health monitor",
		},
		{
			name:    "missing detector",
			deps:    Deps{Deployer: deployer, Monitor: monitor, Recovery: recov},
			wantErr: "needs a failure detector",
		},
		{
			name:    "missing recovery",
			deps:    Deps{Deployer: deployer, Monitor: monitor, Detector: det},
			wantErr: "needs a recovery manager",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.deps, Config{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	orch, err := New(Deps{Deployer: deployer, Monitor: monitor, Detector: det, Recovery: recov}, Config{})
	require.NoError(t, err)
	assert.False(t, orch.Running())
}

func TestStartPerformsImmediateHealthCheck(t *testing.T) {
	f := newFixture(t, fixtureOpts{orch: Config{DisablePolling: true}})
	f.source.set(check("database", true), check("cache", true))
	sub := f.broker.Subscribe()

	require.NoError(t, f.orch.Start(context.Background()))
	assert.True(t, f.orch.Running())
	assert.Equal(t, 1, f.source.callCount())

	status := f.orch.Status()
	assert.Equal(t, types.HealthHealthy, status.Overall)
	require.Len(t, status.Components, 2)
	assert.Equal(t, "cache", status.Components[0].Name)
	assert.Equal(t, "database", status.Components[1].Name)
	assert.Equal(t, types.HealthHealthy, status.Components[0].Status)
	assert.Equal(t, 5*time.Millisecond, status.Components[0].ResponseTime)
	assert.Zero(t, status.Components[0].RecoveryAttempts)
	assert.False(t, status.LastCheck.IsZero())
	assert.False(t, status.RecoveryInProgress)

	evs := collectEvents(t, sub, 2)
	assert.Equal(t, []events.EventType{events.EventSystemStatusChanged, events.EventHealthCheckCompleted}, eventTypes(evs))
	assert.Equal(t, "system status is healthy", evs[0].Message)
	assert.Equal(t, "healthy", evs[0].Metadata["overall"])
	assert.Equal(t, "health check completed: 2 of 2 services healthy", evs[1].Message)
	assert.Equal(t, "2", evs[1].Metadata["healthy"])
	assert.Equal(t, "2", evs[1].Metadata["checked"])
	noEvent(t, sub)
}

func TestStartTwiceIsNoOp(t *testing.T) {
	f := newFixture(t, fixtureOpts{orch: Config{DisablePolling: true}})
	f.source.set(check("database", true))

	require.NoError(t, f.orch.Start(context.Background()))
	require.NoError(t, f.orch.Start(context.Background()))
	assert.Equal(t, 1, f.source.callCount())

	f.orch.Stop()
	assert.False(t, f.orch.Running())
	f.orch.Stop()
	assert.False(t, f.orch.Running())
}

func TestStatusEventSuppressedWhenOverallUnchanged(t *testing.T) {
	f := newFixture(t, fixtureOpts{orch: Config{DisablePolling: true}})
	f.source.set(check("database", true))
	sub := f.broker.Subscribe()

	require.NoError(t, f.orch.Start(context.Background()))
	f.orch.pollOnce(context.Background())
	f.orch.pollOnce(context.Background())

	evs := collectEvents(t, sub, 4)
	assert.Equal(t, []events.EventType{
		events.EventSystemStatusChanged,
		events.EventHealthCheckCompleted,
		events.EventHealthCheckCompleted,
		events.EventHealthCheckCompleted,
	}, eventTypes(evs))
	noEvent(t, sub)
}

func TestStatusEventEmittedOnOverallChange(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch:     Config{DisablePolling: true},
		detector: detector.Config{ConsecutiveRequired: 2},
	})
	f.source.set(check("database", true), check("cache", true))
	sub := f.broker.Subscribe()

	require.NoError(t, f.orch.Start(context.Background()))

	f.source.set(check("database", true), check("cache", false))
	f.orch.pollOnce(context.Background())

	evs := collectEvents(t, sub, 4)
	assert.Equal(t, []events.EventType{
		events.EventSystemStatusChanged,
		events.EventHealthCheckCompleted,
		events.EventSystemStatusChanged,
		events.EventHealthCheckCompleted,
	}, eventTypes(evs))
	assert.Equal(t, "healthy", evs[2].Metadata["previous"])
	assert.Equal(t, "degraded", evs[2].Metadata["overall"])

	status := f.orch.Status()
	assert.Equal(t, types.HealthDegraded, status.Overall)
}

func TestPollCycleRecoversAndRefreshesStatus(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch:      Config{DisablePolling: true},
		detector:  detector.Config{ConsecutiveRequired: 1},
		withStore: true,
	})
	f.source.set(check("database", false), check("cache", true))
	f.recov.onAttempt = func(types.FailureType, string) {
		f.source.set(check("database", true), check("cache", true))
	}
	sub := f.broker.Subscribe()

	require.NoError(t, f.orch.Start(context.Background()))

	assert.Equal(t, []recoveryCall{{failureType: types.FailureDatabaseConnection, component: "database"}}, f.recov.recorded())
	assert.Equal(t, 2, f.source.callCount())

	status := f.orch.Status()
	assert.Equal(t, types.HealthHealthy, status.Overall)
	require.Len(t, status.Components, 2)
	assert.Equal(t, 1, status.Components[1].RecoveryAttempts)

	evs := collectEvents(t, sub, 4)
	assert.Equal(t, []events.EventType{
		events.EventSystemStatusChanged,
		events.EventHealthCheckCompleted,
		events.EventFailureDetected,
		events.EventSystemStatusChanged,
	}, eventTypes(evs))
	assert.Equal(t, "detected DATABASE_CONNECTION on component database", evs[2].Message)
	assert.Equal(t, "DATABASE_CONNECTION", evs[2].Metadata["failure_type"])
	assert.Equal(t, "database", evs[2].Metadata["component"])
	assert.Equal(t, "degraded", evs[3].Metadata["previous"])
	assert.Equal(t, "healthy", evs[3].Metadata["overall"])

	attempts, err := f.store.ListRecoveryAttempts("database", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, types.ActionRestartService, attempts[0].Action)
}

func TestIndependentFailuresRecoverIndependently(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch:     Config{DisablePolling: true},
		detector: detector.Config{ConsecutiveRequired: 1},
	})
	f.source.set(check("database", false), check("gateway", false))

	require.NoError(t, f.orch.Start(context.Background()))

	assert.ElementsMatch(t, []recoveryCall{
		{failureType: types.FailureDatabaseConnection, component: "database"},
		{failureType: types.FailureGatewayDown, component: "gateway"},
	}, f.recov.recorded())
}

func TestFailureEventEmittedOncePerEpisode(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch:     Config{DisablePolling: true},
		detector: detector.Config{ConsecutiveRequired: 1},
	})
	f.recov.errs["database"] = errdefs.NewRecovery("all strategies exhausted", nil)
	f.source.set(check("database", false))
	sub := f.broker.Subscribe()

	require.NoError(t, f.orch.Start(context.Background()))
	f.orch.pollOnce(context.Background())

	f.source.set(check("database", true))
	f.orch.pollOnce(context.Background())

	f.source.set(check("database", false))
	f.orch.pollOnce(context.Background())

	// Poll 1: status change, health check, first detection. Poll 2: the
	// same failing episode stays silent. Poll 3: recovery, status back to
	// healthy. Poll 4: the relapse is a new episode.
	evs := collectEvents(t, sub, 9)
	assert.Equal(t, []events.EventType{
		events.EventSystemStatusChanged,
		events.EventHealthCheckCompleted,
		events.EventFailureDetected,
		events.EventHealthCheckCompleted,
		events.EventSystemStatusChanged,
		events.EventHealthCheckCompleted,
		events.EventSystemStatusChanged,
		events.EventHealthCheckCompleted,
		events.EventFailureDetected,
	}, eventTypes(evs))
	assert.Equal(t, 3, f.recov.callCount())
	noEvent(t, sub)
}

func TestConsecutiveFailuresGateRecovery(t *testing.T) {
	f := newFixture(t, fixtureOpts{orch: Config{DisablePolling: true}})
	f.source.set(check("database", false))

	require.NoError(t, f.orch.Start(context.Background()))
	f.orch.pollOnce(context.Background())
	assert.Zero(t, f.recov.callCount())

	f.orch.pollOnce(context.Background())
	assert.Equal(t, 1, f.recov.callCount())
}

func TestRecoveryRefusalIsNotPersisted(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch:      Config{DisablePolling: true},
		detector:  detector.Config{ConsecutiveRequired: 1},
		withStore: true,
	})
	f.recov.errs["database"] = errdefs.NewRecovery("recovery already running", errdefs.ErrRecoveryInProgress)
	f.source.set(check("database", false))

	require.NoError(t, f.orch.Start(context.Background()))

	err := f.orch.AttemptRecovery(context.Background(), types.FailureDatabaseConnection, "database")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrRecoveryInProgress)

	attempts, err := f.store.ListRecoveryAttempts("database", 10)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestManualRecoveryPersistsAttempt(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch:      Config{DisablePolling: true},
		withStore: true,
	})
	f.source.set(check("gateway", true))

	require.NoError(t, f.orch.Start(context.Background()))
	require.NoError(t, f.orch.AttemptRecovery(context.Background(), types.FailureGatewayDown, "gateway"))

	assert.Equal(t, []recoveryCall{{failureType: types.FailureGatewayDown, component: "gateway"}}, f.recov.recorded())
	attempts, err := f.store.ListRecoveryAttempts("gateway", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, types.FailureGatewayDown, attempts[0].FailureType)
	assert.True(t, attempts[0].Success)
}

func TestOperationsRequireRunning(t *testing.T) {
	f := newFixture(t, fixtureOpts{orch: Config{DisablePolling: true}})
	spec := &types.DeploymentSpec{WorkspaceID: "ws1"}

	_, err := f.orch.DeployInfrastructure(context.Background(), spec, types.DeployOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrNotRunning)
	assert.Equal(t, errdefs.CodeNotRunning, errdefs.CodeOf(err))
	assert.Zero(t, f.deployer.callCount())

	err = f.orch.AttemptRecovery(context.Background(), types.FailureGatewayDown, "gateway")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrNotRunning)
	assert.Zero(t, f.recov.callCount())
}

func TestDeployRejectsNilSpec(t *testing.T) {
	f := newFixture(t, fixtureOpts{orch: Config{DisablePolling: true}})
	require.NoError(t, f.orch.Start(context.Background()))

	_, err := f.orch.DeployInfrastructure(context.Background(), nil, types.DeployOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
	assert.Zero(t, f.deployer.callCount())
}

func TestDeployDeniedByQuota(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch: Config{DisablePolling: true},
		budget: &budget.Config{
			Enabled: true,
			Default: types.BudgetConfig{Enabled: true, MonthlyLimit: 100, AlertThreshold: 0.8},
		},
	})
	require.NoError(t, f.orch.Start(context.Background()))

	spec := &types.DeploymentSpec{
		WorkspaceID: "ws1",
		Components: []types.ComponentSpec{
			{Name: "inference", Type: types.ComponentInferenceRuntime, Enabled: true},
		},
	}
	_, err := f.orch.DeployInfrastructure(context.Background(), spec, types.DeployOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.Equal(t, errdefs.CodeQuotaExceeded, errdefs.CodeOf(err))
	assert.Contains(t, err.Error(), "exceeds the remaining budget")
	assert.Zero(t, f.deployer.callCount())
}

func TestDeploySuccessRecordsSpendPersistsAndWatches(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch: Config{DisablePolling: true},
		budget: &budget.Config{
			Enabled: true,
			Default: types.BudgetConfig{Enabled: true, MonthlyLimit: 1000, AlertThreshold: 0.8},
		},
	})
	require.NoError(t, f.orch.Start(context.Background()))

	dbAddr := closedPort(t)
	gwAddr := closedPort(t)
	f.deployer.result = &types.DeploymentResult{
		ID:          "dep-1",
		WorkspaceID: "ws1",
		Success:     true,
		Components: []types.ComponentResult{
			{Name: "database", Type: types.ComponentDatabase, Status: types.ComponentStatusSuccess, Endpoint: dbAddr},
			{Name: "gateway", Type: types.ComponentGateway, Status: types.ComponentStatusSuccess, Endpoint: gwAddr},
			{Name: "cache", Type: types.ComponentCache, Status: types.ComponentStatusFailed},
		},
	}
	f.deployer.drv.checks = []types.HealthCheckResult{
		check("database", true),
		check("gateway", true),
	}

	spec := &types.DeploymentSpec{
		WorkspaceID: "ws1",
		Components: []types.ComponentSpec{
			{Name: "database", Type: types.ComponentDatabase, Enabled: true},
			{Name: "gateway", Type: types.ComponentGateway, Enabled: true},
		},
	}
	result, err := f.orch.DeployInfrastructure(context.Background(), spec, types.DeployOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.deployer.callCount())

	stored, err := f.store.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, "ws1", stored.WorkspaceID)

	decision := f.orch.CheckQuota("ws1", 0)
	assert.Equal(t, 50.0, decision.CurrentSpend)

	// The monitor now reads the deployment's driver and probes the
	// component endpoints. Nothing listens on either port, so the probes
	// downgrade both services.
	report := f.monitor.CheckSystemHealth(context.Background())
	require.Len(t, report.Checks, 2)
	assert.Equal(t, types.HealthUnhealthy, report.Status)
	for _, c := range report.Checks {
		assert.False(t, c.Healthy)
		assert.Contains(t, c.Message, "endpoint probe failed")
	}
}

func TestDeployFailureIsPersistedWithoutSpendOrWatch(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch: Config{DisablePolling: true},
		budget: &budget.Config{
			Enabled: true,
			Default: types.BudgetConfig{Enabled: true, MonthlyLimit: 1000, AlertThreshold: 0.8},
		},
	})
	require.NoError(t, f.orch.Start(context.Background()))

	f.deployer.result = &types.DeploymentResult{
		ID:          "dep-2",
		WorkspaceID: "ws1",
		Success:     false,
	}
	f.deployer.err = errdefs.NewDeployment("database deploy failed", nil)
	f.deployer.drv.checks = []types.HealthCheckResult{check("database", true)}

	spec := &types.DeploymentSpec{
		WorkspaceID: "ws1",
		Components: []types.ComponentSpec{
			{Name: "database", Type: types.ComponentDatabase, Enabled: true},
		},
	}
	result, err := f.orch.DeployInfrastructure(context.Background(), spec, types.DeployOptions{})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)

	stored, storeErr := f.store.GetDeployment("dep-2")
	require.NoError(t, storeErr)
	assert.False(t, stored.Success)

	decision := f.orch.CheckQuota("ws1", 0)
	assert.Zero(t, decision.CurrentSpend)

	// The monitor still reads the original source, not the failed
	// deployment's driver.
	report := f.monitor.CheckSystemHealth(context.Background())
	assert.Empty(t, report.Checks)
	assert.Equal(t, 2, f.source.callCount())
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch:     Config{PollInterval: 20 * time.Millisecond},
		detector: detector.Config{ConsecutiveRequired: 1},
	})
	f.source.set(check("database", true))
	f.recov.entered = make(chan struct{}, 1)
	f.recov.release = make(chan struct{})

	require.NoError(t, f.orch.Start(context.Background()))

	f.source.set(check("database", false))
	select {
	case <-f.recov.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the poll loop to start recovery")
	}

	stopDone := make(chan struct{})
	go func() {
		f.orch.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while a recovery was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.recov.release)
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the in-flight cycle finished")
	}
	assert.False(t, f.orch.Running())
	assert.Equal(t, 1, f.recov.callCount())

	polls := f.source.callCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, polls, f.source.callCount())
}

func TestQuotaFailsOpenWithoutTracker(t *testing.T) {
	f := newFixture(t, fixtureOpts{orch: Config{DisablePolling: true}})

	decision := f.orch.CheckQuota("ws1", 1e9)
	assert.True(t, decision.Allowed)
	assert.Equal(t, budget.Unlimited(), decision)

	assert.Equal(t, types.BudgetConfig{}, f.orch.Budget("ws1"))

	err := f.orch.SetBudget("ws1", types.BudgetConfig{Enabled: true, MonthlyLimit: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cost tracking is disabled")
}

func TestSetBudgetDelegatesToTracker(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		orch:   Config{DisablePolling: true},
		budget: &budget.Config{Enabled: true},
	})

	cfg := types.BudgetConfig{Enabled: true, MonthlyLimit: 250, AlertThreshold: 0.5}
	require.NoError(t, f.orch.SetBudget("ws1", cfg))
	assert.Equal(t, cfg, f.orch.Budget("ws1"))

	decision := f.orch.CheckQuota("ws1", 200)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 250.0, decision.BudgetLimit)
}

func TestRecoveryInProgressFlagTracksManager(t *testing.T) {
	f := newFixture(t, fixtureOpts{orch: Config{DisablePolling: true}})
	f.source.set(check("database", true))
	f.recov.busy = true

	require.NoError(t, f.orch.Start(context.Background()))
	assert.True(t, f.orch.Status().RecoveryInProgress)
}

func TestStatusReturnsIndependentCopy(t *testing.T) {
	f := newFixture(t, fixtureOpts{orch: Config{DisablePolling: true}})
	f.source.set(check("database", true))

	require.NoError(t, f.orch.Start(context.Background()))

	first := f.orch.Status()
	require.Len(t, first.Components, 1)
	first.Components[0].Name = "mutated"

	second := f.orch.Status()
	assert.Equal(t, "database", second.Components[0].Name)
}
