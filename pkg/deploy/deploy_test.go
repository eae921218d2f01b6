package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocoloco/Mobius1-sub000/pkg/driver"
	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type deployRecord struct {
	spec *types.DeploymentSpec
	opts types.DeployOptions
}

// fakeDriver answers deploys from scripted per-component outcomes.
type fakeDriver struct {
	mu          sync.Mutex
	initialized *types.DeploymentSpec
	deploys     []deployRecord
	cleanups    int
	initErr     error
	failNames   map[string]bool
}

func (f *fakeDriver) Initialize(ctx context.Context, spec *types.DeploymentSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	f.initialized = spec
	return nil
}

func (f *fakeDriver) Deploy(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error) {
	f.mu.Lock()
	f.deploys = append(f.deploys, deployRecord{spec: spec, opts: opts})
	n := len(f.deploys)
	fail := f.failNames
	f.mu.Unlock()

	result := &types.DeploymentResult{
		ID:          fmt.Sprintf("run-%d", n),
		WorkspaceID: spec.WorkspaceID,
		StartedAt:   time.Now(),
		Success:     true,
	}
	for _, comp := range spec.Components {
		if !comp.Enabled {
			continue
		}
		if fail[comp.Name] {
			result.Success = false
			result.Components = append(result.Components, types.ComponentResult{
				Name: comp.Name, Type: comp.Type, Status: types.ComponentStatusFailed,
				StartedAt: time.Now(), Error: "service entered failed state",
			})
			result.Errors = append(result.Errors, types.DeploymentError{
				Component: comp.Name, Code: errdefs.CodeServiceFailed,
				Message: "service entered failed state", Recoverable: true,
			})
			continue
		}
		result.Components = append(result.Components, types.ComponentResult{
			Name: comp.Name, Type: comp.Type, Status: types.ComponentStatusSuccess,
			ServiceID: "svc-" + comp.Name, StartedAt: time.Now(),
		})
	}
	result.CompletedAt = time.Now()
	return result, nil
}

func (f *fakeDriver) GetStatus(ctx context.Context, component string) (types.ServiceStatus, error) {
	return types.StatusReady, nil
}

func (f *fakeDriver) HealthCheck(ctx context.Context) ([]types.HealthCheckResult, error) {
	return nil, nil
}

func (f *fakeDriver) Scale(ctx context.Context, component string, replicas int) error { return nil }
func (f *fakeDriver) Restart(ctx context.Context, component string) error            { return nil }

func (f *fakeDriver) Logs(ctx context.Context, component string, tail int) (string, error) {
	return "", nil
}

func (f *fakeDriver) Cleanup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

func (f *fakeDriver) deployedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, rec := range f.deploys {
		for _, comp := range rec.spec.Components {
			names = append(names, comp.Name)
		}
	}
	return names
}

func newTestManager(drv driver.Driver, broker *events.Broker) *Manager {
	reg := driver.NewRegistry()
	reg.Register("fake", func(cfg driver.Config) (driver.Driver, error) { return drv, nil })
	return New(reg, broker, Config{BackendType: "fake"})
}

func baseSpec(extra ...types.ComponentSpec) *types.DeploymentSpec {
	spec := &types.DeploymentSpec{
		WorkspaceID: "ws1",
		Environment: types.EnvironmentTest,
		Components: []types.ComponentSpec{
			{Name: "database", Type: types.ComponentDatabase, Enabled: true},
			{Name: "cache", Type: types.ComponentCache, Enabled: true},
		},
		Resources: types.ResourceSpec{
			CPURequest:    "500m",
			CPULimit:      "2",
			MemoryRequest: "1Gi",
			MemoryLimit:   "2Gi",
			StorageSize:   "10Gi",
		},
	}
	spec.Components = append(spec.Components, extra...)
	return spec
}

func TestDeployValidatesBeforeTouchingBackend(t *testing.T) {
	drv := &fakeDriver{}
	m := newTestManager(drv, nil)

	spec := baseSpec()
	spec.Components = spec.Components[:1] // drop cache, now invalid

	_, err := m.Deploy(context.Background(), spec, types.DeployOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
	assert.Nil(t, drv.initialized, "an invalid spec must never reach the driver")
	assert.Empty(t, drv.deploys)
}

func TestDeployDelegatesWholeSpecToDriver(t *testing.T) {
	drv := &fakeDriver{}
	m := newTestManager(drv, nil)
	spec := baseSpec()

	result, err := m.Deploy(context.Background(), spec, types.DeployOptions{IdempotencyKey: "key-1"})
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, drv.deploys, 1, "the driver path hands the driver the full spec once")
	assert.Len(t, drv.deploys[0].spec.Components, 2)
	assert.Equal(t, "key-1", drv.deploys[0].opts.IdempotencyKey)
	assert.Equal(t, spec, drv.initialized)
	assert.Equal(t, drv, m.Driver())
}

func TestDeployUnknownBackendType(t *testing.T) {
	m := New(driver.NewRegistry(), nil, Config{BackendType: "nope"})

	_, err := m.Deploy(context.Background(), baseSpec(), types.DeployOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.Contains(t, err.Error(), "nope")
}

func TestDeployInitializeFailureStopsRun(t *testing.T) {
	drv := &fakeDriver{initErr: errdefs.NewConfiguration("backend unreachable", nil)}
	m := newTestManager(drv, nil)

	_, err := m.Deploy(context.Background(), baseSpec(), types.DeployOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.Empty(t, drv.deploys)
}

func TestDeploySLAOverrunFlagsNotFails(t *testing.T) {
	orig := deploySLA
	deploySLA = time.Nanosecond
	defer func() { deploySLA = orig }()

	m := newTestManager(&fakeDriver{}, nil)

	result, err := m.Deploy(context.Background(), baseSpec(), types.DeployOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success, "an SLA overrun must not fail the deployment")
	assert.True(t, result.SLAExceeded)

	var found bool
	for _, derr := range result.Errors {
		if derr.Code == errdefs.CodeSLAExceeded {
			found = true
			assert.True(t, derr.Recoverable)
		}
	}
	assert.True(t, found, "overrun appends a warning-class error")
}

func TestSpecAndResultReadersGetCopies(t *testing.T) {
	m := newTestManager(&fakeDriver{}, nil)
	_, err := m.Deploy(context.Background(), baseSpec(), types.DeployOptions{})
	require.NoError(t, err)

	specCopy := m.Spec()
	require.NotNil(t, specCopy)
	specCopy.Components[0].Name = "tampered"
	specCopy.Components[0].Config = map[string]string{"x": "y"}
	assert.Equal(t, "database", m.Spec().Components[0].Name)

	resultCopy := m.LastResult()
	require.NotNil(t, resultCopy)
	resultCopy.Components[0].Status = types.ComponentStatusFailed
	assert.Equal(t, types.ComponentStatusSuccess, m.LastResult().Components[0].Status)
}

func TestDeployDirectSerialDependencyOrder(t *testing.T) {
	drv := &fakeDriver{}
	m := newTestManager(drv, nil)
	spec := baseSpec(
		types.ComponentSpec{Name: "vectors", Type: types.ComponentVectorStore, Enabled: true, DependsOn: []string{"database"}},
		types.ComponentSpec{Name: "gateway", Type: types.ComponentGateway, Enabled: true, DependsOn: []string{"vectors"}},
	)

	result, err := m.DeployDirect(context.Background(), spec, types.DeployOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)

	names := drv.deployedNames()
	require.Equal(t, []string{"cache", "database", "vectors", "gateway"}, names,
		"dependencies deploy strictly before dependents, serially")
	for _, rec := range drv.deploys {
		require.Len(t, rec.spec.Components, 1, "the direct path deploys one component per driver call")
		assert.Empty(t, rec.spec.Components[0].DependsOn)
	}
}

func TestDeployDirectCriticalFailureHaltsSequence(t *testing.T) {
	drv := &fakeDriver{failNames: map[string]bool{"database": true}}
	m := newTestManager(drv, nil)
	spec := baseSpec(
		types.ComponentSpec{Name: "vectors", Type: types.ComponentVectorStore, Enabled: true, DependsOn: []string{"database"}},
		types.ComponentSpec{Name: "gateway", Type: types.ComponentGateway, Enabled: true, DependsOn: []string{"vectors"}},
	)

	result, err := m.DeployDirect(context.Background(), spec, types.DeployOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)

	assert.Equal(t, []string{"cache", "database"}, drv.deployedNames(),
		"nothing after the failed critical component may deploy")

	byName := make(map[string]types.ComponentResult)
	for _, comp := range result.Components {
		byName[comp.Name] = comp
	}
	assert.Equal(t, types.ComponentStatusSuccess, byName["cache"].Status)
	assert.Equal(t, types.ComponentStatusFailed, byName["database"].Status)
	assert.Equal(t, types.ComponentStatusSkipped, byName["vectors"].Status)
	assert.Contains(t, byName["vectors"].Error, "halted after critical component failure")
	assert.Equal(t, types.ComponentStatusSkipped, byName["gateway"].Status)
}

func TestDeployDirectNonCriticalSkipsOnlyDependents(t *testing.T) {
	drv := &fakeDriver{failNames: map[string]bool{"vectors": true}}
	m := newTestManager(drv, nil)
	spec := baseSpec(
		types.ComponentSpec{Name: "vectors", Type: types.ComponentVectorStore, Enabled: true, DependsOn: []string{"database"}},
		types.ComponentSpec{Name: "gateway", Type: types.ComponentGateway, Enabled: true, DependsOn: []string{"vectors"}},
		types.ComponentSpec{Name: "inference", Type: types.ComponentInferenceRuntime, Enabled: true, Config: map[string]string{"model": "llama3.1:8b"}, DependsOn: []string{"database"}},
	)

	result, err := m.DeployDirect(context.Background(), spec, types.DeployOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)

	assert.Equal(t, []string{"cache", "database", "inference", "vectors"}, drv.deployedNames(),
		"siblings off the failed path still deploy")

	byName := make(map[string]types.ComponentResult)
	for _, comp := range result.Components {
		byName[comp.Name] = comp
	}
	assert.Equal(t, types.ComponentStatusSuccess, byName["inference"].Status)
	assert.Equal(t, types.ComponentStatusSkipped, byName["gateway"].Status)
	assert.Contains(t, byName["gateway"].Error, `dependency "vectors" did not deploy`)

	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "vectors", result.Errors[0].Component)
}

func TestDeployDirectHookRejectsBeforeDriverCall(t *testing.T) {
	drv := &fakeDriver{}
	m := newTestManager(drv, nil)
	spec := baseSpec()
	spec.Component("cache").Config = map[string]string{"replicas": "3"}

	result, err := m.DeployDirect(context.Background(), spec, types.DeployOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)

	assert.Empty(t, drv.deploys,
		"cache deploys first and its hook failure is critical, so the driver is never called")

	byName := make(map[string]types.ComponentResult)
	for _, comp := range result.Components {
		byName[comp.Name] = comp
	}
	assert.Equal(t, types.ComponentStatusFailed, byName["cache"].Status)
	assert.Contains(t, byName["cache"].Error, "single-node cache")
	assert.Equal(t, types.ComponentStatusSkipped, byName["database"].Status)
}

func TestDeployDirectProductionHooks(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(spec *types.DeploymentSpec)
		component string
		wantErr   string
	}{
		{
			name:      "database must pin version",
			mutate:    func(spec *types.DeploymentSpec) {},
			component: "database",
			wantErr:   "pin a database version",
		},
		{
			name: "gateway must carry domain",
			mutate: func(spec *types.DeploymentSpec) {
				spec.Component("database").Config = map[string]string{"version": "16"}
				spec.Components = append(spec.Components, types.ComponentSpec{
					Name: "gateway", Type: types.ComponentGateway, Enabled: true,
				})
			},
			component: "gateway",
			wantErr:   "needs a domain in production",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := baseSpec()
			spec.Environment = types.EnvironmentProduction
			tt.mutate(spec)

			m := newTestManager(&fakeDriver{}, nil)
			result, err := m.DeployDirect(context.Background(), spec, types.DeployOptions{})
			require.NoError(t, err)
			assert.False(t, result.Success)

			var found bool
			for _, derr := range result.Errors {
				if derr.Component == tt.component {
					found = true
					assert.Contains(t, derr.Message, tt.wantErr)
					assert.Equal(t, errdefs.CodeConfiguration, derr.Code)
				}
			}
			assert.True(t, found, "expected a %s error for %s", tt.wantErr, tt.component)
		})
	}
}

func TestDeployDirectRollbackCleansUpRun(t *testing.T) {
	drv := &fakeDriver{failNames: map[string]bool{"cache": true}}
	m := newTestManager(drv, nil)

	result, err := m.DeployDirect(context.Background(), baseSpec(), types.DeployOptions{RollbackOnFailure: true})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, drv.cleanups, "rollback removes the run's services")
}

func TestDeployDirectPassesOptionsThrough(t *testing.T) {
	drv := &fakeDriver{}
	m := newTestManager(drv, nil)

	_, err := m.DeployDirect(context.Background(), baseSpec(), types.DeployOptions{
		IdempotencyKey:   "key-9",
		MaxAttempts:      2,
		ReadinessTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	for _, rec := range drv.deploys {
		assert.Equal(t, "key-9", rec.opts.IdempotencyKey)
		assert.Equal(t, 2, rec.opts.MaxAttempts)
		assert.Equal(t, 5*time.Second, rec.opts.ReadinessTimeout)
		assert.False(t, rec.opts.RollbackOnFailure,
			"per-component rollback stays off; the run rolls back as a whole")
	}
}

func TestDeployDirectRejectsDependencyCycle(t *testing.T) {
	m := newTestManager(&fakeDriver{}, nil)
	spec := baseSpec()
	spec.Component("database").DependsOn = []string{"cache"}
	spec.Component("cache").DependsOn = []string{"database"}

	_, err := m.DeployDirect(context.Background(), spec, types.DeployOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}

func TestDeployEventsBracketBothPaths(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	m := newTestManager(&fakeDriver{}, broker)

	_, err := m.Deploy(context.Background(), baseSpec(), types.DeployOptions{})
	require.NoError(t, err)

	started := nextEvent(t, sub)
	assert.Equal(t, events.EventDeploymentStarted, started.Type)
	assert.Equal(t, "driver", started.Metadata["path"])
	assert.Equal(t, "ws1", started.Metadata["workspace_id"])

	completed := nextEvent(t, sub)
	assert.Equal(t, events.EventDeploymentCompleted, completed.Type)
	assert.Equal(t, "true", completed.Metadata["success"])
	assert.NotEmpty(t, completed.Metadata["deployment_id"])

	_, err = m.DeployDirect(context.Background(), baseSpec(), types.DeployOptions{})
	require.NoError(t, err)

	started = nextEvent(t, sub)
	assert.Equal(t, "direct", started.Metadata["path"])
	completed = nextEvent(t, sub)
	assert.Equal(t, events.EventDeploymentCompleted, completed.Type)
	assert.Equal(t, "true", completed.Metadata["success"])
}

func nextEvent(t *testing.T, sub events.Subscriber) *events.Event {
	t.Helper()
	select {
	case evt := <-sub:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
