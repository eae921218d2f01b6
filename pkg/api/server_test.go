package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/storage"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type recoverCall struct {
	failureType types.FailureType
	component   string
}

// fakeControl scripts the control-plane surface the handlers wrap.
type fakeControl struct {
	mu           sync.Mutex
	running      bool
	status       types.SystemStatus
	deployResult *types.DeploymentResult
	deployErr    error
	deploySpec   *types.DeploymentSpec
	recoverErr   error
	recovered    []recoverCall
	budgets      map[string]types.BudgetConfig
	setErr       error
	quota        types.QuotaDecision
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		running: true,
		status:  types.SystemStatus{Overall: types.HealthHealthy},
		budgets: make(map[string]types.BudgetConfig),
		quota:   types.QuotaDecision{Allowed: true},
	}
}

func (f *fakeControl) DeployInfrastructure(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deploySpec = spec
	return f.deployResult, f.deployErr
}

func (f *fakeControl) AttemptRecovery(ctx context.Context, failureType types.FailureType, component string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, recoverCall{failureType: failureType, component: component})
	return f.recoverErr
}

func (f *fakeControl) Status() types.SystemStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeControl) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeControl) Budget(workspaceID string) types.BudgetConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.budgets[workspaceID]
}

func (f *fakeControl) SetBudget(workspaceID string, cfg types.BudgetConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.budgets[workspaceID] = cfg
	return nil
}

func (f *fakeControl) CheckQuota(workspaceID string, estimatedCost float64) types.QuotaDecision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quota
}

func (f *fakeControl) recoverCalls() []recoverCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recoverCall, len(f.recovered))
	copy(out, f.recovered)
	return out
}

// fakeStore is a map-backed storage.Store.
type fakeStore struct {
	mu            sync.Mutex
	deployments   map[string]*types.DeploymentResult
	attempts      []types.RecoveryAttemptResult
	lastWorkspace string
	lastComponent string
	lastLimit     int
	auditErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{deployments: make(map[string]*types.DeploymentResult)}
}

func (f *fakeStore) SaveDeployment(result *types.DeploymentResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[result.ID] = result
	return nil
}

func (f *fakeStore) GetDeployment(id string) (*types.DeploymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.deployments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

func (f *fakeStore) ListDeployments(workspaceID string) ([]*types.DeploymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWorkspace = workspaceID
	var out []*types.DeploymentResult
	for _, result := range f.deployments {
		if workspaceID != "" && result.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, result)
	}
	return out, nil
}

func (f *fakeStore) LatestDeployment(workspaceID string) (*types.DeploymentResult, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeStore) AppendAuditEvent(event *events.Event) error { return nil }

func (f *fakeStore) ListAuditEvents(since time.Time, limit int) ([]*events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nil, f.auditErr
}

func (f *fakeStore) SaveRecoveryAttempt(attempt types.RecoveryAttemptResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeStore) ListRecoveryAttempts(component string, limit int) ([]types.RecoveryAttemptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastComponent = component
	f.lastLimit = limit
	out := make([]types.RecoveryAttemptResult, len(f.attempts))
	copy(out, f.attempts)
	return out, nil
}

func (f *fakeStore) SaveBudgetConfig(workspaceID string, cfg types.BudgetConfig) error { return nil }

func (f *fakeStore) GetBudgetConfig(workspaceID string) (*types.BudgetConfig, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeStore) AddSpend(workspaceID, month string, amount float64) (float64, error) {
	return amount, nil
}

func (f *fakeStore) GetSpend(workspaceID, month string) (float64, error) { return 0, nil }

func (f *fakeStore) Close() error { return nil }

// fakeAudit records Query arguments and returns a scripted trail.
type fakeAudit struct {
	mu     sync.Mutex
	events []*events.Event
	since  time.Time
	limit  int
	err    error
}

func (f *fakeAudit) Query(since time.Time, limit int) ([]*events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	f.limit = limit
	return f.events, f.err
}

// harness bundles a server with its scripted collaborators.
type harness struct {
	server  *Server
	control *fakeControl
	store   *fakeStore
	audit   *fakeAudit
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		control: newFakeControl(),
		store:   newFakeStore(),
		audit:   &fakeAudit{},
	}
	server, err := New(Deps{
		Control: h.control,
		Store:   h.store,
		Audit:   h.audit,
	}, cfg)
	require.NoError(t, err)
	h.server = server
	return h
}

// do runs one request through the router without a listener.
func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestNewRequiresControlPlane(t *testing.T) {
	_, err := New(Deps{}, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control plane")
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, Config{BindAddress: "127.0.0.1:0"})

	require.NoError(t, h.server.Start())
	addr := h.server.Addr()
	require.NotEmpty(t, addr)

	// Second start is a no-op and keeps the address.
	require.NoError(t, h.server.Start())
	assert.Equal(t, addr, h.server.Addr())

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.server.Stop(ctx))
	require.NoError(t, h.server.Stop(ctx))
}

func TestStartRejectsBadAddress(t *testing.T) {
	h := newHarness(t, Config{BindAddress: "256.0.0.1:bad"})
	err := h.server.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
