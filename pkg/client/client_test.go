package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Token: "test-token"})
	require.NoError(t, err)
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, kind, code, msg, hint string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"kind":    kind,
			"code":    code,
			"message": msg,
			"hint":    hint,
		},
	})
}

func TestNewValidatesBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "valid url", baseURL: "http://127.0.0.1:8080", wantErr: false},
		{name: "empty url", baseURL: "", wantErr: true},
		{name: "missing scheme", baseURL: "127.0.0.1:8080", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{BaseURL: tt.baseURL})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errdefs.IsConfiguration(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequestsCarryBearerToken(t *testing.T) {
	var gotAuth, gotAccept string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		json.NewEncoder(w).Encode(types.SystemStatus{Overall: types.HealthHealthy})
	}))

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, types.HealthHealthy, status.Overall)
}

func TestCreateDeploymentDecodesResult(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/deployments", r.URL.Path)

		var req struct {
			Spec    *types.DeploymentSpec `json:"spec"`
			Options types.DeployOptions   `json:"options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ws-1", req.Spec.WorkspaceID)
		assert.Equal(t, 3, req.Options.MaxAttempts)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(types.DeploymentResult{ID: "dep-1", WorkspaceID: req.Spec.WorkspaceID, Success: true})
	}))

	result, err := c.CreateDeployment(context.Background(),
		&types.DeploymentSpec{WorkspaceID: "ws-1", Environment: types.EnvironmentProduction},
		types.DeployOptions{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, "dep-1", result.ID)
	assert.True(t, result.Success)
}

func TestCreateDeploymentCarriesPartialResult(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"kind":    "deployment",
				"code":    errdefs.CodeDeployFailed,
				"message": "deployment failed for 1 component",
			},
			"result": types.DeploymentResult{
				ID:      "dep-2",
				Success: false,
				Components: []types.ComponentResult{
					{Name: "postgres", Status: types.ComponentStatusFailed},
				},
			},
		})
	}))

	result, err := c.CreateDeployment(context.Background(), &types.DeploymentSpec{WorkspaceID: "ws-1"}, types.DeployOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsDeployment(err))
	assert.Equal(t, errdefs.CodeDeployFailed, errdefs.CodeOf(err))
	assert.True(t, errdefs.IsRetryable(err))
	require.NotNil(t, result)
	assert.Equal(t, "dep-2", result.ID)
	require.Len(t, result.Components, 1)
	assert.Equal(t, types.ComponentStatusFailed, result.Components[0].Status)
}

func TestQuotaDenialIsPermanent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusForbidden, "validation", errdefs.CodeQuotaExceeded,
			"deployment would exceed the monthly budget", "raise the budget or wait for the next cycle")
	}))

	result, err := c.CreateDeployment(context.Background(), &types.DeploymentSpec{WorkspaceID: "ws-1"}, types.DeployOptions{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errdefs.IsValidation(err))
	assert.Equal(t, errdefs.CodeQuotaExceeded, errdefs.CodeOf(err))
	assert.Equal(t, "raise the budget or wait for the next cycle", errdefs.HintOf(err))
	assert.False(t, errdefs.IsRetryable(err))
}

func TestGetDeploymentNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, "", errdefs.CodeNotFound, "deployment dep-9 not found", "")
	}))

	_, err := c.GetDeployment(context.Background(), "dep-9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errdefs.IsRetryable(err))
}

func TestListDeploymentsSendsWorkspace(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/deployments", r.URL.Path)
		assert.Equal(t, "ws-1", r.URL.Query().Get("workspace"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"deployments": []types.DeploymentResult{{ID: "dep-1"}, {ID: "dep-2"}},
			"count":       2,
		})
	}))

	list, err := c.ListDeployments(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dep-1", list[0].ID)
}

func TestTriggerRecoveryPostsBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/recovery", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "DATABASE_CONNECTION", body["failure_type"])
		assert.Equal(t, "postgres", body["component"])

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))

	err := c.TriggerRecovery(context.Background(), types.FailureDatabaseConnection, "postgres")
	require.NoError(t, err)
}

func TestRecoveryRefusalsRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   string
		code   string
		check  func(error) bool
	}{
		{
			name: "in flight", status: http.StatusConflict,
			kind: "recovery", code: errdefs.CodeRecoveryInFlight,
			check: errdefs.IsRecovery,
		},
		{
			name: "cooldown", status: http.StatusTooManyRequests,
			kind: "recovery", code: errdefs.CodeCooldownActive,
			check: errdefs.IsRecovery,
		},
		{
			name: "not running", status: http.StatusServiceUnavailable,
			kind: "configuration", code: errdefs.CodeNotRunning,
			check: errdefs.IsConfiguration,
		},
		{
			name: "circuit open", status: http.StatusServiceUnavailable,
			kind: "circuit-open", code: errdefs.CodeCircuitOpen,
			check: errdefs.IsCircuitOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, tt.kind, tt.code, "refused", "")
			}))

			err := c.TriggerRecovery(context.Background(), types.FailureGatewayDown, "gateway")
			require.Error(t, err)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.code, errdefs.CodeOf(err))
			assert.False(t, errdefs.IsRetryable(err))
		})
	}
}

func TestRecoveryHistoryQuery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/recovery/history", r.URL.Path)
		assert.Equal(t, "redis", r.URL.Query().Get("component"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"attempts": []types.RecoveryAttemptResult{
				{FailureType: types.FailureRedisConnection, Component: "redis", Success: true},
			},
			"count": 1,
		})
	}))

	attempts, err := c.RecoveryHistory(context.Background(), "redis", 5)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
}

func TestBudgetRoundTrip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ws-1", body["workspace_id"])
			assert.Equal(t, 500.0, body["monthly_limit"])
			json.NewEncoder(w).Encode(map[string]interface{}{
				"workspace_id": "ws-1",
				"config":       types.BudgetConfig{Enabled: true, MonthlyLimit: 500, AlertThreshold: 0.8},
			})
		case http.MethodGet:
			assert.Equal(t, "ws-1", r.URL.Query().Get("workspace"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"workspace_id": "ws-1",
				"config":       types.BudgetConfig{Enabled: true, MonthlyLimit: 500, AlertThreshold: 0.8},
				"quota":        types.QuotaDecision{Allowed: true, Remaining: 380.5},
			})
		}
	}))

	ctx := context.Background()
	stored, err := c.SetBudget(ctx, "ws-1", types.BudgetConfig{Enabled: true, MonthlyLimit: 500, AlertThreshold: 0.8})
	require.NoError(t, err)
	assert.Equal(t, 500.0, stored.MonthlyLimit)

	status, err := c.Budget(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", status.WorkspaceID)
	assert.True(t, status.Quota.Allowed)
	assert.Equal(t, 380.5, status.Quota.Remaining)
}

func TestEventsQuery(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("since"))
		assert.Equal(t, "7", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"events": []map[string]string{
				{"id": "evt-1", "type": "deployment-started", "message": "deployment started"},
				{"id": "evt-2", "type": "deployment-completed", "message": "deployment completed"},
			},
			"count": 2,
		})
	}))

	list, err := c.Events(context.Background(), since, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "evt-1", list[0].ID)
}

func TestPlainTextErrorBodiesAreRedacted(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("connect postgres://app:hunter2@db:5432 failed"))
	}))

	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Contains(t, err.Error(), "[REDACTED]")
}

func TestUnauthorizedClassifiesWithoutKind(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, "", "UNAUTHORIZED",
			"missing or invalid bearer token", "pass the API token as a bearer Authorization header")
	}))

	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.Equal(t, "UNAUTHORIZED", errdefs.CodeOf(err))
	assert.False(t, errdefs.IsRetryable(err))
}

func TestControlPlaneUnreachable(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1", Token: "t"})
	require.NoError(t, err)

	_, err = c.Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeBackendUnreachable, errdefs.CodeOf(err))
	assert.True(t, errdefs.IsRetryable(err))
	assert.Equal(t, unreachableHint, errdefs.HintOf(err))
}

func TestHealthDecodes(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		json.NewEncoder(w).Encode(Health{Status: "healthy", Timestamp: time.Now(), Version: "1.2.3"})
	}))

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "1.2.3", h.Version)
}

func TestNotReadyIsAnAnswer(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readyz", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(Readiness{
			Status:  "not ready",
			Checks:  map[string]string{"orchestrator": "stopped"},
			Message: "orchestrator is not running",
		})
	}))

	r, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Ready())
	assert.Equal(t, "stopped", r.Checks["orchestrator"])
	assert.Equal(t, "orchestrator is not running", r.Message)
}
