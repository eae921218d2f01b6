package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

const apiPrefix = "/api/v1"

const unreachableHint = "check that mobius is running and the base URL is correct"

// ErrNotFound is an error template matching 404 responses. Compare with
// errors.Is.
var ErrNotFound = &errdefs.Error{Kind: errdefs.KindValidation, Code: errdefs.CodeNotFound}

// Config holds control-plane client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration // per-request ceiling, default 30s
}

// Client is an HTTP client for the mobius control-plane REST API. Every
// request carries the bearer token; error responses are rebuilt into
// the same classified errors in-process callers see, so remote code
// branches on errdefs kinds and codes rather than HTTP statuses.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  zerolog.Logger
}

// New creates a control-plane client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errdefs.NewConfiguration("control plane base URL is required", nil)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errdefs.NewConfiguration(fmt.Sprintf("invalid control plane base URL %q", cfg.BaseURL), err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: timeout},
		logger:  log.WithComponent("client"),
	}, nil
}

// CreateDeployment submits a deployment spec and waits for the outcome.
// On failure the partial result rides back alongside the error when the
// control plane got far enough to produce one, so callers can inspect
// per-component outcomes and rollback state.
func (c *Client) CreateDeployment(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error) {
	body := struct {
		Spec    *types.DeploymentSpec `json:"spec"`
		Options types.DeployOptions   `json:"options"`
	}{Spec: spec, Options: opts}

	path := apiPrefix + "/deployments"
	resp, err := c.send(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		var result types.DeploymentResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, errdefs.NewDeployment("decode response body", err)
		}
		return &result, nil
	}

	apiErr, partial := c.apiError(resp, http.MethodPost, path)
	return partial, apiErr
}

// GetDeployment fetches one deployment record. Unknown IDs match
// ErrNotFound.
func (c *Client) GetDeployment(ctx context.Context, id string) (*types.DeploymentResult, error) {
	var result types.DeploymentResult
	if err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListDeployments returns deployment history, newest first. An empty
// workspace returns every workspace.
func (c *Client) ListDeployments(ctx context.Context, workspace string) ([]*types.DeploymentResult, error) {
	path := "/deployments"
	if workspace != "" {
		path += "?workspace=" + url.QueryEscape(workspace)
	}
	var out struct {
		Deployments []*types.DeploymentResult `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Deployments, nil
}

// Status returns the orchestrator's view of system health.
func (c *Client) Status(ctx context.Context) (*types.SystemStatus, error) {
	var status types.SystemStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// TriggerRecovery asks the control plane to run recovery for a failure.
// Refusals come back classified: a run already in flight, an active
// cooldown, or a stopped orchestrator.
func (c *Client) TriggerRecovery(ctx context.Context, failureType types.FailureType, component string) error {
	body := struct {
		FailureType string `json:"failure_type"`
		Component   string `json:"component"`
	}{FailureType: string(failureType), Component: component}
	return c.do(ctx, http.MethodPost, "/recovery", body, nil)
}

// RecoveryHistory returns past recovery attempts, newest first,
// optionally filtered by component. Zero limit returns everything the
// store keeps.
func (c *Client) RecoveryHistory(ctx context.Context, component string, limit int) ([]types.RecoveryAttemptResult, error) {
	q := url.Values{}
	if component != "" {
		q.Set("component", component)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/recovery/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Attempts []types.RecoveryAttemptResult `json:"attempts"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Attempts, nil
}

// BudgetStatus pairs a workspace's budget configuration with its
// current quota standing.
type BudgetStatus struct {
	WorkspaceID string              `json:"workspace_id"`
	Config      types.BudgetConfig  `json:"config"`
	Quota       types.QuotaDecision `json:"quota"`
}

// Budget returns a workspace's budget configuration and quota standing.
func (c *Client) Budget(ctx context.Context, workspace string) (*BudgetStatus, error) {
	var out BudgetStatus
	if err := c.do(ctx, http.MethodGet, "/budget?workspace="+url.QueryEscape(workspace), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetBudget replaces a workspace's budget configuration and returns
// what the control plane stored.
func (c *Client) SetBudget(ctx context.Context, workspace string, cfg types.BudgetConfig) (*types.BudgetConfig, error) {
	body := struct {
		WorkspaceID    string  `json:"workspace_id"`
		Enabled        bool    `json:"enabled"`
		MonthlyLimit   float64 `json:"monthly_limit"`
		AlertThreshold float64 `json:"alert_threshold"`
	}{
		WorkspaceID:    workspace,
		Enabled:        cfg.Enabled,
		MonthlyLimit:   cfg.MonthlyLimit,
		AlertThreshold: cfg.AlertThreshold,
	}
	var out struct {
		Config types.BudgetConfig `json:"config"`
	}
	if err := c.do(ctx, http.MethodPut, "/budget", body, &out); err != nil {
		return nil, err
	}
	return &out.Config, nil
}

// Events returns audit trail events recorded at or after since, oldest
// first. A zero since means no lower bound; zero limit uses the server
// default.
func (c *Client) Events(ctx context.Context, since time.Time, limit int) ([]*events.Event, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Events []*events.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Health is the liveness probe body.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Readiness is the readiness probe body.
type Readiness struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message"`
}

// Ready reports whether the control plane was ready to take traffic.
func (r *Readiness) Ready() bool {
	return r.Status == "ready"
}

// Health probes liveness and returns the server's version.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.send(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr, _ := c.apiError(resp, http.MethodGet, "/healthz")
		return nil, apiErr
	}
	var out Health
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errdefs.NewDeployment("decode response body", err)
	}
	return &out, nil
}

// Ready probes readiness. A not-ready control plane is an answer, not
// an error: the Readiness body names the check that failed.
func (c *Client) Ready(ctx context.Context) (*Readiness, error) {
	resp, err := c.send(ctx, http.MethodGet, "/readyz", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		apiErr, _ := c.apiError(resp, http.MethodGet, "/readyz")
		return nil, apiErr
	}
	var out Readiness
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errdefs.NewDeployment("decode response body", err)
	}
	return &out, nil
}

// do executes one API call against a path relative to /api/v1 and
// decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	full := apiPrefix + path
	resp, err := c.send(ctx, method, full, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errdefs.NewDeployment("decode response body", err)
		}
		return nil
	}

	apiErr, _ := c.apiError(resp, method, full)
	return apiErr
}

// send executes one HTTP request: bearer auth, JSON encode, transport
// fault classification. The response body is the caller's to close.
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errdefs.NewDeployment("encode request body", err).AsPermanent()
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, errdefs.NewDeployment("build request", err).AsPermanent()
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errdefs.NewDeployment(fmt.Sprintf("control plane unreachable: %s", redact.Error(err)), nil).
			WithCode(errdefs.CodeBackendUnreachable).
			WithOperation(method + " " + path).
			WithHint(unreachableHint)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Control plane request")

	return resp, nil
}

// errorEnvelope mirrors the server's error body. Result carries the
// partial deployment outcome on failed deploys.
type errorEnvelope struct {
	Error struct {
		Kind      string `json:"kind"`
		Code      string `json:"code"`
		Message   string `json:"message"`
		Component string `json:"component"`
		Operation string `json:"operation"`
		Hint      string `json:"hint"`
	} `json:"error"`
	Result *types.DeploymentResult `json:"result"`
}

// apiError rebuilds a classified error from an error response. The kind
// travels in the envelope; when it is missing the status class decides.
// 4xx responses come back permanent so retry loops fail fast on caller
// mistakes.
func (c *Client) apiError(resp *http.Response, method, path string) (*errdefs.Error, *types.DeploymentResult) {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var env errorEnvelope
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	msg = redact.String(msg)
	if msg == "" {
		msg = fmt.Sprintf("control plane returned %d", resp.StatusCode)
	}

	var err *errdefs.Error
	switch errdefs.Kind(env.Error.Kind) {
	case errdefs.KindValidation:
		err = errdefs.NewValidation(msg, nil)
	case errdefs.KindDeployment:
		err = errdefs.NewDeployment(msg, nil)
	case errdefs.KindRecovery:
		err = errdefs.NewRecovery(msg, nil)
	case errdefs.KindCircuitOpen:
		err = errdefs.NewCircuitOpen(msg)
	case errdefs.KindConfiguration:
		err = errdefs.NewConfiguration(msg, nil)
	default:
		err = errorForStatus(resp.StatusCode, msg)
	}

	if env.Error.Code != "" {
		err = err.WithCode(env.Error.Code)
	}
	if env.Error.Component != "" {
		err = err.WithComponent(env.Error.Component)
	}
	op := env.Error.Operation
	if op == "" {
		op = method + " " + path
	}
	err = err.WithOperation(op)
	if env.Error.Hint != "" {
		err = err.WithHint(env.Error.Hint)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		err = err.AsPermanent()
	}
	return err, env.Result
}

// errorForStatus classifies responses whose body carried no kind:
// middleware rejections, not-found lookups, and proxy error pages.
func errorForStatus(status int, msg string) *errdefs.Error {
	switch {
	case status == http.StatusNotFound:
		return errdefs.NewValidation(msg, nil).WithCode(errdefs.CodeNotFound)
	case status == http.StatusUnauthorized:
		return errdefs.NewConfiguration(msg, nil)
	case status >= 400 && status < 500:
		return errdefs.NewValidation(msg, nil)
	default:
		return errdefs.NewDeployment(msg, nil)
	}
}
