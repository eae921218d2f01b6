package backend

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
	"golang.org/x/time/rate"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
)

const apiPrefix = "/api/v1"

// Config holds backend client configuration
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration // per-request ceiling, default 30s

	// RequestsPerSecond throttles outbound calls. Zero disables
	// client-side rate limiting.
	RequestsPerSecond float64
	Burst             int
}

// Client is an HTTP client for the mobiusd node daemon's REST API.
// Every request carries the bearer token; responses are matched on HTTP
// status plus JSON body. Error text from the backend is redacted before
// it leaves this package.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a backend client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errdefs.NewConfiguration("backend base URL is required", nil)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errdefs.NewConfiguration(fmt.Sprintf("invalid backend base URL %q", cfg.BaseURL), err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  log.WithComponent("backend"),
	}, nil
}

// Ping probes reachability and returns the backend's version handshake.
func (c *Client) Ping(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.do(ctx, http.MethodGet, "/version", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetService fetches a service by name. A missing service returns
// errdefs.ErrServiceNotFound.
func (c *Client) GetService(ctx context.Context, name string) (*Service, error) {
	var svc Service
	if err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(name), nil, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// ListServices returns all services known to the backend.
func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	var svcs []Service
	if err := c.do(ctx, http.MethodGet, "/services", nil, &svcs); err != nil {
		return nil, err
	}
	return svcs, nil
}

// CreateService creates a service in the stopped state.
func (c *Client) CreateService(ctx context.Context, spec *ServiceSpec) (*Service, error) {
	var svc Service
	if err := c.do(ctx, http.MethodPost, "/services", spec, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// UpdateService merges the non-zero fields of spec into the service.
// Omitted fields keep their current values.
func (c *Client) UpdateService(ctx context.Context, id string, spec *ServiceSpec) (*Service, error) {
	var svc Service
	if err := c.do(ctx, http.MethodPut, "/services/"+url.PathEscape(id), spec, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// DeleteService removes a service and its resources.
func (c *Client) DeleteService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/services/"+url.PathEscape(id), nil, nil)
}

// StartService starts a created or stopped service.
func (c *Client) StartService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id)+"/start", nil, nil)
}

// StopService stops a running service.
func (c *Client) StopService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id)+"/stop", nil, nil)
}

// RestartService restarts a service in place.
func (c *Client) RestartService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id)+"/restart", nil, nil)
}

// ScaleService sets the replica count.
func (c *Client) ScaleService(ctx context.Context, id string, replicas int) error {
	body := map[string]int{"replicas": replicas}
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id)+"/scale", body, nil)
}

// SetEnv replaces a service's environment.
func (c *Client) SetEnv(ctx context.Context, id string, env map[string]string) error {
	return c.do(ctx, http.MethodPut, "/services/"+url.PathEscape(id)+"/env", env, nil)
}

// ServiceLogs returns the last tail lines of a service's logs.
func (c *Client) ServiceLogs(ctx context.Context, id string, tail int) (string, error) {
	path := "/services/" + url.PathEscape(id) + "/logs"
	if tail > 0 {
		path += "?tail=" + strconv.Itoa(tail)
	}
	var out struct {
		Logs string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Logs, nil
}

// CreateRoute adds a gateway routing rule.
func (c *Client) CreateRoute(ctx context.Context, route *Route) (*Route, error) {
	var created Route
	if err := c.do(ctx, http.MethodPost, "/routes", route, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteRoute removes a gateway routing rule.
func (c *Client) DeleteRoute(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/routes/"+url.PathEscape(id), nil, nil)
}

// do executes one API call: rate limit, bearer auth, JSON encode/decode,
// status discrimination. 4xx responses come back permanent so the retry
// loop fails fast on caller mistakes; 5xx and transport faults stay
// retryable.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errdefs.NewDeployment("rate limiter wait interrupted", err).WithOperation(method + " " + path)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errdefs.NewDeployment("encode request body", err).AsPermanent()
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reqBody)
	if err != nil {
		return errdefs.NewDeployment("build request", err).AsPermanent()
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return errdefs.NewDeployment(fmt.Sprintf("backend unreachable: %s", redact.Error(err)), nil).
			WithCode(errdefs.CodeBackendUnreachable).
			WithOperation(method + " " + path)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Backend request")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errdefs.NewDeployment("decode response body", err)
		}
		return nil
	}

	return c.apiError(resp, method, path)
}

func (c *Client) apiError(resp *http.Response, method, path string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var eb errorBody
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	msg = redact.String(msg)

	if resp.StatusCode == http.StatusNotFound {
		return errdefs.NewDeployment(msg, errdefs.ErrServiceNotFound).
			WithOperation(method + " " + path).
			AsPermanent()
	}

	err := errdefs.NewDeployment(fmt.Sprintf("backend returned %d: %s", resp.StatusCode, msg), nil).
		WithOperation(method + " " + path)
	if eb.Code != "" {
		err = err.WithCode(eb.Code)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		err = err.AsPermanent()
	}
	return err
}
