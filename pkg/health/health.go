package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
	"github.com/rs/zerolog"
)

// CheckType represents the type of endpoint probe
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a single probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all endpoint probes implement
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of probe
	Type() CheckType
}

// Source reports per-service health from the deployment backend. It is
// satisfied by driver.Driver.
type Source interface {
	HealthCheck(ctx context.Context) ([]types.HealthCheckResult, error)
}

// SystemReport is the aggregated answer to a system health check.
type SystemReport struct {
	Status types.HealthState         `json:"status"`
	Checks []types.HealthCheckResult `json:"checks"`
	Uptime time.Duration             `json:"uptime"`
}

// Monitor aggregates backend-reported service health with direct
// endpoint probes into a single system report. The backend knows
// whether a service process is up; a probe knows whether its endpoint
// actually answers. The strictest signal wins.
type Monitor struct {
	logger  zerolog.Logger
	started time.Time

	mu     sync.Mutex
	source Source
	probes map[string]Checker
}

// NewMonitor creates a Monitor with no source and no probes. Uptime is
// measured from this call.
func NewMonitor() *Monitor {
	return &Monitor{
		logger:  log.WithComponent("health"),
		started: time.Now(),
		probes:  make(map[string]Checker),
	}
}

// SetSource sets the backend health source. A nil source makes
// CheckSystemHealth report healthy with no checks, which is the state
// before anything has been deployed.
func (m *Monitor) SetSource(source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
}

// RegisterProbe attaches an endpoint probe to a service. The probe runs
// on every CheckSystemHealth call and can downgrade a service the
// backend considers healthy.
func (m *Monitor) RegisterProbe(service string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[service] = checker
}

// ClearProbes removes all registered probes. Called when a new
// deployment replaces the set of service endpoints.
func (m *Monitor) ClearProbes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = make(map[string]Checker)
}

// CheckSystemHealth queries the backend source, runs every registered
// probe, and rolls the merged results up into an overall state:
// healthy when no check failed, unhealthy when every check failed,
// degraded otherwise. An unreachable backend is reported as a single
// failed check rather than an error so the caller always gets a usable
// report.
func (m *Monitor) CheckSystemHealth(ctx context.Context) SystemReport {
	m.mu.Lock()
	source := m.source
	probes := make(map[string]Checker, len(m.probes))
	for service, checker := range m.probes {
		probes[service] = checker
	}
	m.mu.Unlock()

	report := SystemReport{Uptime: time.Since(m.started)}
	if source == nil {
		report.Status = types.HealthHealthy
		return report
	}

	results, err := source.HealthCheck(ctx)
	if err != nil {
		m.logger.Warn().Str("error", redact.Error(err)).Msg("backend health check failed")
		report.Status = types.HealthUnhealthy
		report.Checks = []types.HealthCheckResult{{
			Service:   "backend",
			Healthy:   false,
			Message:   redact.Error(err),
			CheckedAt: time.Now().UTC(),
		}}
		return report
	}

	for _, res := range results {
		if probe, ok := probes[res.Service]; ok {
			pr := probe.Check(ctx)
			// Probe latency is measured at the endpoint the clients
			// use, so it supersedes whatever the backend reported.
			res.ResponseTime = pr.Duration
			if res.Healthy && !pr.Healthy {
				res.Healthy = false
				res.Message = "endpoint probe failed: " + pr.Message
			}
			delete(probes, res.Service)
		}
		report.Checks = append(report.Checks, res)
	}

	// Probes for services the backend did not mention still count.
	for service, probe := range probes {
		pr := probe.Check(ctx)
		report.Checks = append(report.Checks, types.HealthCheckResult{
			Service:      service,
			Healthy:      pr.Healthy,
			ResponseTime: pr.Duration,
			Message:      pr.Message,
			CheckedAt:    pr.CheckedAt,
		})
	}

	sort.Slice(report.Checks, func(i, j int) bool {
		return report.Checks[i].Service < report.Checks[j].Service
	})
	report.Status = overall(report.Checks)
	return report
}

func overall(checks []types.HealthCheckResult) types.HealthState {
	if len(checks) == 0 {
		return types.HealthHealthy
	}
	unhealthy := 0
	for _, check := range checks {
		if !check.Healthy {
			unhealthy++
		}
	}
	switch {
	case unhealthy == 0:
		return types.HealthHealthy
	case unhealthy == len(checks):
		return types.HealthUnhealthy
	default:
		return types.HealthDegraded
	}
}
