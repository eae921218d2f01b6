package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// Metrics holds every collector the control plane exports. Each
// instance owns a private registry, so tests and embedded servers
// never fight over global registration.
type Metrics struct {
	registry *prometheus.Registry

	// Deployment metrics
	DeploymentsTotal   *prometheus.CounterVec
	DeploymentDuration *prometheus.HistogramVec
	DeploymentsSLAMiss *prometheus.CounterVec
	ComponentsDeployed *prometheus.CounterVec

	// Health metrics
	HealthChecksTotal *prometheus.CounterVec
	ServicesHealthy   prometheus.Gauge
	ServicesUnhealthy prometheus.Gauge
	SystemHealthState prometheus.Gauge

	// Failure and recovery metrics
	FailuresDetected   *prometheus.CounterVec
	RecoveryAttempts   *prometheus.CounterVec
	RecoveriesInFlight prometheus.Gauge

	// Budget metrics
	BudgetSpend  *prometheus.GaugeVec
	BudgetLimit  *prometheus.GaugeVec
	BudgetAlerts *prometheus.CounterVec

	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Event bus metrics
	EventsObserved *prometheus.CounterVec
}

// New builds a Metrics with a fresh registry and all collectors
// registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		DeploymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mobius_deployments_total",
				Help: "Total number of finished deployments by workspace and outcome",
			},
			[]string{"workspace", "success"},
		),
		DeploymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mobius_deployment_duration_seconds",
				Help:    "Deployment duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"workspace"},
		),
		DeploymentsSLAMiss: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mobius_deployments_sla_exceeded_total",
				Help: "Deployments that finished over the duration SLA",
			},
			[]string{"workspace"},
		),
		ComponentsDeployed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mobius_components_deployed_total",
				Help: "Component deploy outcomes by type and status",
			},
			[]string{"type", "status"},
		),

		HealthChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mobius_health_checks_total",
				Help: "Completed health check cycles by overall result",
			},
			[]string{"overall"},
		),
		ServicesHealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mobius_services_healthy",
				Help: "Number of services currently reporting healthy",
			},
		),
		ServicesUnhealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mobius_services_unhealthy",
				Help: "Number of services currently reporting unhealthy",
			},
		),
		SystemHealthState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mobius_system_health_state",
				Help: "Overall system health (0 healthy, 1 degraded, 2 unhealthy, -1 unknown)",
			},
		),

		FailuresDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mobius_failures_detected_total",
				Help: "Classified failures by type and component",
			},
			[]string{"failure_type", "component"},
		),
		RecoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mobius_recovery_attempts_total",
				Help: "Finished recovery runs by component and outcome",
			},
			[]string{"component", "success"},
		),
		RecoveriesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mobius_recoveries_in_flight",
				Help: "Recovery runs currently executing",
			},
		),

		BudgetSpend: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mobius_budget_spend",
				Help: "Recorded spend for the current month by workspace",
			},
			[]string{"workspace"},
		),
		BudgetLimit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mobius_budget_limit",
				Help: "Configured monthly budget limit by workspace",
			},
			[]string{"workspace"},
		),
		BudgetAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mobius_budget_alerts_total",
				Help: "Budget threshold events by workspace and kind",
			},
			[]string{"workspace", "kind"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mobius_api_requests_total",
				Help: "API requests by method, route, and status code",
			},
			[]string{"method", "route", "status"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mobius_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		EventsObserved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mobius_events_observed_total",
				Help: "Control-plane events seen on the bus by type",
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(
		m.DeploymentsTotal,
		m.DeploymentDuration,
		m.DeploymentsSLAMiss,
		m.ComponentsDeployed,
		m.HealthChecksTotal,
		m.ServicesHealthy,
		m.ServicesUnhealthy,
		m.SystemHealthState,
		m.FailuresDetected,
		m.RecoveryAttempts,
		m.RecoveriesInFlight,
		m.BudgetSpend,
		m.BudgetLimit,
		m.BudgetAlerts,
		m.APIRequestsTotal,
		m.APIRequestDuration,
		m.EventsObserved,
	)
	return m
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordComponents counts per-component outcomes from a finished
// deployment. The completion event carries no per-component detail, so
// whoever holds the full result reports it here.
func (m *Metrics) RecordComponents(result *types.DeploymentResult) {
	if result == nil {
		return
	}
	for _, comp := range result.Components {
		m.ComponentsDeployed.WithLabelValues(string(comp.Type), string(comp.Status)).Inc()
	}
}

// Handler returns the scrape handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// healthStateValue maps the health enum onto the exported gauge scale.
func healthStateValue(state types.HealthState) float64 {
	switch state {
	case types.HealthHealthy:
		return 0
	case types.HealthDegraded:
		return 1
	case types.HealthUnhealthy:
		return 2
	default:
		return -1
	}
}
