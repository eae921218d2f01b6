/*
Package metrics exports Prometheus metrics for the Mobius control
plane.

Each Metrics instance owns a private registry. Nothing registers
globally, so embedding two control planes in one process (or one test
binary) never panics on duplicate registration, and the scrape handler
serves exactly the collectors of the instance that built it.

# Architecture

	                      ┌──────────────┐
	  events.Broker ────► │   Observer   │ ◄──── StatusSource
	  (subscription)      │              │       (orchestrator)
	                      │ apply(event) │       collect() every
	                      │   counters   │       interval: gauges
	                      └──────┬───────┘
	                             ▼
	                      ┌──────────────┐
	                      │   Metrics    │ ──► Handler() /metrics
	                      │  (registry)  │
	                      └──────────────┘

The Observer feeds metrics from two directions. Bus events drive the
counters: deployments, health check cycles, detected failures,
recovery runs, budget threshold crossings. The status source drives
the point-in-time gauges: services healthy and unhealthy, and the
overall health state. Deriving counters from the bus means the metric
surface observes the same stream the audit trail and websocket
subscribers see, so the numbers cannot drift from the events.

# Metric Inventory

	mobius_deployments_total{workspace,success}      finished deployments
	mobius_deployment_duration_seconds{workspace}    deploy latency
	mobius_deployments_sla_exceeded_total{workspace} SLA misses
	mobius_components_deployed_total{type,status}    per-component outcomes
	mobius_health_checks_total{overall}              poll cycles
	mobius_services_healthy / _unhealthy             current service counts
	mobius_system_health_state                       0/1/2 (+ -1 unknown)
	mobius_failures_detected_total{failure_type,component}
	mobius_recovery_attempts_total{component,success}
	mobius_recoveries_in_flight
	mobius_budget_spend{workspace} / mobius_budget_limit{workspace}
	mobius_budget_alerts_total{workspace,kind}
	mobius_api_requests_total{method,route,status}
	mobius_api_request_duration_seconds{method,route}
	mobius_events_observed_total{type}

API metrics are written by the HTTP middleware, not the Observer.
RecordComponents is called by the deploy handler, since the completion
event does not carry per-component results.

# Integration Points

	api:          mounts Handler() at /metrics, writes request
	              counters and timings from middleware
	orchestrator: satisfies StatusSource for gauge collection
	events:       the broker subscription driving all event counters
	cmd:          builds one Metrics and one Observer per daemon
*/
package metrics
