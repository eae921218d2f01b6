/*
Package health aggregates service health for the Mobius control plane.

The package answers one question for the orchestrator: how healthy is
the deployed system right now? It combines two signal sources into a
single report. The backend driver reports service state as the node
daemon sees it; endpoint probes dial the published service endpoints
the way a client would. A service counts as healthy only when every
signal agrees.

# Architecture

	┌─────────────────────────────────────────────────────┐
	│                      Monitor                        │
	│  CheckSystemHealth(ctx) → SystemReport              │
	└────────┬───────────────────────────┬────────────────┘
	         │                           │
	         ▼                           ▼
	┌──────────────────┐      ┌──────────────────────────┐
	│      Source      │      │   probes map[service]    │
	│ (driver.Driver)  │      │         Checker          │
	│ HealthCheck(ctx) │      └────┬────────────┬────────┘
	└──────────────────┘           ▼            ▼
	  per-service state       ┌─────────┐  ┌─────────┐
	  from the backend        │  HTTP   │  │   TCP   │
	                          │ Checker │  │ Checker │
	                          └─────────┘  └─────────┘
	                            GET url      dial addr

Merge rules, per service:

 1. Backend result is the baseline.
 2. A registered probe always supplies ResponseTime, because probe
    latency is measured at the endpoint clients use.
 3. A failed probe downgrades a backend-healthy service. A passing
    probe never upgrades a backend-unhealthy one: the strictest
    signal wins.
 4. Probes for services the backend does not report are appended as
    standalone checks.

The overall status rolls up from the merged checks: healthy when none
failed, unhealthy when all failed, degraded in between. An unreachable
backend becomes a single failed "backend" check, so callers always get
a report instead of an error.

# Probe Types

HTTPChecker issues a request and judges by status code (200-399 by
default). It is the probe for gateway components, where accepting a
TCP connection is not proof the proxy routes requests.

TCPChecker opens a connection and closes it. It is the probe for
databases, caches, and vector stores, whose wire protocols are not
worth speaking just to confirm the port answers.

# Integration Points

	orchestrator: calls CheckSystemHealth on every poll cycle,
	              registers probes from deployment results,
	              clears them when a deployment is replaced
	detector:     consumes SystemReport.Checks to classify failures
	driver:       satisfies Source

Uptime in the report is measured from NewMonitor, which the
orchestrator creates when it starts.
*/
package health
