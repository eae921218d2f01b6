/*
Package api is the REST transport over the Mobius control plane.

The server wraps an orchestrator and its collaborators in a versioned
JSON API. Handlers translate HTTP to control-plane calls and back; no
business rule lives here. Classified errors map onto an error envelope
with the errdefs kind, code, message, and remediation hint so remote
clients can rebuild them, and every message passes redaction before it
leaves the process.

# Architecture

	             ┌──────────────── client (CLI, curl) ───────────────┐
	             │        Authorization: Bearer <token>               │
	             └───────────────────────┬────────────────────────────┘
	                                     │ HTTP + JSON, /api/v1
	┌────────────────────────────────────▼───────────────────────────────┐
	│ gin engine                                                         │
	│   recovery → request log → otelgin spans → request metrics         │
	│   /api/v1: bearer auth → per-client rate limit                     │
	│                                                                    │
	│   POST /api/v1/deployments          ControlPlane.DeployInfra…      │
	│   GET  /api/v1/deployments[/:id]    storage.Store                  │
	│   GET  /api/v1/status               ControlPlane.Status            │
	│   POST /api/v1/recovery             ControlPlane.AttemptRecovery   │
	│   GET  /api/v1/recovery/history     storage.Store                  │
	│   GET  /api/v1/budget, PUT          ControlPlane budget surface    │
	│   GET  /api/v1/events               AuditLog.Query                 │
	│   GET  /api/v1/events/ws            events.Broker subscription     │
	│   GET  /healthz /readyz /metrics    unauthenticated probes         │
	└────────────────────────────────────────────────────────────────────┘

# Status Mapping

Control-plane errors carry their classification into HTTP statuses:
validation and configuration mistakes are 400, quota denials 403,
recovery refusals 409 (in progress) and 429 (cooldown), a stopped
orchestrator or open breaker 503, backend deploy and recovery failures
502. A failed deployment's partial result rides along in the error
envelope so callers see what was rolled back.

# Event Stream

GET /api/v1/events/ws upgrades to a websocket and forwards broker
events as JSON frames. The stream starts at the moment of connection;
GET /api/v1/events serves history from the audit trail with since and
limit parameters. On shutdown the server sends a close frame to every
stream before the listener drains.

# Integration Points

	orchestrator.Orchestrator: satisfies ControlPlane
	audit.Recorder:            satisfies AuditLog
	storage.Store:             deployment and recovery history reads
	events.Broker:             websocket fan-out
	metrics.Metrics:           request counters and /metrics scrape
	config.API:                bind address and auth token
*/
package api
