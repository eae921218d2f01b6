/*
Package types defines the core data structures used throughout Mobius.

This package contains all fundamental types that represent the Mobius domain
model: deployment specifications, the infrastructure component catalog,
deployment results, rollback records, health and failure classifications,
recovery records, and budget admission types. These types are used by all
other packages for validation, orchestration, persistence, and API
communication.

# Architecture

The types package is the foundation of the Mobius data model. It defines:

  - Deployment specifications (workspace, environment, compliance modes)
  - The statically-typed component catalog (database, cache, object store,
    vector store, gateway, inference runtime)
  - Deployment outcomes and structured errors
  - Rollback operation records
  - Canonical service status and circuit breaker state
  - Health classifications and system status
  - Failure types and recovery actions
  - Budget configuration and quota decisions

All types are designed to be:
  - Serializable (JSON for the API and storage, YAML for spec files)
  - Immutable where the domain requires it (specs and results are never
    mutated after submission/completion)
  - Self-documenting (string enums with explicit constant sets)

# Core Types

Specification:
  - DeploymentSpec: Declarative workspace infrastructure, immutable once
    submitted to a deployment attempt
  - ComponentSpec: One component with type, config map, and dependencies
  - ResourceSpec: CPU/memory request+limit and storage size
  - DeployOptions: Idempotency key, retry budget, rollback flag

Outcomes:
  - DeploymentResult: Immutable per-attempt outcome with SLA flag
  - ComponentResult: Per-component status (success, failed, skipped)
  - DeploymentError: Structured error with code, hint, recoverable flag
  - RollbackOperation: Undoable step, consumed in reverse order

Health and recovery:
  - ServiceStatus: Canonical five-value backend status (ready, pending,
    failed, degraded, unknown)
  - HealthState: healthy, degraded, unhealthy
  - HealthCheckResult: Raw probe outcome feeding the failure detector
  - SystemStatus: Orchestrator-owned snapshot, copied to readers
  - FailureType: Classified failure pattern (DATABASE_CONNECTION, ...)
  - RecoveryAction: Named remediation step (restart-service, ...)
  - RecoveryAttemptResult: History record for attempt caps

Admission:
  - BudgetConfig: Per-workspace monthly limit and alert threshold
  - QuotaDecision: allowed/remaining/limit/spend answer

# Conventions

String enums are used for every closed set so values survive JSON and YAML
round trips unchanged and remain readable in logs and stored records.
FailureType values keep their conventional upper-snake wire form because
they appear verbatim in events and operator-facing messages.

Durations serialize as nanoseconds via encoding/json's default handling of
time.Duration; API handlers that need human-readable durations format them
at the edge.

# Usage

Building a spec:

	spec := &types.DeploymentSpec{
		WorkspaceID: "ws-frontier",
		Environment: types.EnvironmentProduction,
		Components: []types.ComponentSpec{
			{Name: "primary-db", Type: types.ComponentDatabase, Enabled: true},
			{Name: "session-cache", Type: types.ComponentCache, Enabled: true,
				DependsOn: []string{"primary-db"}},
		},
		Resources: types.ResourceSpec{
			CPURequest: "500m", CPULimit: "2",
			MemoryRequest: "512Mi", MemoryLimit: "2Gi",
			StorageSize: "10Gi",
		},
	}

Checking criticality:

	if comp.Type.Critical() {
		// database/cache failure halts the remaining sequence
	}

# Integration Points

This package is imported by:

  - pkg/validator for structural and semantic spec checks
  - pkg/driver and pkg/driver/mobiusd for deploys and status mapping
  - pkg/deploy for result aggregation
  - pkg/detector and pkg/recovery for failure classification and healing
  - pkg/orchestrator for system status and quota decisions
  - pkg/storage for persisted deployment and recovery records
  - pkg/api for request/response payloads
*/
package types
