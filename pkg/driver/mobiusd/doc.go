// Package mobiusd implements the deployment driver for a mobiusd node,
// the single-host service runtime Mobius deploys onto. It talks to the
// node's REST API through pkg/backend and translates between the
// declarative component model and mobiusd's service lifecycle.
//
// # Architecture
//
// Deploy walks the component dependency graph level by level; levels
// deploy concurrently, dependents wait for their level:
//
//	Deploy(spec)
//	  ├── checkCompliance        isolation / residency flags
//	  ├── deployLevels           graph -> [[database cache] [vector-store] ...]
//	  └── per level, concurrently:
//	        deployComponent      retry loop, backoff between attempts
//	          └── deployOnce     create-or-update, start, waitReady, route
//
// Every backend call runs through the driver's circuit breaker. Only
// backend faults (transport errors, 5xx) count against it; a 4xx
// rejection proves the node is alive and resets nothing.
//
// # Failure Semantics
//
// A failed critical component (database, cache) halts all later
// levels. Dependents of any failed component are skipped, transitively.
// Siblings in the same level as a failure run to completion. With
// RollbackOnFailure, the recorded undo log is consumed in reverse;
// rollback steps that fail are logged and never escalate.
//
// # Service Identity
//
// Services are named <workspace>-<component> and labeled with the
// workspace, component, and idempotency key. A re-deploy that finds a
// service carrying its own idempotency key converges it in place
// instead of recreating it.
//
// # Integration Points
//
//   - pkg/driver: the contract this package implements, plus breaker/backoff
//   - pkg/backend: the mobiusd REST client
//   - pkg/graph: level planning for the component dependency graph
//   - pkg/types: deployment spec, results, rollback operations
package mobiusd
