// Package deploy is the deployment entry point: validation gate,
// driver resolution, and the two deployment paths.
//
// # Architecture
//
// Every deployment passes the same pure validator before anything
// touches a backend. From there the two paths diverge:
//
//	Manager.Deploy (driver path)
//	    validator ──► registry.New(backendType) ──► driver.Initialize
//	                                                      │
//	                              full spec ──────► driver.Deploy
//	                                                (levels, concurrency,
//	                                                 retry, rollback)
//
//	Manager.DeployDirect (serial path)
//	    validator ──► own topological order
//	                      │
//	                      ▼  one component at a time
//	                  prepare hook (per component type)
//	                      │
//	                      ▼
//	                  driver.Deploy(single-component spec)
//
// The driver path delegates ordering, level concurrency, retries, and
// reverse-order rollback to the driver. The serial path keeps the
// original one-at-a-time sequence: its own sort, a type-specific
// preparation hook before each component, and whole-run cleanup as its
// rollback. Both share the critical-component rule: a failed database
// or cache halts everything after it, while other failures only skip
// their dependents.
//
// # SLA
//
// Both paths time the entire operation, validation included. Exceeding
// the fifteen-minute SLA appends a warning-class SLA_EXCEEDED error to
// the result and sets the flag; it never turns a successful deployment
// into a failed one.
//
// # Prepare Hooks
//
// Hooks catch constraints that only bind at deploy time: a production
// database must pin a version, the single-node cache refuses replica
// counts above one, a production gateway needs a domain, and inference
// context length is capped by the runtime. Hook failures count as
// component failures, critical-halt rule included.
//
// # Integration Points
//
//   - pkg/validator: shared validation gate for both paths
//   - pkg/driver: registry-resolved driver, one instance per deployment
//   - pkg/events: deployment-started / deployment-completed
//   - pkg/orchestrator: owns a Manager and exposes deployInfrastructure
package deploy
