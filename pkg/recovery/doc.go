// Package recovery runs bounded, best-effort remediation for detected
// failures.
//
// # Architecture
//
// Each failure type carries an ordered ladder of strategies. A recovery
// run walks the ladder top to bottom and stops at the first action that
// succeeds; a run that exhausts the ladder puts its failure key into a
// cooldown window instead of retrying forever:
//
//	AttemptRecovery(failureType, component)
//	    │
//	    ├── refuse: same key already in flight
//	    ├── refuse: key inside cooldown window
//	    │
//	    ▼
//	strategy ladder (declared order)
//	    │  skip strategies at their attempt cap
//	    │  first success wins
//	    ▼
//	Executor.Execute(action, component)
//	    │
//	    └── every attempt → history ring (last 10 per key)
//
// The key is failureType+component, so simultaneous failures of
// different services (or different failure modes of one service)
// recover independently while a single key stays single-flight.
//
// # Bounded By Design
//
// Recovery is a self-healing layer, not a guarantee. Per-strategy
// attempt caps are counted against a sliding window from the history
// ring, and an exhausted key refuses further attempts for the cooldown
// duration. Failures that survive the ladder surface to operators
// through the recovery-completed event and the returned error rather
// than being retried indefinitely.
//
// # Action Mapping
//
// DriverExecutor maps abstract actions onto driver operations:
// clear-cache and reconnect-database degrade to an in-place restart
// (the backend has no narrower primitive), scale-up and scale-down
// move the desired replica count one step within [1, 5], failover
// redeploys the component from the stored spec under a fresh
// idempotency key, and rollback restores the declared replica count
// and restarts.
//
// # Integration Points
//
//   - pkg/orchestrator: invokes AttemptRecovery for each detected failure
//   - pkg/driver: DriverExecutor performs actions through the Driver contract
//   - pkg/events: recovery-started / recovery-completed per admitted run
//   - pkg/errdefs: in-progress, cooldown, and exhaustion error codes
package recovery
