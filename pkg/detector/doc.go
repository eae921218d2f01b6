// Package detector classifies raw health results into failure types.
//
// # Architecture
//
// The detector keeps a bounded rolling window of recent results per
// service. A service classifies as failed only when its trailing N
// results are all unhealthy, so a single blip never triggers recovery.
// Latency is judged independently: one result over the threshold
// classifies HIGH_RESPONSE_TIME immediately, healthy or not.
//
//	health results ──► window per service (size 10)
//	                      │
//	                      ├── trailing 3 unhealthy ──► name table ──► failure
//	                      └── response time > 2s ────────────────────► HIGH_RESPONSE_TIME
//
// The name table is static: database-shaped names map to
// DATABASE_CONNECTION, cache-shaped names to REDIS_CONNECTION, and so
// on. A persistently unhealthy service with no mapping produces no
// connection-class failure, only a debug log; the latency rule still
// applies to it.
//
// Each Observe pass returns a de-duplicated, sorted set of findings:
// a service flapping several times inside one batch yields one entry.
//
// # Integration Points
//
//   - pkg/orchestrator: feeds each poll's health results through Observe
//     and hands the findings to the recovery manager
//   - pkg/types: FailureType taxonomy and HealthCheckResult input
package detector
