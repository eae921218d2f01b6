// Package driver defines the backend driver contract and the shared
// call-protection machinery (circuit breaker, retry backoff) every
// driver implementation uses.
//
// # Architecture
//
// A Driver turns a declarative DeploymentSpec into running services on
// one concrete backend. The deploy manager talks only to this
// interface; backend-specific knowledge (API shapes, image catalogs,
// readiness probes) lives in the implementations registered with the
// Registry:
//
//	deploy.Manager
//	    │
//	    ▼
//	driver.Driver ◄── driver.Registry ("mobiusd" → mobiusd.New)
//	    │
//	    ├── CircuitBreaker   consecutive-failure guard per driver
//	    └── RetryDelay       exponential backoff with jitter
//
// The breaker and backoff helpers are deliberately driver-agnostic:
// they wrap any backend call and carry no knowledge of what the call
// does.
//
// # Circuit Breaker
//
// Each driver instance owns one breaker. Five consecutive backend
// failures open it; while open, calls fail fast with a circuit-open
// error for sixty seconds; then exactly one trial call is admitted,
// and its outcome decides whether the breaker closes or reopens.
// Circuit-open errors are permanent so the retry loop never burns
// attempts against a breaker that is refusing calls.
//
// # Retry Backoff
//
// RetryDelay grows 1s, 2s, 4s, ... capped at 30s, with ±25% jitter so
// concurrent deployments spread their retries. Callers pair it with
// SleepContext so cancellation interrupts a pending retry wait.
//
// # Integration Points
//
//   - pkg/driver/mobiusd: the reference driver over the mobiusd REST API
//   - pkg/deploy: resolves a driver from the Registry and runs deployments
//   - pkg/errdefs: circuit-open and configuration error kinds
package driver
