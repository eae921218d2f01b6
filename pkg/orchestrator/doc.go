/*
Package orchestrator binds the Mobius control plane together.

The orchestrator owns the control loop: it polls system health,
classifies persistent failures, launches recovery for each one, and
keeps the canonical SystemStatus that every API and CLI surface reads.
It is also the front door for deployments, where the budget gate is
applied before any backend work starts.

All collaborators arrive through Deps at construction time. The
orchestrator holds no globals and builds none of its dependencies, so
tests wire fakes for any slice of the system.

# Architecture

	            Start ──► immediate poll ──► pollLoop (every PollInterval)
	                                              │
	                                              ▼
	┌───────────────────────────── poll cycle ─────────────────────────────┐
	│                                                                      │
	│  health.Monitor ──► SystemReport ──► SystemStatus (+ event on        │
	│        │                               overall change)               │
	│        ▼                                                             │
	│  detector.Observe ──► []Failure ──► failure-detected (new episodes)  │
	│                           │                                          │
	│                           ▼  one goroutine per failure               │
	│                   Recoverer.AttemptRecovery                          │
	│                           │                                          │
	│                           ▼                                          │
	│                   re-check health, refresh status                    │
	│                                                                      │
	└──────────────────────────────────────────────────────────────────────┘

	DeployInfrastructure: quota gate ──► Deployer.Deploy ──► persist result,
	                      record spend, point Monitor at the new deployment

# Lifecycle

Start flips the orchestrator to running, performs one synchronous
health check so status is populated before Start returns, and launches
the polling loop. Stop cancels future polls and then waits: an
in-flight cycle, including any recovery work it started, runs to
completion before Stop returns and budget tracking is torn down.
Both are idempotent.

Poll cycles run on their own context rather than the loop's, so
cancellation stops the schedule without interrupting work already
under way.

# Poll Cycle

Each cycle re-reads the world and reacts:

 1. CheckSystemHealth produces the merged report; SystemStatus is
    rebuilt from it. system-status-changed is published only when the
    overall value moved, except that the first poll after Start always
    publishes.
 2. The detector ingests the raw checks. Classified failures are
    published once per failing episode: a failure that persists across
    polls stays silent until it clears, and a later relapse publishes
    again.
 3. Every classified failure gets its own recovery goroutine. Failures
    recover independently; one component's refusal or exhaustion never
    blocks another's attempt, and recovery errors are logged, not
    propagated.
 4. After recovery settles, health is checked once more so the status
    reflects what recovery changed. No second round of detection runs
    in the same cycle.

Executed recovery attempts are persisted through the store. Refused
runs (already in progress, cooldown active) executed nothing and leave
no record.

# Deployment Path

DeployInfrastructure estimates the monthly cost of the spec and asks
the budget tracker for admission. A denial is returned to the caller
with QUOTA_EXCEEDED before the deployer is invoked. On success the
estimate is recorded as spend, the result is persisted, and the health
monitor is pointed at the deployment: the driver becomes the report
source and each successful component with an endpoint gets a probe,
HTTP for gateways and TCP for everything else. Failed deployments are
persisted too, but record no spend and leave monitoring untouched.

Store, Broker, and Budget are optional dependencies. Without a store
nothing persists, without a broker nothing publishes, and without a
tracker every quota check allows with unlimited remaining.

# Integration Points

	deploy.Manager:    satisfies Deployer
	recovery.Manager:  satisfies Recoverer
	health.Monitor:    polled every cycle, re-pointed after deploys
	detector.Detector: classifies raw checks into failures
	budget.Tracker:    admission gate and spend ledger
	storage.Store:     deployment results and recovery attempts
	events.Broker:     status, health, and failure events
*/
package orchestrator
