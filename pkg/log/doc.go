/*
Package log provides structured logging for Mobius built on zerolog.

All control-plane components log through this package: a process-global
logger configured once at startup, and WithComponent child loggers that
every subsystem holds. Correlation beyond the component name rides as
per-event fields (workspace_id, deployment_id, service).

# Configuration

Init is called once from the CLI entrypoint:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

JSONOutput selects machine-readable output for production; the default
console writer is for interactive use. Output defaults to stdout.

# Component Loggers

Long-lived components hold a child logger with their component field set:

	logger := log.WithComponent("orchestrator")
	logger.Info().
		Str("workspace_id", ws).
		Int("components", n).
		Msg("Deployment started")

Field conventions:

  - component: the control-plane subsystem (orchestrator, driver,
    recovery, detector, api)
  - workspace_id: the workspace a spec or deployment belongs to
  - deployment_id: one deployment attempt
  - service: a backend service name

# Redaction

Free-form text that can carry spec configuration (backend error bodies,
component config maps) must pass through pkg/redact before being logged.
Structured fields written by the control plane itself (IDs, counts,
durations, states) are safe as-is.

# Levels

  - debug: per-poll and per-retry detail
  - info: lifecycle transitions, deploy and recovery outcomes
  - warn: degraded states, SLA overruns, skipped strategies
  - error: failed deploys, exhausted recoveries, backend faults
*/
package log
