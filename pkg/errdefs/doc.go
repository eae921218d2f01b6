/*
Package errdefs defines the classified error taxonomy used across Mobius.

Every public operation in the control plane returns a structured error
carrying a machine-readable code and a human remediation hint, never a bare
stack trace. The taxonomy has five kinds with distinct propagation rules:

  - validation: spec structurally invalid; abort immediately, never retried
  - deployment: component-level failure; retried per driver policy, then
    surfaced with hint and recoverable flag
  - recovery: all strategies exhausted; key enters cooldown
  - circuit-open: breaker refused the call without attempting it
  - configuration: incompatible compliance mode; fatal at initialize

# Retry Policy

IsRetryable gates the driver's retry loop. Only non-permanent deployment
errors are retryable; 4xx-class backend responses are marked permanent at
the client boundary so a misconfigured request is never retried. Errors
that carry no classification default to retryable, which keeps transient
transport faults in the retry path.

# Usage

	err := errdefs.NewDeployment("create service failed", cause).
		WithComponent("primary-db").
		WithOperation("deploy").
		WithHint("check backend capacity and retry").
		WithRecoverable(true)

	if errdefs.IsRetryable(err) {
		// back off and try again
	}

Sentinel errors (ErrNotRunning, ErrRecoveryInProgress, ErrCooldownActive)
cover control-flow states that callers branch on with errors.Is.
*/
package errdefs
