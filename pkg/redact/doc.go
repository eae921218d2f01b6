/*
Package redact strips credential-shaped substrings from outbound text.

Deployment specs embed connection strings, tokens, and passwords in
component configuration, and those values leak into backend error bodies
and readiness messages. Every error message, event payload, and logged
configuration map passes through this package before leaving the process:
driver errors at construction, events at publication, audit records at
persistence.

The contract is replacement with a fixed marker, applied always, not
best-effort. Pattern matching may over-redact; that is the accepted
trade-off.

	msg := redact.String("deploy failed: password=hunter2")
	// "deploy failed: [REDACTED]"
*/
package redact
