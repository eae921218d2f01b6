/*
Package telemetry wires OpenTelemetry tracing for the control plane.

New installs a tracer provider globally when tracing is enabled;
disabled, it installs nothing and every span started through this
package stays a non-recording no-op. The exporter is OTLP/gRPC when an
endpoint is configured, stdout otherwise, with parent-based head
sampling.

The span vocabulary is fixed here rather than at the call sites:

	deploy               one whole deployment, workspace + size
	deploy.component     one component inside it
	recovery.attempt     one recovery run, failure type + component
	orchestrator.poll    one poll cycle

EndSpan finalizes with error recording. Span error text is redacted
the same way logs and events are, because exported spans leave the
process.

# Integration Points

	cmd/mobius: New at startup, Shutdown on exit
	api:        request spans via the tracing middleware
	config:     Telemetry section feeds Config
*/
package telemetry
