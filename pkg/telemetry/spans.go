package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
)

func tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// StartDeploy opens the span covering a whole deployment.
func StartDeploy(ctx context.Context, workspaceID string, components int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "deploy",
		trace.WithAttributes(
			attribute.String("workspace.id", workspaceID),
			attribute.Int("deploy.components", components),
		))
}

// StartComponent opens the span for one component inside a deploy.
func StartComponent(ctx context.Context, name, componentType string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "deploy.component",
		trace.WithAttributes(
			attribute.String("component.name", name),
			attribute.String("component.type", componentType),
		))
}

// StartRecovery opens the span for one recovery attempt.
func StartRecovery(ctx context.Context, failureType, component string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "recovery.attempt",
		trace.WithAttributes(
			attribute.String("failure.type", failureType),
			attribute.String("failure.component", component),
		))
}

// StartPoll opens the span for one orchestrator poll cycle.
func StartPoll(ctx context.Context) (context.Context, trace.Span) {
	return tracer().Start(ctx, "orchestrator.poll")
}

// EndSpan finalizes a span, recording err when present. Exported spans
// leave the process, so the error text passes the same credential
// scrubbing as logs and events.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		msg := redact.Error(err)
		span.RecordError(errors.New(msg))
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
