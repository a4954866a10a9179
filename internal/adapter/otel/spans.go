package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "aidtrainer"

// StartRunSpan starts a span for a training run.
func StartRunSpan(ctx context.Context, runID, name string, models int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.name", name),
			attribute.Int("run.models", models),
		),
	)
}

// StartEpochSpan starts a span for one epoch of a run.
func StartEpochSpan(ctx context.Context, runID string, epoch int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "epoch",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("epoch", epoch),
		),
	)
}

// StartCheckpointSpan starts a span for writing a checkpoint.
func StartCheckpointSpan(ctx context.Context, path, reason string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "checkpoint",
		trace.WithAttributes(
			attribute.String("checkpoint.path", path),
			attribute.String("checkpoint.reason", reason),
		),
	)
}
