package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "aidtrainer"

// Metrics holds all AIDTrainer metric instruments.
type Metrics struct {
	RunsStarted   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	RunsFailed    metric.Int64Counter
	Epochs        metric.Int64Counter
	Checkpoints   metric.Int64Counter
	Fallbacks     metric.Int64Counter
	EpochDuration metric.Float64Histogram
	FlushDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("aidtrainer.runs.started",
		metric.WithDescription("Number of training runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("aidtrainer.runs.completed",
		metric.WithDescription("Number of training runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("aidtrainer.runs.failed",
		metric.WithDescription("Number of training runs failed"))
	if err != nil {
		return nil, err
	}

	m.Epochs, err = meter.Int64Counter("aidtrainer.epochs",
		metric.WithDescription("Number of epochs fitted, per model"))
	if err != nil {
		return nil, err
	}

	m.Checkpoints, err = meter.Int64Counter("aidtrainer.checkpoints",
		metric.WithDescription("Number of checkpoints written"))
	if err != nil {
		return nil, err
	}

	m.Fallbacks, err = meter.Int64Counter("aidtrainer.fallbacks",
		metric.WithDescription("Number of switches to a fallback directory"))
	if err != nil {
		return nil, err
	}

	m.EpochDuration, err = meter.Float64Histogram("aidtrainer.epoch.duration_seconds",
		metric.WithDescription("Epoch duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.FlushDuration, err = meter.Float64Histogram("aidtrainer.metalog.flush_seconds",
		metric.WithDescription("Metadata flush duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted counts a started run. All recorders accept a nil receiver.
func (m *Metrics) RunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.RunsStarted.Add(ctx, 1)
}

// RunEnded counts a finished run by its final state.
func (m *Metrics) RunEnded(ctx context.Context, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.RunsFailed.Add(ctx, 1)
		return
	}
	m.RunsCompleted.Add(ctx, 1)
}

// EpochFitted records one fitted epoch of one model.
func (m *Metrics) EpochFitted(ctx context.Context, modelPath string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model.path", modelPath))
	m.Epochs.Add(ctx, 1, attrs)
	m.EpochDuration.Record(ctx, d.Seconds(), attrs)
}

// CheckpointSaved counts a checkpoint by reason.
func (m *Metrics) CheckpointSaved(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.Checkpoints.Add(ctx, 1, metric.WithAttributes(attribute.String("checkpoint.reason", reason)))
}

// FallbackActivated counts a switch to a fallback directory.
func (m *Metrics) FallbackActivated(ctx context.Context) {
	if m == nil {
		return
	}
	m.Fallbacks.Add(ctx, 1)
}

// Flushed records the duration of one metadata flush.
func (m *Metrics) Flushed(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.FlushDuration.Record(ctx, d.Seconds())
}
