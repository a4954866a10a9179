// Package model defines the port for the external trainable model.
//
// A Model is move-only: it is loaded by path inside the worker that trains it
// and is never shared with another goroutine. Handing a model to another
// worker means saving it and loading it again on the other side.
package model

import (
	"context"

	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
	"github.com/Strob0t/AIDTrainer/internal/port/dataset"
)

// Metrics maps metric names (loss, accuracy, val_loss, ...) to values.
type Metrics map[string]float64

// CompileOptions configures the loss and optimizer of a model.
type CompileOptions struct {
	Loss      optim.Loss
	Optimizer optim.Settings
	Metrics   []string
	Dropout   []float64
}

// FitOptions parameterizes one fit step.
type FitOptions struct {
	ClassWeights map[int]float64
	Validation   *dataset.Batch
	BatchSize    int
	// Scheduler, when active, sets the learning rate per batch iteration.
	Scheduler *optim.Scheduler
}

// Model is a trainable image classifier.
type Model interface {
	// FitStep trains on batch and evaluates on opts.Validation.
	FitStep(ctx context.Context, batch *dataset.Batch, opts FitOptions) (Metrics, error)
	// Save persists the model to path.
	Save(path string) error
	// Compile (re)configures loss and optimizer. It resets optimizer state.
	Compile(opts CompileOptions) error
	Loss() optim.Loss
	Optimizer() optim.Kind
	Dropout() []float64
	LearningRate() float64
	SetLearningRate(lr float64)
	Close() error
}

// Loader opens a model by path.
type Loader interface {
	Load(ctx context.Context, path string) (Model, error)
}
