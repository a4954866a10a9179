package run

import (
	"slices"

	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
)

// HotSwap is a pending change of the mutable subset of a Config. Nil fields are
// left unchanged. It takes effect at the next epoch boundary.
type HotSwap struct {
	Epochs       *int            `json:"epochs,omitempty" yaml:"epochs"`
	PaddingMode  *PaddingMode    `json:"padding_mode,omitempty" yaml:"padding_mode"`
	Schedule     *optim.Schedule `json:"schedule,omitempty" yaml:"schedule"`
	LossWeights  *LossWeights    `json:"loss_weights,omitempty" yaml:"loss_weights"`
	Dropout      []float64       `json:"dropout,omitempty" yaml:"dropout"`
	Augmentation *Augmentation   `json:"augmentation,omitempty" yaml:"augmentation"`
	Loss         *optim.Loss     `json:"loss,omitempty" yaml:"loss"`
	Optimizer    *optim.Settings `json:"optimizer,omitempty" yaml:"optimizer"`
	LearningRate *float64        `json:"learning_rate,omitempty" yaml:"learning_rate"`
}

// Empty reports whether the swap changes nothing.
func (h HotSwap) Empty() bool {
	return h.Epochs == nil && h.PaddingMode == nil && h.Schedule == nil &&
		h.LossWeights == nil && h.Dropout == nil && h.Augmentation == nil &&
		h.Loss == nil && h.Optimizer == nil && h.LearningRate == nil
}

// Merge returns h overlaid with the non-nil fields of next.
func (h HotSwap) Merge(next HotSwap) HotSwap {
	if next.Epochs != nil {
		h.Epochs = next.Epochs
	}
	if next.PaddingMode != nil {
		h.PaddingMode = next.PaddingMode
	}
	if next.Schedule != nil {
		h.Schedule = next.Schedule
	}
	if next.LossWeights != nil {
		h.LossWeights = next.LossWeights
	}
	if next.Dropout != nil {
		h.Dropout = slices.Clone(next.Dropout)
	}
	if next.Augmentation != nil {
		h.Augmentation = next.Augmentation
	}
	if next.Loss != nil {
		h.Loss = next.Loss
	}
	if next.Optimizer != nil {
		h.Optimizer = next.Optimizer
	}
	if next.LearningRate != nil {
		h.LearningRate = next.LearningRate
	}
	return h
}

// Validate checks the swapped values in isolation.
func (h HotSwap) Validate() error {
	if h.Epochs != nil && *h.Epochs <= 0 {
		return configErr("epochs must be positive")
	}
	if h.Loss != nil {
		if _, err := optim.ParseLoss(string(*h.Loss)); err != nil {
			return err
		}
	}
	if h.Optimizer != nil {
		if err := h.Optimizer.Validate(); err != nil {
			return err
		}
	}
	if h.LearningRate != nil && *h.LearningRate <= 0 {
		return configErr("learning rate must be positive")
	}
	if h.Schedule != nil {
		if err := h.Schedule.Validate(); err != nil {
			return err
		}
	}
	probe := Config{}
	if h.PaddingMode != nil {
		probe.PaddingMode = *h.PaddingMode
	}
	if h.LossWeights != nil {
		probe.LossWeights = *h.LossWeights
	}
	probe.Dropout = h.Dropout
	return probe.validateMutable()
}

// ApplyTo writes the swap into cfg. It reports whether the loss function changed.
func (h HotSwap) ApplyTo(cfg *Config) (lossChanged bool) {
	if h.Epochs != nil {
		cfg.Epochs = *h.Epochs
	}
	if h.PaddingMode != nil {
		cfg.PaddingMode = *h.PaddingMode
	}
	if h.Schedule != nil {
		cfg.Schedule = *h.Schedule
	}
	if h.LossWeights != nil {
		cfg.LossWeights = *h.LossWeights
	}
	if h.Dropout != nil {
		cfg.Dropout = slices.Clone(h.Dropout)
	}
	if h.Augmentation != nil {
		cfg.Augmentation = *h.Augmentation
	}
	if h.Loss != nil && *h.Loss != cfg.Loss {
		cfg.Loss = *h.Loss
		lossChanged = true
	}
	if h.Optimizer != nil {
		cfg.Optimizer = *h.Optimizer
	}
	if h.LearningRate != nil {
		cfg.Optimizer.LearningRate = *h.LearningRate
	}
	return lossChanged
}
