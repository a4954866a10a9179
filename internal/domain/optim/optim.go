// Package optim defines the closed set of optimizers and losses a run may use,
// their default settings, and the learning-rate schedules applied during fitting.
package optim

import (
	"fmt"
	"strings"

	"github.com/Strob0t/AIDTrainer/internal/domain"
)

// Kind identifies an optimizer.
type Kind string

const (
	SGD      Kind = "sgd"
	RMSprop  Kind = "rmsprop"
	Adam     Kind = "adam"
	Nadam    Kind = "nadam"
	Adadelta Kind = "adadelta"
	Adagrad  Kind = "adagrad"
	Adamax   Kind = "adamax"
)

var validKinds = map[Kind]bool{
	SGD: true, RMSprop: true, Adam: true, Nadam: true,
	Adadelta: true, Adagrad: true, Adamax: true,
}

// ParseKind normalizes a user-provided optimizer name. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !validKinds[k] {
		return "", fmt.Errorf("%w: unknown optimizer %q", domain.ErrConfiguration, s)
	}
	return k, nil
}

// Loss identifies a loss function.
type Loss string

const (
	CategoricalCrossentropy       Loss = "categorical_crossentropy"
	SparseCategoricalCrossentropy Loss = "sparse_categorical_crossentropy"
	MeanSquaredError              Loss = "mean_squared_error"
	MeanAbsoluteError             Loss = "mean_absolute_error"
	KLDivergence                  Loss = "kullback_leibler_divergence"
	Hinge                         Loss = "hinge"
	SquaredHinge                  Loss = "squared_hinge"
	CategoricalHinge              Loss = "categorical_hinge"
	Poisson                       Loss = "poisson"
	CosineProximity               Loss = "cosine_proximity"
)

var validLosses = map[Loss]bool{
	CategoricalCrossentropy: true, SparseCategoricalCrossentropy: true,
	MeanSquaredError: true, MeanAbsoluteError: true, KLDivergence: true,
	Hinge: true, SquaredHinge: true, CategoricalHinge: true,
	Poisson: true, CosineProximity: true,
}

// ParseLoss validates a loss name.
func ParseLoss(s string) (Loss, error) {
	l := Loss(strings.ToLower(strings.TrimSpace(s)))
	if !validLosses[l] {
		return "", fmt.Errorf("%w: unknown loss %q", domain.ErrConfiguration, s)
	}
	return l, nil
}

// Settings carries the hyper-parameters of one optimizer. Fields that do not
// apply to Kind are ignored.
type Settings struct {
	Kind         Kind    `json:"kind" yaml:"kind"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Momentum     float64 `json:"momentum,omitempty" yaml:"momentum"`
	Nesterov     bool    `json:"nesterov,omitempty" yaml:"nesterov"`
	Rho          float64 `json:"rho,omitempty" yaml:"rho"`
	Beta1        float64 `json:"beta1,omitempty" yaml:"beta1"`
	Beta2        float64 `json:"beta2,omitempty" yaml:"beta2"`
	AMSGrad      bool    `json:"amsgrad,omitempty" yaml:"amsgrad"`
}

// Defaults returns the default settings for kind.
func Defaults(kind Kind) Settings {
	switch kind {
	case SGD:
		return Settings{Kind: SGD, LearningRate: 0.01}
	case RMSprop:
		return Settings{Kind: RMSprop, LearningRate: 0.001, Rho: 0.9}
	case Adam:
		return Settings{Kind: Adam, LearningRate: 0.001, Beta1: 0.9, Beta2: 0.999}
	case Nadam:
		return Settings{Kind: Nadam, LearningRate: 0.002, Beta1: 0.9, Beta2: 0.999}
	case Adadelta:
		return Settings{Kind: Adadelta, LearningRate: 1.0, Rho: 0.95}
	case Adagrad:
		return Settings{Kind: Adagrad, LearningRate: 0.01}
	case Adamax:
		return Settings{Kind: Adamax, LearningRate: 0.002, Beta1: 0.9, Beta2: 0.999}
	default:
		return Settings{}
	}
}

// Validate checks the kind and the ranges of the relevant hyper-parameters.
func (s Settings) Validate() error {
	if !validKinds[s.Kind] {
		return fmt.Errorf("%w: unknown optimizer %q", domain.ErrConfiguration, s.Kind)
	}
	if s.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive", domain.ErrConfiguration)
	}
	if s.Momentum < 0 {
		return fmt.Errorf("%w: momentum must not be negative", domain.ErrConfiguration)
	}
	switch s.Kind {
	case Adam, Nadam, Adamax:
		if s.Beta1 <= 0 || s.Beta1 >= 1 || s.Beta2 <= 0 || s.Beta2 >= 1 {
			return fmt.Errorf("%w: %s betas must be in (0, 1)", domain.ErrConfiguration, s.Kind)
		}
	case RMSprop, Adadelta:
		if s.Rho <= 0 || s.Rho >= 1 {
			return fmt.Errorf("%w: %s rho must be in (0, 1)", domain.ErrConfiguration, s.Kind)
		}
	}
	return nil
}

// SameOptimizer reports whether a and b name the same optimizer.
// A change of kind requires recompiling the model, a change of learning rate does not.
func SameOptimizer(a, b Kind) bool {
	return strings.EqualFold(string(a), string(b))
}
