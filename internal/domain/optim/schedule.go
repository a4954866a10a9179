package optim

import (
	"fmt"
	"math"

	"github.com/Strob0t/AIDTrainer/internal/domain"
)

// ScheduleKind selects how the learning rate evolves across batch iterations.
type ScheduleKind string

const (
	ScheduleConstant    ScheduleKind = "constant"
	ScheduleCyclic      ScheduleKind = "cyclic"
	ScheduleExponential ScheduleKind = "exponential"
)

// CyclicMode is the amplitude policy of a cyclic schedule.
type CyclicMode string

const (
	Triangular  CyclicMode = "triangular"
	Triangular2 CyclicMode = "triangular2"
	ExpRange    CyclicMode = "exp_range"
)

// Schedule describes a learning-rate schedule.
type Schedule struct {
	Kind ScheduleKind `json:"kind" yaml:"kind"`

	// Cyclic
	MinLR    float64    `json:"min_lr,omitempty" yaml:"min_lr"`
	MaxLR    float64    `json:"max_lr,omitempty" yaml:"max_lr"`
	Mode     CyclicMode `json:"mode,omitempty" yaml:"mode"`
	StepSize float64    `json:"step_size,omitempty" yaml:"step_size"`
	Gamma    float64    `json:"gamma,omitempty" yaml:"gamma"`

	// Exponential decay
	InitialLR  float64 `json:"initial_lr,omitempty" yaml:"initial_lr"`
	DecaySteps float64 `json:"decay_steps,omitempty" yaml:"decay_steps"`
	DecayRate  float64 `json:"decay_rate,omitempty" yaml:"decay_rate"`
}

// Validate checks the schedule parameters.
func (s Schedule) Validate() error {
	switch s.Kind {
	case "", ScheduleConstant:
		return nil
	case ScheduleCyclic:
		if s.MinLR <= 0 || s.MaxLR < s.MinLR {
			return fmt.Errorf("%w: cyclic schedule needs 0 < min_lr <= max_lr", domain.ErrConfiguration)
		}
		if s.StepSize <= 0 {
			return fmt.Errorf("%w: cyclic schedule needs a positive step size", domain.ErrConfiguration)
		}
		switch s.Mode {
		case Triangular, Triangular2:
		case ExpRange:
			if s.Gamma <= 0 || s.Gamma > 1 {
				return fmt.Errorf("%w: exp_range gamma must be in (0, 1]", domain.ErrConfiguration)
			}
		default:
			return fmt.Errorf("%w: unknown cyclic mode %q", domain.ErrConfiguration, s.Mode)
		}
		return nil
	case ScheduleExponential:
		if s.InitialLR <= 0 || s.DecaySteps <= 0 || s.DecayRate <= 0 {
			return fmt.Errorf("%w: exponential decay needs positive initial_lr, decay_steps and decay_rate", domain.ErrConfiguration)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown schedule %q", domain.ErrConfiguration, s.Kind)
	}
}

// Scheduler tracks the iteration counter of a schedule. A Scheduler is owned by
// a single training worker and is not safe for concurrent use.
type Scheduler struct {
	s          Schedule
	iterations float64
}

// NewScheduler returns a scheduler at iteration zero.
func NewScheduler(s Schedule) *Scheduler {
	return &Scheduler{s: s}
}

// Schedule returns the schedule in effect.
func (sc *Scheduler) Schedule() Schedule { return sc.s }

// Reset replaces the schedule and restarts the iteration counter.
func (sc *Scheduler) Reset(s Schedule) {
	sc.s = s
	sc.iterations = 0
}

// Step advances the iteration counter by one batch.
func (sc *Scheduler) Step() { sc.iterations++ }

// Active reports whether the schedule overrides the optimizer's learning rate.
func (sc *Scheduler) Active() bool {
	return sc.s.Kind == ScheduleCyclic || sc.s.Kind == ScheduleExponential
}

// Rate returns the learning rate for the current iteration. For a constant
// schedule fallback is returned unchanged.
func (sc *Scheduler) Rate(fallback float64) float64 {
	switch sc.s.Kind {
	case ScheduleCyclic:
		return cyclicRate(sc.s, sc.iterations)
	case ScheduleExponential:
		return sc.s.InitialLR * math.Pow(sc.s.DecayRate, sc.iterations/sc.s.DecaySteps)
	default:
		return fallback
	}
}

func cyclicRate(s Schedule, it float64) float64 {
	if it == 0 {
		return s.MinLR
	}
	cycle := math.Floor(1 + it/(2*s.StepSize))
	x := math.Abs(it/s.StepSize - 2*cycle + 1)
	amp := (s.MaxLR - s.MinLR) * math.Max(0, 1-x)
	switch s.Mode {
	case Triangular2:
		return s.MinLR + amp/math.Pow(2, cycle-1)
	case ExpRange:
		return s.MinLR + amp*math.Pow(s.Gamma, it)
	default:
		return s.MinLR + amp
	}
}

// CyclicStepSize converts a step size expressed in epochs into batch iterations:
// stepEpochs * round(trainEvents / batchSize).
func CyclicStepSize(stepEpochs float64, trainEvents, batchSize int) float64 {
	if batchSize <= 0 {
		return stepEpochs
	}
	return stepEpochs * math.Round(float64(trainEvents)/float64(batchSize))
}

// RateChanged reports whether two learning rates differ enough to be applied.
func RateChanged(current, next float64) bool {
	return math.Abs(current-next) > 1e-6
}
