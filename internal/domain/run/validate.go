package run

import (
	"fmt"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
)

var validRoles = map[Role]bool{RoleTrain: true, RoleValid: true}

var validColorModes = map[ColorMode]bool{ColorGrayscale: true, ColorRGB: true}

var validNormalizations = map[Normalization]bool{
	NormDiv255:     true,
	NormImageStd:   true,
	NormDatasetStd: true,
}

var validPaddingModes = map[PaddingMode]bool{
	PadConstant:  true,
	PadEdge:      true,
	PadReflect:   true,
	PadSymmetric: true,
	PadWrap:      true,
	PadDelete:    true,
}

var validWeightModes = map[WeightMode]bool{
	WeightsNone:     true,
	WeightsBalanced: true,
	WeightsCustom:   true,
}

var validRecordPolicies = map[RecordPolicy]bool{RecordAny: true, RecordAll: true}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks that the configuration describes a runnable training run.
// Every failure wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	if c.ModelPath == "" && len(c.ModelPaths) == 0 {
		return configErr("model path is required")
	}
	for i, p := range c.ModelPaths {
		if p == "" {
			return configErr("model_paths[%d] is empty", i)
		}
	}
	for i, s := range c.Sources {
		if s.Path == "" {
			return configErr("sources[%d]: path is required", i)
		}
		if !validRoles[s.Role] {
			return configErr("sources[%d]: invalid role %q", i, s.Role)
		}
		if s.Events <= 0 {
			return configErr("sources[%d]: events per epoch must be positive", i)
		}
		if s.ZoomFactor < 0 {
			return configErr("sources[%d]: zoom factor must not be negative", i)
		}
	}
	if len(c.Files(RoleTrain)) == 0 {
		return configErr("at least one training source is required")
	}
	if n := len(c.Classes()); n < 2 {
		return configErr("at least two training classes are required, got %d", n)
	}
	if c.CropSize <= 0 {
		return configErr("crop size must be positive")
	}
	if c.ColorMode != "" && !validColorModes[c.ColorMode] {
		return configErr("invalid color mode %q", c.ColorMode)
	}
	if c.Normalization != "" && !validNormalizations[c.Normalization] {
		return configErr("invalid normalization %q", c.Normalization)
	}
	if c.ZoomOrder < 0 || c.ZoomOrder > 5 {
		return configErr("zoom order must be in [0, 5]")
	}
	if c.Epochs <= 0 {
		return configErr("epochs must be positive")
	}
	if c.BatchSize <= 0 {
		return configErr("batch size must be positive")
	}
	if _, err := optim.ParseLoss(string(c.Loss)); err != nil {
		return err
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}
	if c.MetaSaveSeconds < 0 {
		return configErr("meta save interval must not be negative")
	}
	if c.RecordPolicy != "" && !validRecordPolicies[c.RecordPolicy] {
		return configErr("invalid record policy %q", c.RecordPolicy)
	}
	return c.validateMutable()
}

// validateMutable checks the fields a hot-swap may change.
func (c *Config) validateMutable() error {
	if c.PaddingMode != "" && !validPaddingModes[c.PaddingMode] {
		return configErr("invalid padding mode %q", c.PaddingMode)
	}
	if c.LossWeights.Mode != "" && !validWeightModes[c.LossWeights.Mode] {
		return configErr("invalid loss weight mode %q", c.LossWeights.Mode)
	}
	for k, w := range c.LossWeights.Custom {
		if w < 0 {
			return configErr("loss weight of class %d must not be negative", k)
		}
	}
	for i, d := range c.Dropout {
		if d < 0 || d >= 1 {
			return configErr("dropout[%d] must be in [0, 1)", i)
		}
	}
	return nil
}
