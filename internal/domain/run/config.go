package run

import (
	"slices"

	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
)

// Role marks whether a source file feeds training or validation.
type Role string

const (
	RoleTrain Role = "train"
	RoleValid Role = "valid"
)

// ColorMode is the channel layout of the images fed to the model.
type ColorMode string

const (
	ColorGrayscale ColorMode = "grayscale"
	ColorRGB       ColorMode = "rgb"
)

// Normalization is the per-image intensity normalization.
type Normalization string

const (
	NormDiv255     Normalization = "div255"
	NormImageStd   Normalization = "image_std"
	NormDatasetStd Normalization = "dataset_std"
)

// PaddingMode is the border handling used when a crop reaches the image edge.
type PaddingMode string

const (
	PadConstant  PaddingMode = "constant"
	PadEdge      PaddingMode = "edge"
	PadReflect   PaddingMode = "reflect"
	PadSymmetric PaddingMode = "symmetric"
	PadWrap      PaddingMode = "wrap"
	PadDelete    PaddingMode = "delete" // drop samples that touch the edge
)

// SourceFile is one selected dataset file.
type SourceFile struct {
	Path       string  `json:"path" yaml:"path"`
	Class      int     `json:"class" yaml:"class"`
	Role       Role    `json:"role" yaml:"role"`
	Events     int     `json:"events" yaml:"events"` // per epoch
	Shuffle    bool    `json:"shuffle" yaml:"shuffle"`
	ZoomFactor float64 `json:"zoom_factor" yaml:"zoom_factor"`
	ExtraInput bool    `json:"extra_input" yaml:"extra_input"`
}

// Range is a closed interval of an augmentation parameter.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Zero reports whether the range is unset.
func (r Range) Zero() bool { return r.Min == 0 && r.Max == 0 }

// Augmentation holds the parameters passed to the external augmenter.
type Augmentation struct {
	HorizontalFlip bool    `json:"horizontal_flip" yaml:"horizontal_flip"`
	VerticalFlip   bool    `json:"vertical_flip" yaml:"vertical_flip"`
	Rotation       float64 `json:"rotation" yaml:"rotation"`
	WidthShift     float64 `json:"width_shift" yaml:"width_shift"`
	HeightShift    float64 `json:"height_shift" yaml:"height_shift"`
	Zoom           float64 `json:"zoom" yaml:"zoom"`
	Shear          float64 `json:"shear" yaml:"shear"`

	BrightnessAdd  Range   `json:"brightness_add" yaml:"brightness_add"`
	BrightnessMult Range   `json:"brightness_mult" yaml:"brightness_mult"`
	NoiseMean      float64 `json:"noise_mean" yaml:"noise_mean"`
	NoiseScale     float64 `json:"noise_scale" yaml:"noise_scale"`
	Contrast       Range   `json:"contrast" yaml:"contrast"`
	Saturation     Range   `json:"saturation" yaml:"saturation"`
	Hue            float64 `json:"hue" yaml:"hue"`
	AverageBlur    Range   `json:"average_blur" yaml:"average_blur"`
	GaussianBlur   Range   `json:"gaussian_blur" yaml:"gaussian_blur"`
	MotionBlur     Range   `json:"motion_blur" yaml:"motion_blur"`
}

// Enabled reports whether any augmentation is configured.
func (a Augmentation) Enabled() bool {
	return a != Augmentation{}
}

// WeightMode selects how per-class loss weights are computed.
type WeightMode string

const (
	WeightsNone     WeightMode = "none"
	WeightsBalanced WeightMode = "balanced"
	WeightsCustom   WeightMode = "custom"
)

// LossWeights configures class weighting of the loss.
type LossWeights struct {
	Mode   WeightMode      `json:"mode" yaml:"mode"`
	Custom map[int]float64 `json:"custom,omitempty" yaml:"custom"`
}

// RecordPolicy decides how per-metric records combine into a checkpoint decision.
type RecordPolicy string

const (
	RecordAny RecordPolicy = "any"
	RecordAll RecordPolicy = "all"
)

// Config is the full description of a training run. It is fixed at submission
// and changes afterwards only through HotSwap at an epoch boundary.
type Config struct {
	Name          string        `json:"name,omitempty" yaml:"name"`
	Sources       []SourceFile  `json:"sources" yaml:"sources"`
	CropSize      int           `json:"crop_size" yaml:"crop_size"`
	ColorMode     ColorMode     `json:"color_mode" yaml:"color_mode"`
	Normalization Normalization `json:"normalization" yaml:"normalization"`
	ZoomOrder     int           `json:"zoom_order" yaml:"zoom_order"`
	PaddingMode   PaddingMode   `json:"padding_mode" yaml:"padding_mode"`
	Augmentation  Augmentation  `json:"augmentation" yaml:"augmentation"`

	Epochs    int    `json:"epochs" yaml:"epochs"`
	BatchSize int    `json:"batch_size" yaml:"batch_size"`
	Device    string `json:"device,omitempty" yaml:"device"`

	Loss        optim.Loss     `json:"loss" yaml:"loss"`
	Optimizer   optim.Settings `json:"optimizer" yaml:"optimizer"`
	Schedule    optim.Schedule `json:"schedule" yaml:"schedule"`
	LossWeights LossWeights    `json:"loss_weights" yaml:"loss_weights"`
	Dropout     []float64      `json:"dropout,omitempty" yaml:"dropout"`
	Metrics     []string       `json:"metrics" yaml:"metrics"`

	MetaSaveSeconds int          `json:"meta_save_seconds,omitempty" yaml:"meta_save_seconds"`
	ModelPath       string       `json:"model_path" yaml:"model_path"`
	ModelPaths      []string     `json:"model_paths,omitempty" yaml:"model_paths"` // collection members
	NewModel        bool         `json:"new_model,omitempty" yaml:"new_model"`
	RecordPolicy    RecordPolicy `json:"record_policy,omitempty" yaml:"record_policy"`
	Seed            uint64       `json:"seed,omitempty" yaml:"seed"`
}

// Members returns the model paths trained by this run. A plain run has one member.
func (c *Config) Members() []string {
	if len(c.ModelPaths) > 0 {
		return c.ModelPaths
	}
	return []string{c.ModelPath}
}

// Collection reports whether the run trains more than one model.
func (c *Config) Collection() bool { return len(c.Members()) > 1 }

// Files returns the sources with the given role.
func (c *Config) Files(role Role) []SourceFile {
	var out []SourceFile
	for _, s := range c.Sources {
		if s.Role == role {
			out = append(out, s)
		}
	}
	return out
}

// Classes returns the sorted distinct class labels of the training files.
func (c *Config) Classes() []int {
	seen := make(map[int]bool)
	var out []int
	for _, s := range c.Files(RoleTrain) {
		if !seen[s.Class] {
			seen[s.Class] = true
			out = append(out, s.Class)
		}
	}
	slices.Sort(out)
	return out
}

// EventsPerClass sums the events per epoch of the training files by class.
func (c *Config) EventsPerClass() map[int]int {
	out := make(map[int]int)
	for _, s := range c.Files(RoleTrain) {
		out[s.Class] += s.Events
	}
	return out
}

// TrainEvents is the number of training events drawn per epoch.
func (c *Config) TrainEvents() int {
	n := 0
	for _, s := range c.Files(RoleTrain) {
		n += s.Events
	}
	return n
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	out.Sources = slices.Clone(c.Sources)
	out.Dropout = slices.Clone(c.Dropout)
	out.Metrics = slices.Clone(c.Metrics)
	out.ModelPaths = slices.Clone(c.ModelPaths)
	if c.LossWeights.Custom != nil {
		out.LossWeights.Custom = make(map[int]float64, len(c.LossWeights.Custom))
		for k, v := range c.LossWeights.Custom {
			out.LossWeights.Custom[k] = v
		}
	}
	return out
}
