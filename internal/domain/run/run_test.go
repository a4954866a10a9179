package run

import (
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
)

func validConfig() Config {
	return Config{
		Sources: []SourceFile{
			{Path: "a", Class: 0, Role: RoleTrain, Events: 100},
			{Path: "b", Class: 1, Role: RoleTrain, Events: 100},
			{Path: "c", Class: 0, Role: RoleValid, Events: 20},
		},
		CropSize:  32,
		Epochs:    5,
		BatchSize: 16,
		Loss:      optim.CategoricalCrossentropy,
		Optimizer: optim.Defaults(optim.Adam),
		ModelPath: "/tmp/m.model",
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no model path", func(c *Config) { c.ModelPath = "" }, "model path"},
		{"one class", func(c *Config) { c.Sources[1].Class = 0 }, "two training classes"},
		{"only validation sources", func(c *Config) {
			for i := range c.Sources {
				c.Sources[i].Role = RoleValid
			}
		}, "training source"},
		{"second class only in validation", func(c *Config) { c.Sources[1].Role = RoleValid; c.Sources[2].Class = 1 }, "two training classes"},
		{"zero epochs", func(c *Config) { c.Epochs = 0 }, "epochs"},
		{"bad role", func(c *Config) { c.Sources[0].Role = "test" }, "role"},
		{"zero events", func(c *Config) { c.Sources[0].Events = 0 }, "events"},
		{"bad loss", func(c *Config) { c.Loss = "focal" }, "loss"},
		{"bad dropout", func(c *Config) { c.Dropout = []float64{1.2} }, "dropout"},
		{"bad policy", func(c *Config) { c.RecordPolicy = "most" }, "record policy"},
		{"collection", func(c *Config) { c.ModelPath = ""; c.ModelPaths = []string{"a", "b"} }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigHelpers(t *testing.T) {
	c := validConfig()
	if got := c.Classes(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Classes() = %v", got)
	}
	if got := c.TrainEvents(); got != 200 {
		t.Errorf("TrainEvents() = %d, want 200", got)
	}
	if got := c.Members(); len(got) != 1 || got[0] != c.ModelPath {
		t.Errorf("Members() = %v", got)
	}
	if c.Collection() {
		t.Error("single model run reported as collection")
	}
}

func TestConfigCloneIsDeep(t *testing.T) {
	c := validConfig()
	c.Dropout = []float64{0.5}
	clone := c.Clone()
	clone.Dropout[0] = 0.1
	clone.Sources[0].Path = "changed"
	if c.Dropout[0] != 0.5 || c.Sources[0].Path != "a" {
		t.Fatal("clone shares memory with original")
	}
}

func TestHotSwap(t *testing.T) {
	epochs := 10
	loss := optim.MeanSquaredError
	lr := 0.01
	h := HotSwap{Epochs: &epochs}.Merge(HotSwap{Loss: &loss, LearningRate: &lr})
	if h.Empty() {
		t.Fatal("merged swap is empty")
	}
	if err := h.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	c := validConfig()
	if !h.ApplyTo(&c) {
		t.Error("expected loss change")
	}
	if c.Epochs != 10 || c.Loss != optim.MeanSquaredError || c.Optimizer.LearningRate != 0.01 {
		t.Errorf("config after swap = %+v", c)
	}
	if h.ApplyTo(&c) {
		t.Error("reapplying the same loss must not count as a change")
	}
}

func TestHotSwapValidateRejects(t *testing.T) {
	zero := 0
	bad := PaddingMode("mirror")
	for _, h := range []HotSwap{{Epochs: &zero}, {PaddingMode: &bad}, {Dropout: []float64{-1}}} {
		if err := h.Validate(); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Validate(%+v) = %v, want ErrConfiguration", h, err)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	if !StateCompleted.Terminal() || !StateFailed.Terminal() {
		t.Error("completed and failed are terminal")
	}
	if StateRunning.Terminal() || StatePaused.Terminal() {
		t.Error("running and paused are not terminal")
	}
}
