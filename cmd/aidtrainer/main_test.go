package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/AIDTrainer/internal/adapter/sqlite"
	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/optim"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/metastore"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadRunConfig(t *testing.T) {
	path := writeFile(t, "run.yaml", `
name: cells
sources:
  - {path: a.png, class: 0, role: train, events: 20}
  - {path: b.png, class: 1, role: train, events: 20}
crop_size: 16
color_mode: rgb
epochs: 4
batch_size: 8
loss: categorical_crossentropy
optimizer: {kind: sgd, learning_rate: 0.05, momentum: 0.9}
model_path: models/cells.model
`)
	cfg, err := readRunConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "cells" || len(cfg.Sources) != 2 || cfg.Epochs != 4 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Optimizer.Kind != optim.SGD || cfg.Optimizer.Momentum != 0.9 {
		t.Errorf("unexpected optimizer: %+v", cfg.Optimizer)
	}
	if cfg.Sources[1].Role != run.RoleTrain || cfg.Sources[1].Class != 1 {
		t.Errorf("unexpected source: %+v", cfg.Sources[1])
	}
}

func TestReadRunConfigRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "run.yaml", "epochz: 3\n")
	_, err := readRunConfig(path)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestReadHotSwap(t *testing.T) {
	swap, err := readHotSwap(writeFile(t, "live.yaml", "epochs: 12\nlearning_rate: 0.001\n"))
	if err != nil {
		t.Fatal(err)
	}
	if swap.Epochs == nil || *swap.Epochs != 12 || swap.LearningRate == nil || swap.Optimizer != nil {
		t.Errorf("unexpected swap: %+v", swap)
	}

	if _, err := readHotSwap(writeFile(t, "bad.yaml", "epochs: 0\n")); err == nil {
		t.Error("expected validation error for zero epochs")
	}

	empty, err := readHotSwap(writeFile(t, "empty.yaml", ""))
	if err != nil || !empty.Empty() {
		t.Errorf("empty file should be an empty swap, got %+v, %v", empty, err)
	}
}

func TestWatchSettingsAppliesChanges(t *testing.T) {
	path := writeFile(t, "live.yaml", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan run.HotSwap, 4)
	if err := watchSettings(ctx, path, func(s run.HotSwap) error {
		applied <- s
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("epochs: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-applied:
		if s.Epochs == nil || *s.Epochs != 7 {
			t.Errorf("unexpected swap: %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("settings change was not applied")
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &run.Outcome{
		RunID:       "r1",
		State:       run.StateCompleted,
		Epochs:      3,
		Interrupted: true,
		Members: []run.MemberOutcome{{
			ModelPath:   "m.model",
			Epochs:      3,
			Records:     map[string]float64{"val_loss": 0.25},
			Checkpoints: []run.CheckpointEvent{{Epoch: 2, Path: "m.model", Reason: run.ReasonRecordBroken}},
		}},
	})
	out := buf.String()
	for _, want := range []string{"r1", "stopped early", "m.model (epoch 2)", "val_loss=0.2500"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary misses %q:\n%s", want, out)
		}
	}
}

func TestPrintWorkbook(t *testing.T) {
	var buf bytes.Buffer
	printWorkbook(&buf, "m.meta", &sqlite.Workbook{
		UsedData:   []run.SourceFile{{Path: "a.png", Class: 0, Role: run.RoleTrain, Events: 10}},
		Overview:   []metastore.ClassOverview{{Class: 0, TrainEvents: 10}},
		Parameters: []run.ParametersRow{{EpochStarted: 1, Settings: run.Config{Epochs: 3, Optimizer: optim.Defaults(optim.Adam)}}},
		History:    []run.EpochRecord{{Epoch: 1, Metrics: map[string]float64{"loss": 1.5}}},
	})
	out := buf.String()
	for _, want := range []string{"a.png", "Parameters", "adam", "loss=1.5000"} {
		if !strings.Contains(strings.ToLower(out), strings.ToLower(want)) {
			t.Errorf("workbook output misses %q:\n%s", want, out)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := runCLI([]string{"explode"}); err == nil {
		t.Error("expected error for unknown command")
	}
}
