package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Strob0t/AIDTrainer/internal/adapter/centroid"
	"github.com/Strob0t/AIDTrainer/internal/adapter/postgres"
	"github.com/Strob0t/AIDTrainer/internal/adapter/sqlite"
	"github.com/Strob0t/AIDTrainer/internal/port/model"
	"github.com/Strob0t/AIDTrainer/internal/service"
)

// runInitModel writes an untrained model for every member of a run.
func runInitModel(args []string) error {
	fs := flag.NewFlagSet("init-model", flag.ContinueOnError)
	runPath := fs.String("run", "", "path to the YAML run configuration (required)")
	force := fs.Bool("force", false, "overwrite existing model files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runPath == "" {
		fs.Usage()
		return errors.New("-run is required")
	}
	if _, closeLog, err := setup("", os.Stderr); err == nil {
		defer closeLog.Close()
	}

	rc, err := readRunConfig(*runPath)
	if err != nil {
		return err
	}
	opts := model.CompileOptions{Loss: rc.Loss, Optimizer: rc.Optimizer, Metrics: rc.Metrics, Dropout: rc.Dropout}
	for _, path := range rc.Members() {
		if path == "" {
			return errors.New("run configuration has no model path")
		}
		if _, err := os.Stat(path); err == nil && !*force {
			slog.Info("model exists, skipped", "path", path)
			continue
		}
		m, err := centroid.New(rc.Classes(), opts)
		if err != nil {
			return fmt.Errorf("model %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("model dir: %w", err)
		}
		if err := m.Save(path); err != nil {
			return err
		}
		slog.Info("model created", "path", path, "classes", m.Classes())
	}
	return nil
}

// runInspect prints the metadata workbook stored next to a model.
func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	modelPath := fs.String("model", "", "model whose workbook is printed")
	workbook := fs.String("workbook", "", "workbook file to print instead of the one next to -model")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *workbook
	if path == "" {
		if *modelPath == "" {
			fs.Usage()
			return errors.New("-model or -workbook is required")
		}
		path = service.MetaPath(*modelPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	wb, err := sqlite.Read(ctx, path)
	if err != nil {
		return err
	}
	printWorkbook(os.Stdout, path, wb)
	return nil
}

func printWorkbook(w io.Writer, path string, wb *sqlite.Workbook) {
	fmt.Fprintf(w, "%s\n\n", path)

	used := table.NewWriter()
	used.SetOutputMirror(w)
	used.SetStyle(table.StyleLight)
	used.SetTitle("Used data")
	used.AppendHeader(table.Row{"Path", "Class", "Role", "Events", "Shuffle", "Zoom"})
	for _, f := range wb.UsedData {
		used.AppendRow(table.Row{f.Path, f.Class, f.Role, f.Events, f.Shuffle, f.ZoomFactor})
	}
	used.Render()

	overview := table.NewWriter()
	overview.SetOutputMirror(w)
	overview.SetStyle(table.StyleLight)
	overview.SetTitle("Data overview")
	overview.AppendHeader(table.Row{"Class", "Train events", "Valid events"})
	for _, o := range wb.Overview {
		overview.AppendRow(table.Row{o.Class, o.TrainEvents, o.ValidEvents})
	}
	overview.Render()

	params := table.NewWriter()
	params.SetOutputMirror(w)
	params.SetStyle(table.StyleLight)
	params.SetTitle("Parameters")
	params.AppendHeader(table.Row{"Epoch started", "Time", "Host", "Optimizer", "LR", "Loss", "Epochs"})
	for _, p := range wb.Parameters {
		params.AppendRow(table.Row{
			p.EpochStarted, p.Time.Format(time.RFC3339), p.Host,
			p.Settings.Optimizer.Kind, p.Settings.Optimizer.LearningRate, p.Settings.Loss, p.Settings.Epochs,
		})
	}
	params.Render()

	history := table.NewWriter()
	history.SetOutputMirror(w)
	history.SetStyle(table.StyleLight)
	history.SetTitle("History")
	history.AppendHeader(table.Row{"Epoch", "Metrics", "LR", "Saved", "Elapsed"})
	for _, h := range wb.History {
		history.AppendRow(table.Row{h.Epoch, formatMetrics(h.Metrics), h.LearningRate, h.Saved, h.Elapsed.Round(time.Millisecond)})
	}
	history.Render()
}

// runMigrate applies or rolls back the event archive schema.
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration (default aidtrainer.yaml)")
	steps := fs.Int("steps", 1, "number of migrations to roll back with down")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, closeLog, err := setup(*configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog.Close()
	if cfg.Postgres.DSN == "" {
		return errors.New("no postgres dsn configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cmd := "up"
	if fs.NArg() > 0 {
		cmd = fs.Arg(0)
	}
	switch cmd {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
	case "down":
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate command: %s", cmd)
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d\n", v)
	return nil
}
