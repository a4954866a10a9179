package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/messagequeue"
)

// runTrain trains one run in the foreground. The first interrupt stops the
// run after the current epoch, the second closes it immediately.
func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration (default aidtrainer.yaml)")
	runPath := fs.String("run", "", "path to the YAML run configuration (required)")
	settingsPath := fs.String("settings", "", "YAML file whose changes are applied to the running run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runPath == "" {
		fs.Usage()
		return errors.New("-run is required")
	}

	// Logs go to stderr so they do not interleave with the progress bar.
	cfg, closeLog, err := setup(*configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	rc, err := readRunConfig(*runPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	name := rc.Name
	if name == "" {
		name = "training"
	}
	term := newTerminal(os.Stdout, name)
	eng, err := newEngine(ctx, cfg, term, nil, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	info, err := eng.Start(ctx, rc)
	if err != nil {
		term.Wait()
		return err
	}
	slog.Info("training started", "run_id", info.ID, "models", info.Models, "epochs", info.Epochs)

	if *settingsPath != "" {
		apply := func(swap run.HotSwap) error {
			return eng.Control(ctx, info.ID, messagequeue.ActionApply, &swap)
		}
		if err := watchSettings(ctx, *settingsPath, apply); err != nil {
			slog.Warn("settings file not watched", "error", err)
		}
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		action := messagequeue.ActionStop
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
			}
			if err := eng.Control(ctx, info.ID, action, nil); err != nil {
				slog.Warn("interrupt ignored", "action", action, "error", err)
			} else if action == messagequeue.ActionStop {
				slog.Info("stopping after the current epoch, interrupt again to close now")
			}
			action = messagequeue.ActionClose
		}
	}()

	out, err := eng.Wait(ctx, info.ID)
	term.Wait()
	if out != nil {
		printSummary(os.Stdout, out)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", info.ID, err)
	}
	if out != nil && out.State == run.StateFailed {
		return fmt.Errorf("run %s failed: %s", info.ID, out.Error)
	}
	return nil
}
