package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
)

// settingsDebounce coalesces the bursts of events editors produce on save.
const settingsDebounce = 200 * time.Millisecond

// readRunConfig decodes a YAML run configuration. Unknown keys are rejected.
func readRunConfig(path string) (run.Config, error) {
	var cfg run.Config
	if err := decodeYAMLFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// readHotSwap decodes a YAML settings file. Only the keys present change.
func readHotSwap(path string) (run.HotSwap, error) {
	var swap run.HotSwap
	if err := decodeYAMLFile(path, &swap); err != nil {
		return swap, err
	}
	if err := swap.Validate(); err != nil {
		return swap, err
	}
	return swap, nil
}

func decodeYAMLFile(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is a CLI argument
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse %s: %v", domain.ErrConfiguration, path, err)
	}
	return nil
}

// watchSettings calls apply with the content of path every time the file is
// written, until ctx is done. The directory is watched so editors that
// replace the file on save are seen.
func watchSettings(ctx context.Context, path string, apply func(run.HotSwap) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Info("watching settings file", "path", abs)

	go func() {
		defer func() { _ = watcher.Close() }()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(settingsDebounce, func() {
					swap, err := readHotSwap(abs)
					if err != nil {
						slog.Warn("settings file ignored", "path", abs, "error", err)
						return
					}
					if swap.Empty() {
						return
					}
					if err := apply(swap); err != nil {
						slog.Warn("settings not applied", "path", abs, "error", err)
						return
					}
					slog.Info("settings applied, effective after the current epoch", "path", abs)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("settings watcher error", "error", err)
			}
		}
	}()
	return nil
}
