package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/AIDTrainer/internal/adapter/basicaug"
	"github.com/Strob0t/AIDTrainer/internal/adapter/centroid"
	"github.com/Strob0t/AIDTrainer/internal/adapter/imagefolder"
	aidotel "github.com/Strob0t/AIDTrainer/internal/adapter/otel"
	"github.com/Strob0t/AIDTrainer/internal/adapter/ristretto"
	"github.com/Strob0t/AIDTrainer/internal/adapter/sqlite"
	"github.com/Strob0t/AIDTrainer/internal/config"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/environment"
	"github.com/Strob0t/AIDTrainer/internal/pool"
	"github.com/Strob0t/AIDTrainer/internal/port/broadcast"
	"github.com/Strob0t/AIDTrainer/internal/port/eventstore"
	"github.com/Strob0t/AIDTrainer/internal/port/messagequeue"
	"github.com/Strob0t/AIDTrainer/internal/service"
)

// engine is the training service with the reference adapters wired in.
// Dataset sources are decoded into the cache on the chores pool while the
// run starts.
type engine struct {
	*service.TrainingService

	env      environment.Environment
	provider *imagefolder.Provider
	cache    *ristretto.Cache
	chores   *pool.Pool
}

func newEngine(ctx context.Context, cfg *config.Config, hub broadcast.Broadcaster, events eventstore.Store, queue messagequeue.Queue) (*engine, error) {
	env := environment.Detect(ctx, cfg.Host.GPUs)
	slog.Info("host detected",
		"hostname", env.Hostname,
		"cpu", env.CPUSummary(),
		"memory_mb", env.TotalMemoryMB,
		"devices", env.Devices(),
	)

	metrics, err := aidotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	e := &engine{env: env, chores: pool.New("chores", cfg.Pools.Chores)}
	var opts []imagefolder.Option
	if cfg.Cache.DatasetMaxMB > 0 {
		e.cache, err = ristretto.New(cfg.Cache.DatasetMaxMB << 20)
		if err != nil {
			return nil, fmt.Errorf("dataset cache: %w", err)
		}
		opts = append(opts, imagefolder.WithCache(e.cache))
	}
	e.provider = imagefolder.New(opts...)

	ctrl := service.NewController(service.ControllerDeps{
		Loader:    centroid.Loader{},
		Provider:  e.provider,
		Augmenter: basicaug.New(uint64(time.Now().UnixNano())),
		Store:     sqlite.NewStore(),
		Env:       env,
		Augment:   pool.New("augment", cfg.Pools.Augment),
		Training:  cfg.Training,
		Metrics:   metrics,
	})
	runner := service.NewRunner(pool.New("training", cfg.Pools.Training), cfg.Training.EventBuffer)
	e.TrainingService = service.NewTrainingService(ctrl, runner, hub, events, queue)
	return e, nil
}

// Start preloads the sources of cfg in the background and submits the run.
func (e *engine) Start(ctx context.Context, cfg run.Config) (*service.RunInfo, error) {
	if e.cache != nil {
		paths := make([]string, 0, len(cfg.Sources))
		for _, src := range cfg.Sources {
			paths = append(paths, src.Path)
		}
		preloadCtx := context.WithoutCancel(ctx)
		go func() {
			err := e.chores.Run(preloadCtx, func() error {
				return e.provider.Preload(preloadCtx, paths...)
			})
			if err != nil {
				slog.Warn("dataset preload failed, reading sources directly", "error", err)
			}
		}()
	}
	return e.TrainingService.Start(ctx, cfg)
}

// Close releases the dataset cache.
func (e *engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}
