package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	aidhttp "github.com/Strob0t/AIDTrainer/internal/adapter/http"
	aidnats "github.com/Strob0t/AIDTrainer/internal/adapter/nats"
	aidotel "github.com/Strob0t/AIDTrainer/internal/adapter/otel"
	"github.com/Strob0t/AIDTrainer/internal/adapter/postgres"
	"github.com/Strob0t/AIDTrainer/internal/adapter/ws"
	"github.com/Strob0t/AIDTrainer/internal/middleware"
	"github.com/Strob0t/AIDTrainer/internal/port/broadcast"
	"github.com/Strob0t/AIDTrainer/internal/port/eventstore"
	"github.com/Strob0t/AIDTrainer/internal/port/messagequeue"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration (default aidtrainer.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, closeLog, err := setup(*configPath, os.Stdout)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"archive", cfg.Postgres.DSN != "",
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	shutdownOtel, err := aidotel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	// PostgreSQL event archive
	var (
		events  eventstore.Store
		archive aidhttp.Archive
	)
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		store := postgres.NewEventStore(pool)
		events, archive = store, store
	}

	// NATS
	hub := ws.NewHub()
	sinks := broadcast.Multi{hub}
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := aidnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Close() }()
		queue = q
		sinks = append(sinks, aidnats.NewEventPublisher(q))
	}

	// --- Services ---

	eng, err := newEngine(ctx, cfg, sinks, events, queue)
	if err != nil {
		return err
	}
	defer eng.Close()

	cancels, err := eng.StartSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("control subscriber: %w", err)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	// --- HTTP ---

	handlers := &aidhttp.Handlers{
		Runs:    eng,
		Archive: archive,
		Queue:   queue,
		Env:     eng.env,
		Version: version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(aidhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(aidhttp.SecurityHeaders)
	r.Use(aidhttp.CORS(cfg.Server.CORSOrigin))
	aidhttp.MountRoutes(r, handlers, http.HandlerFunc(hub.HandleWS))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           aidotel.HTTPMiddleware(cfg.Telemetry.ServiceName)(r),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	// Closing the live runs flushes their metadata.
	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.Error("training shutdown", "error", err)
	}
	hub.Close()
	if queue != nil {
		if err := queue.Drain(); err != nil {
			slog.Error("nats drain", "error", err)
		}
	}
	return nil
}
