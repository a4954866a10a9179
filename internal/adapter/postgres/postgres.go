// Package postgres archives training events in PostgreSQL. It owns the
// connection pool and the schema migrations of the archive.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register the pgx database/sql driver used by goose
	"github.com/pressly/goose/v3"

	"github.com/Strob0t/AIDTrainer/internal/config"
)

const applicationName = "aidtrainer"

//go:embed migrations/*.sql
var migrations embed.FS

// NewPool connects to the archive database and verifies the connection.
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheck
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	return pool, nil
}

// migrator opens a goose provider over the embedded archive migrations. The
// returned close func releases the database handle.
func migrator(dsn string) (*goose.Provider, func(), error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive for migrations: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrations fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migration provider: %w", err)
	}
	return p, closeDB, nil
}

// RunMigrations brings the archive schema up to date.
func RunMigrations(ctx context.Context, dsn string) error {
	p, closeDB, err := migrator(dsn)
	if err != nil {
		return err
	}
	defer closeDB()

	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("archive migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// RollbackMigrations undoes the last steps migrations. It stops early once
// the schema is empty.
func RollbackMigrations(ctx context.Context, dsn string, steps int) error {
	p, closeDB, err := migrator(dsn)
	if err != nil {
		return err
	}
	defer closeDB()

	for range steps {
		version, err := p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("archive version: %w", err)
		}
		if version == 0 {
			return nil
		}
		r, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("roll back migration: %w", err)
		}
		slog.Info("archive migration rolled back", "version", r.Source.Version)
	}
	return nil
}

// MigrationVersion reports the version of the archive schema.
func MigrationVersion(ctx context.Context, dsn string) (int64, error) {
	p, closeDB, err := migrator(dsn)
	if err != nil {
		return 0, err
	}
	defer closeDB()

	version, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("archive version: %w", err)
	}
	return version, nil
}
