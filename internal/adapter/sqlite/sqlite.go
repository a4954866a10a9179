// Package sqlite implements the metadata workbook port on SQLite files. Each
// workbook is one database file with a table per sheet.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Register the pure-Go sqlite driver

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/metastore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store opens workbook files. It is safe for concurrent use on distinct paths.
type Store struct{}

// NewStore creates a Store.
func NewStore() *Store { return &Store{} }

var _ metastore.Store = (*Store)(nil)

// open connects to the file at path and applies pending migrations.
func open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping workbook %s: %w: %w", path, domain.ErrStorageUnavailable, err)
	}

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate workbook %s: %w: %w", path, domain.ErrStorageUnavailable, err)
	}
	return db, nil
}

// Open implements metastore.Store. All writes through the returned Book run in
// one transaction that commits on Close.
func (s *Store) Open(ctx context.Context, path string) (metastore.Book, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("begin workbook %s: %w", path, err)
	}
	return &Book{db: db, tx: tx, path: path}, nil
}

// Book is an open workbook.
type Book struct {
	db     *sql.DB
	tx     *sql.Tx
	path   string
	failed bool
}

// fail marks the window as failed so Close rolls it back.
func (b *Book) fail(err error) error {
	b.failed = true
	return err
}

// WriteUsedData replaces the UsedData sheet.
func (b *Book) WriteUsedData(ctx context.Context, files []run.SourceFile) error {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM used_data`); err != nil {
		return b.fail(fmt.Errorf("clear used data: %w", err))
	}
	for i, f := range files {
		_, err := b.tx.ExecContext(ctx,
			`INSERT INTO used_data (position, path, class, role, events, shuffle, zoom_factor, extra_input)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i, f.Path, f.Class, string(f.Role), f.Events, f.Shuffle, f.ZoomFactor, f.ExtraInput)
		if err != nil {
			return b.fail(fmt.Errorf("insert used data %s: %w", f.Path, err))
		}
	}
	return nil
}

// WriteOverview replaces the DataOverview sheet.
func (b *Book) WriteOverview(ctx context.Context, rows []metastore.ClassOverview) error {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM data_overview`); err != nil {
		return b.fail(fmt.Errorf("clear data overview: %w", err))
	}
	for _, r := range rows {
		_, err := b.tx.ExecContext(ctx,
			`INSERT INTO data_overview (class, train_events, valid_events) VALUES (?, ?, ?)`,
			r.Class, r.TrainEvents, r.ValidEvents)
		if err != nil {
			return b.fail(fmt.Errorf("insert overview class %d: %w", r.Class, err))
		}
	}
	return nil
}

// AppendParameters adds settings snapshots to the Parameters sheet.
func (b *Book) AppendParameters(ctx context.Context, rows ...run.ParametersRow) error {
	for _, r := range rows {
		settings, err := json.Marshal(r.Settings)
		if err != nil {
			return b.fail(fmt.Errorf("marshal settings: %w", err))
		}
		_, err = b.tx.ExecContext(ctx,
			`INSERT INTO parameters (epoch_started, host, cpu, recorded_at, settings) VALUES (?, ?, ?, ?, ?)`,
			r.EpochStarted, r.Host, r.CPU, r.Time.UTC().Format(time.RFC3339Nano), string(settings))
		if err != nil {
			return b.fail(fmt.Errorf("insert parameters from epoch %d: %w", r.EpochStarted, err))
		}
	}
	return nil
}

// AppendHistory adds epoch records to the History sheet. A record for an
// epoch already present replaces it.
func (b *Book) AppendHistory(ctx context.Context, rows ...run.EpochRecord) error {
	for _, r := range rows {
		if _, err := b.tx.ExecContext(ctx, `DELETE FROM history WHERE epoch = ?`, r.Epoch); err != nil {
			return b.fail(fmt.Errorf("replace history epoch %d: %w", r.Epoch, err))
		}
		_, err := b.tx.ExecContext(ctx,
			`INSERT INTO history (epoch, elapsed_ms, learning_rate, saved) VALUES (?, ?, ?, ?)`,
			r.Epoch, r.Elapsed.Milliseconds(), r.LearningRate, r.Saved)
		if err != nil {
			return b.fail(fmt.Errorf("insert history epoch %d: %w", r.Epoch, err))
		}
		for name, v := range r.Metrics {
			_, err := b.tx.ExecContext(ctx,
				`INSERT INTO history_metrics (epoch, name, value) VALUES (?, ?, ?)`, r.Epoch, name, v)
			if err != nil {
				return b.fail(fmt.Errorf("insert metric %s of epoch %d: %w", name, r.Epoch, err))
			}
		}
	}
	return nil
}

// Close commits the write window and releases the file. A window with a
// failed write is rolled back instead.
func (b *Book) Close() error {
	if b.failed {
		rerr := b.tx.Rollback()
		cerr := b.db.Close()
		if rerr != nil {
			return fmt.Errorf("rollback workbook %s: %w", b.path, rerr)
		}
		return cerr
	}
	if err := b.tx.Commit(); err != nil {
		_ = b.db.Close()
		return fmt.Errorf("commit workbook %s: %w: %w", b.path, domain.ErrStorageUnavailable, err)
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close workbook %s: %w", b.path, err)
	}
	return nil
}
