package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/metastore"
)

// MetaSuffix is appended to the model stem to name the metadata workbook.
const MetaSuffix = "_meta.db"

// MetaPath returns the workbook path of a model: <dir>/<stem>_meta.db.
func MetaPath(modelPath string) string {
	dir := filepath.Dir(modelPath)
	base := filepath.Base(modelPath)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+MetaSuffix)
}

// MetaLog buffers epoch history and persists it on a time-based cadence next
// to the one-time UsedData, DataOverview and Parameters sheets.
//
// The workbook is writable only inside a write window: it is made read-write
// right before a write and read-only right after. Epochs appended since the
// last flush are not durable.
type MetaLog struct {
	store    metastore.Store
	fallback *Fallback
	primary  string
	interval time.Duration

	used     []run.SourceFile
	overview []metastore.ClassOverview
	params   []run.ParametersRow

	buffer    []run.EpochRecord
	lastFlush time.Time
	headersAt string // path whose headers are written
	flushed   int
}

// NewMetaLog creates a MetaLog for the workbook at primary. A zero interval
// flushes on every call to FlushIfDue.
func NewMetaLog(store metastore.Store, fb *Fallback, primary string, interval time.Duration) *MetaLog {
	return &MetaLog{store: store, fallback: fb, primary: primary, interval: interval}
}

// Open writes the header sheets and the first Parameters row. It counts as a
// flush for the cadence.
func (m *MetaLog) Open(ctx context.Context, now time.Time, used []run.SourceFile, overview []metastore.ClassOverview, first run.ParametersRow) error {
	m.used = slices.Clone(used)
	m.overview = slices.Clone(overview)
	m.params = []run.ParametersRow{first}
	if err := m.write(ctx, nil); err != nil {
		return err
	}
	m.lastFlush = now
	return nil
}

// AppendParameters records a settings change immediately.
func (m *MetaLog) AppendParameters(ctx context.Context, row run.ParametersRow) error {
	err := m.write(ctx, func(ctx context.Context, b metastore.Book) error {
		return b.AppendParameters(ctx, row)
	})
	if err != nil {
		return err
	}
	m.params = append(m.params, row)
	return nil
}

// Append buffers one epoch.
func (m *MetaLog) Append(rec run.EpochRecord) {
	m.buffer = append(m.buffer, rec)
}

// Buffered returns the number of epochs not yet persisted.
func (m *MetaLog) Buffered() int { return len(m.buffer) }

// Flushed returns the number of epochs persisted so far.
func (m *MetaLog) Flushed() int { return m.flushed }

// Interval returns the flush cadence.
func (m *MetaLog) Interval() time.Duration { return m.interval }

// FlushIfDue persists the buffer if at least interval has passed since the
// last successful flush. It reports whether a flush happened.
func (m *MetaLog) FlushIfDue(ctx context.Context, now time.Time) (bool, error) {
	if now.Sub(m.lastFlush) < m.interval {
		return false, nil
	}
	if err := m.Flush(ctx, now); err != nil {
		return false, err
	}
	return true, nil
}

// Flush persists all buffered epochs in one batch and clears the buffer. On
// error the buffer is kept.
func (m *MetaLog) Flush(ctx context.Context, now time.Time) error {
	rows := m.buffer
	if len(rows) > 0 {
		err := m.write(ctx, func(ctx context.Context, b metastore.Book) error {
			return b.AppendHistory(ctx, rows...)
		})
		if err != nil {
			return err
		}
	}
	m.flushed += len(rows)
	m.buffer = nil
	m.lastFlush = now
	return nil
}

// Path returns the workbook path currently written to.
func (m *MetaLog) Path() string {
	if dir := m.fallback.Dir(); dir != "" {
		return filepath.Join(dir, filepath.Base(m.primary))
	}
	return m.primary
}

// write runs fn inside a write window. Headers are (re)written first whenever
// the target path has not received them yet, which happens once after a
// fallback switch.
func (m *MetaLog) write(ctx context.Context, fn func(context.Context, metastore.Book) error) error {
	primaryDir := filepath.Dir(m.primary)
	dir, err := m.fallback.Resolve(primaryDir)
	if err != nil {
		return err
	}
	err = m.writeAt(ctx, filepath.Join(dir, filepath.Base(m.primary)), fn)
	if err == nil || m.fallback.Active() {
		return err
	}

	slog.Warn("metadata write failed, switching to fallback", "path", m.primary, "error", err)
	dir, serr := m.fallback.Switch(primaryDir)
	if serr != nil {
		return errors.Join(err, serr)
	}
	return m.writeAt(ctx, filepath.Join(dir, filepath.Base(m.primary)), fn)
}

func (m *MetaLog) writeAt(ctx context.Context, path string, fn func(context.Context, metastore.Book) error) error {
	if err := os.Chmod(path, 0o644); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: make %s writable: %v", domain.ErrStorageUnavailable, path, err)
	}
	defer func() {
		if err := os.Chmod(path, 0o444); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("could not make metadata read-only", "path", path, "error", err)
		}
	}()

	book, err := m.store.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrStorageUnavailable, path, err)
	}
	werr := m.writeHeaders(ctx, book, path)
	if werr == nil && fn != nil {
		werr = fn(ctx, book)
	}
	if cerr := book.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorageUnavailable, path, werr)
	}
	m.headersAt = path
	return nil
}

func (m *MetaLog) writeHeaders(ctx context.Context, b metastore.Book, path string) error {
	if m.headersAt == path {
		return nil
	}
	if err := b.WriteUsedData(ctx, m.used); err != nil {
		return err
	}
	if err := b.WriteOverview(ctx, m.overview); err != nil {
		return err
	}
	return b.AppendParameters(ctx, m.params...)
}
