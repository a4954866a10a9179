package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Strob0t/AIDTrainer/internal/domain"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/metastore"
)

// Workbook is the full content of a workbook file.
type Workbook struct {
	UsedData   []run.SourceFile
	Overview   []metastore.ClassOverview
	Parameters []run.ParametersRow
	History    []run.EpochRecord
}

// Read loads the workbook at path without modifying it.
func Read(ctx context.Context, path string) (*Workbook, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("workbook %s: %w", path, domain.ErrNotFound)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	wb := &Workbook{}
	if wb.UsedData, err = readUsedData(ctx, db); err != nil {
		return nil, err
	}
	if wb.Overview, err = readOverview(ctx, db); err != nil {
		return nil, err
	}
	if wb.Parameters, err = readParameters(ctx, db); err != nil {
		return nil, err
	}
	if wb.History, err = readHistory(ctx, db); err != nil {
		return nil, err
	}
	return wb, nil
}

func readUsedData(ctx context.Context, db *sql.DB) ([]run.SourceFile, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT path, class, role, events, shuffle, zoom_factor, extra_input FROM used_data ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query used data: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []run.SourceFile
	for rows.Next() {
		var f run.SourceFile
		var role string
		if err := rows.Scan(&f.Path, &f.Class, &role, &f.Events, &f.Shuffle, &f.ZoomFactor, &f.ExtraInput); err != nil {
			return nil, fmt.Errorf("scan used data: %w", err)
		}
		f.Role = run.Role(role)
		out = append(out, f)
	}
	return out, rows.Err()
}

func readOverview(ctx context.Context, db *sql.DB) ([]metastore.ClassOverview, error) {
	rows, err := db.QueryContext(ctx, `SELECT class, train_events, valid_events FROM data_overview ORDER BY class`)
	if err != nil {
		return nil, fmt.Errorf("query data overview: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []metastore.ClassOverview
	for rows.Next() {
		var r metastore.ClassOverview
		if err := rows.Scan(&r.Class, &r.TrainEvents, &r.ValidEvents); err != nil {
			return nil, fmt.Errorf("scan data overview: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func readParameters(ctx context.Context, db *sql.DB) ([]run.ParametersRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT epoch_started, host, cpu, recorded_at, settings FROM parameters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query parameters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []run.ParametersRow
	for rows.Next() {
		var r run.ParametersRow
		var recorded, settings string
		if err := rows.Scan(&r.EpochStarted, &r.Host, &r.CPU, &recorded, &settings); err != nil {
			return nil, fmt.Errorf("scan parameters: %w", err)
		}
		if r.Time, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
			return nil, fmt.Errorf("parse parameters time: %w", err)
		}
		if err := json.Unmarshal([]byte(settings), &r.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func readHistory(ctx context.Context, db *sql.DB) ([]run.EpochRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT epoch, elapsed_ms, learning_rate, saved FROM history ORDER BY epoch`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	var out []run.EpochRecord
	for rows.Next() {
		var r run.EpochRecord
		var elapsed int64
		if err := rows.Scan(&r.Epoch, &elapsed, &r.LearningRate, &r.Saved); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.Elapsed = time.Duration(elapsed) * time.Millisecond
		r.Metrics = make(map[string]float64)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	index := make(map[int]int, len(out))
	for i, r := range out {
		index[r.Epoch] = i
	}
	metrics, err := db.QueryContext(ctx, `SELECT epoch, name, value FROM history_metrics`)
	if err != nil {
		return nil, fmt.Errorf("query history metrics: %w", err)
	}
	defer func() { _ = metrics.Close() }()
	for metrics.Next() {
		var epoch int
		var name string
		var v float64
		if err := metrics.Scan(&epoch, &name, &v); err != nil {
			return nil, fmt.Errorf("scan history metric: %w", err)
		}
		if i, ok := index[epoch]; ok {
			out[i].Metrics[name] = v
		}
	}
	return out, metrics.Err()
}
