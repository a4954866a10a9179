// Package metastore defines the port for the per-run metadata workbook
// (UsedData, DataOverview, Parameters and History sheets).
package metastore

import (
	"context"

	"github.com/Strob0t/AIDTrainer/internal/domain/run"
)

// ClassOverview is one row of the DataOverview sheet.
type ClassOverview struct {
	Class       int
	TrainEvents int
	ValidEvents int
}

// Store opens workbooks by path.
type Store interface {
	// Open creates or reopens the workbook at path for one write window.
	Open(ctx context.Context, path string) (Book, error)
}

// Book is an open workbook. Writes are durable once Close returns nil.
type Book interface {
	WriteUsedData(ctx context.Context, files []run.SourceFile) error
	WriteOverview(ctx context.Context, rows []ClassOverview) error
	AppendParameters(ctx context.Context, rows ...run.ParametersRow) error
	AppendHistory(ctx context.Context, rows ...run.EpochRecord) error
	Close() error
}
