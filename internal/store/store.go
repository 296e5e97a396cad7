// Package store persists the run ledger: one row per pipeline run plus the
// aggregated per-cell features saved under that run. Two drivers share the
// interface, Postgres for shared deployments and SQLite for local work.
package store

import (
	"context"

	"github.com/sells-group/mobility-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, inputs model.RunInputs) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Aggregated features, keyed by run so train and export can reuse an
	// aggregation without re-streaming the mobility dump.
	SaveCellFeatures(ctx context.Context, runID string, cells []model.CellFeatures) (int64, error)
	LoadCellFeatures(ctx context.Context, runID string) ([]model.CellFeatures, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
