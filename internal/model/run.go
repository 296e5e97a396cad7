// Package model defines the pipeline run records shared by the store, the
// pipeline stages and the CLI.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusJoining     RunStatus = "joining"
	RunStatusTraining    RunStatus = "training"
	RunStatusPredicting  RunStatus = "predicting"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// RunInputs records where a run read its data from and the knobs that make
// it reproducible.
type RunInputs struct {
	MobilitySource string `json:"mobility_source,omitempty"`
	LabeledPath    string `json:"labeled_path,omitempty"`
	UnlabeledPath  string `json:"unlabeled_path,omitempty"`
	Resolution     int    `json:"resolution"`
	BatchSize      int    `json:"batch_size,omitempty"`
	Algorithm      string `json:"algorithm,omitempty"`
	Seed           uint64 `json:"seed,omitempty"`
	DedupDevices   bool   `json:"dedup_devices,omitempty"`
}

// AlgoScore is one algorithm's validation MSE.
type AlgoScore struct {
	Algorithm string  `json:"algorithm"`
	MSE       float64 `json:"mse"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Pings           int64       `json:"pings"`
	SkippedRows     int64       `json:"skipped_rows"`
	Cells           int         `json:"cells"`
	LabeledRows     int         `json:"labeled_rows,omitempty"`
	UnlabeledRows   int         `json:"unlabeled_rows,omitempty"`
	LabeledMisses   int         `json:"labeled_misses,omitempty"`
	UnlabeledMisses int         `json:"unlabeled_misses,omitempty"`
	Scores          []AlgoScore `json:"scores,omitempty"`
	BestAlgorithm   string      `json:"best_algorithm,omitempty"`
	Tied            bool        `json:"tied,omitempty"` // equal MSEs are reported, never resolved
	OutputPath      string      `json:"output_path,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// Run is one pipeline invocation recorded in the store.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	Inputs    RunInputs  `json:"inputs"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewRun creates a run in the aggregating state with a fresh ID.
func NewRun(inputs RunInputs) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:        uuid.NewString(),
		Status:    RunStatusAggregating,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the run reached a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// CellFeatures is one persisted row of an aggregated feature table.
type CellFeatures struct {
	RunID         string  `json:"run_id"`
	HexID         string  `json:"hex_id"`
	DeviceCount   int64   `json:"device_count"`
	PingCount     int64   `json:"ping_count"`
	MeanTimestamp float64 `json:"mean_timestamp"`
}
