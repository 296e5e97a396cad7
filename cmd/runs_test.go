package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/mobility-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:     "abc12345-6789-0000-0000-000000000000",
			Status: model.RunStatusComplete,
			Inputs: model.RunInputs{Resolution: 8},
			Result: &model.RunResult{
				Cells:         1250,
				BestAlgorithm: "forest",
				Scores: []model.AlgoScore{
					{Algorithm: "forest", MSE: 0.0123},
					{Algorithm: "gbt", MSE: 0.0456},
				},
			},
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusTraining,
			Inputs:    model.RunInputs{Resolution: 8, Algorithm: "gbt"},
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "ALGO")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "forest")
	assert.Contains(t, output, "1250")
	assert.Contains(t, output, "0.0123")
	assert.Contains(t, output, "training")
	assert.Contains(t, output, "gbt")
	assert.Contains(t, output, "2026-06-15 10:30")
	assert.Contains(t, output, "abc12345")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:     "abc12345-6789-0000-0000-000000000000",
			Status: model.RunStatusFailed,
			Inputs: model.RunInputs{Resolution: 8},
			Result: &model.RunResult{
				Error: "join: identifier resolution mismatch",
			},
			CreatedAt: now,
			UpdatedAt: now.Add(30 * time.Second),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "abc12345")
	// No winner, no requested algorithm, no MSE.
	assert.Contains(t, output, "-")
}

func TestRunAlgo(t *testing.T) {
	assert.Equal(t, "forest", runAlgo(model.Run{
		Inputs: model.RunInputs{Algorithm: "gbt"},
		Result: &model.RunResult{BestAlgorithm: "forest"},
	}))
	assert.Equal(t, "gbt", runAlgo(model.Run{
		Inputs: model.RunInputs{Algorithm: "gbt"},
	}))
	assert.Equal(t, "-", runAlgo(model.Run{}))
}

func TestBestMSE(t *testing.T) {
	v, ok := bestMSE(model.Run{
		Result: &model.RunResult{
			BestAlgorithm: "gbt",
			Scores: []model.AlgoScore{
				{Algorithm: "forest", MSE: 0.5},
				{Algorithm: "gbt", MSE: 0.25},
			},
		},
	})
	assert.True(t, ok)
	assert.Equal(t, 0.25, v)

	_, ok = bestMSE(model.Run{})
	assert.False(t, ok)

	_, ok = bestMSE(model.Run{Result: &model.RunResult{BestAlgorithm: "forest"}})
	assert.False(t, ok)
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

	runs := []model.Run{
		{
			ID:        "1",
			Status:    model.RunStatusComplete,
			Result:    &model.RunResult{BestAlgorithm: "forest"},
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "2",
			Status:    model.RunStatusComplete,
			Result:    &model.RunResult{BestAlgorithm: "gbt"},
			CreatedAt: now.Add(5 * time.Minute),
			UpdatedAt: now.Add(8 * time.Minute),
		},
		{
			ID:        "3",
			Status:    model.RunStatusFailed,
			Result:    &model.RunResult{Error: "timeout"},
			CreatedAt: now.Add(10 * time.Minute),
			UpdatedAt: now.Add(10*time.Minute + 30*time.Second),
		},
		{
			ID:        "4",
			Status:    model.RunStatusTraining,
			CreatedAt: now.Add(15 * time.Minute),
			UpdatedAt: now.Add(15 * time.Minute),
		},
	}

	stats := computeRunStats(runs, time.Time{})
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Complete)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.InFlight)
	assert.Equal(t, 1, stats.ByAlgo["forest"])
	assert.Equal(t, 1, stats.ByAlgo["gbt"])
	// Average duration of the 2 complete runs: (120s + 180s) / 2 = 150s.
	assert.InDelta(t, 150.0, stats.AvgDurSecs, 0.1)

	var buf bytes.Buffer
	formatRunStats(&buf, stats)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "4")
	assert.Contains(t, output, "Complete:")
	assert.Contains(t, output, "Best forest:")
	assert.Contains(t, output, "Best gbt:")
	assert.Contains(t, output, "Failed:")
	assert.Contains(t, output, "In flight:")
	assert.Contains(t, output, "150.0s")
}

func TestRunsStats_Cutoff(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

	runs := []model.Run{
		{ID: "old", Status: model.RunStatusComplete, CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: "new", Status: model.RunStatusComplete, CreatedAt: now, UpdatedAt: now.Add(time.Minute)},
	}

	stats := computeRunStats(runs, now.Add(-24*time.Hour))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Complete)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
