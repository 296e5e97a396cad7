package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mobility-cli/internal/model"
)

func TestWriteTrainReport(t *testing.T) {
	report := &trainReport{
		Algorithm: "forest",
		MSE:       0.0123,
		TrainRows: 75,
		ValRows:   25,
		Scores: []model.AlgoScore{
			{Algorithm: "forest", MSE: 0.0123},
			{Algorithm: "gbt", MSE: 0.0456},
		},
		LabeledMisses: 2,
	}

	var buf bytes.Buffer
	require.NoError(t, writeTrainReport(&buf, report))

	var decoded trainReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, *report, decoded)
}

func TestWriteTrainReport_SingleFit(t *testing.T) {
	report := &trainReport{Algorithm: "gbt", MSE: 0.2, TrainRows: 8, ValRows: 2}

	var buf bytes.Buffer
	require.NoError(t, writeTrainReport(&buf, report))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "gbt", decoded["algorithm"])

	// No comparison ran, so no scores array and no tie flag.
	_, hasScores := decoded["scores"]
	assert.False(t, hasScores)
	_, hasTied := decoded["tied"]
	assert.False(t, hasTied)
}
