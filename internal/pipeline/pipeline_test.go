package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mobility-cli/internal/hexgrid"
	"github.com/sells-group/mobility-cli/internal/model"
	"github.com/sells-group/mobility-cli/internal/store"
	"github.com/sells-group/mobility-cli/internal/tabular"
)

// writeRunFixtures lays out a small but complete run on disk: a labeled
// table over three cells, an unlabeled table with one unseen cell, and a
// mobility dump with 5 SF pings, 2 NY pings and one malformed row.
func writeRunFixtures(t *testing.T) (dir string, inputs model.RunInputs) {
	t.Helper()
	dir = t.TempDir()

	labeled := filepath.Join(dir, "labeled.csv")
	writeFile(t, labeled, fmt.Sprintf(
		"hex_id,cost_of_living\n%s,0.2\n%s,0.5\n%s,0.8\n",
		sfHex(), nyHex(), laHex(),
	))

	unlabeled := filepath.Join(dir, "unlabeled.csv")
	unseen := hexgrid.CellAt(41.8781, -87.6298, testRes).String() // Chicago, never pinged
	writeFile(t, unlabeled, fmt.Sprintf(
		"hex_id,cost_of_living\n%s,\n%s,\n",
		sfHex(), unseen,
	))

	mobility := filepath.Join(dir, "pings.csv")
	writeFile(t, mobility, fmt.Sprintf(
		"device_id,lat,lon,timestamp\n"+
			"d1,%[1]v,%[2]v,100\nd2,%[1]v,%[2]v,200\nd3,%[1]v,%[2]v,300\n"+
			"d1,%[1]v,%[2]v,400\nd2,%[1]v,%[2]v,500\n"+
			"d8,%[3]v,%[4]v,600\nd9,%[3]v,%[4]v,700\n"+
			"d9,not-a-lat,%[4]v,800\n",
		sfLat, sfLon, nyLat, nyLon,
	))

	inputs = model.RunInputs{
		MobilitySource: mobility,
		LabeledPath:    labeled,
		UnlabeledPath:  unlabeled,
		BatchSize:      3,
		Algorithm:      "forest",
	}
	return dir, inputs
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestStore(t *testing.T, dir string) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestPipelineRun_EndToEnd(t *testing.T) {
	dir, inputs := writeRunFixtures(t)
	st := newTestStore(t, dir)
	outPath := filepath.Join(dir, "predictions.csv")

	p := New(st, nil, testParams())
	result, err := p.Run(context.Background(), inputs, outPath)
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.Pings)
	assert.Equal(t, int64(1), result.SkippedRows)
	assert.Equal(t, 2, result.Cells)
	assert.Equal(t, 3, result.LabeledRows)
	assert.Equal(t, 2, result.UnlabeledRows)
	assert.Equal(t, 1, result.LabeledMisses)
	assert.Equal(t, 1, result.UnlabeledMisses)
	assert.Equal(t, "forest", result.BestAlgorithm)
	assert.Equal(t, outPath, result.OutputPath)

	// The written prediction table keeps the unlabeled shape with the
	// target filled for every row, the unseen cell included.
	out, err := tabular.ReadTable(outPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"hex_id", "cost_of_living"}, out.Columns)
	require.Len(t, out.Rows, 2)
	for _, row := range out.Rows {
		_, perr := strconv.ParseFloat(row[1], 64)
		assert.NoError(t, perr)
	}

	// The run is in the ledger, complete, with the features persisted.
	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, 9, runs[0].Inputs.Resolution)
	require.NotNil(t, runs[0].Result)
	assert.Equal(t, int64(7), runs[0].Result.Pings)

	cells, err := st.LoadCellFeatures(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, cells, 2)
}

func TestPipelineRun_ComparesWhenAlgorithmEmpty(t *testing.T) {
	dir, inputs := writeRunFixtures(t)
	inputs.Algorithm = ""
	outPath := filepath.Join(dir, "predictions.csv")

	p := New(nil, nil, testParams())
	result, err := p.Run(context.Background(), inputs, outPath)
	require.NoError(t, err)

	require.Len(t, result.Scores, 2)
	assert.Equal(t, "forest", result.Scores[0].Algorithm)
	assert.Equal(t, "gbt", result.Scores[1].Algorithm)
	assert.Contains(t, []string{"forest", "gbt"}, result.BestAlgorithm)
}

func TestPipelineRun_NoStore(t *testing.T) {
	dir, inputs := writeRunFixtures(t)
	outPath := filepath.Join(dir, "predictions.csv")

	p := New(nil, nil, testParams())
	result, err := p.Run(context.Background(), inputs, outPath)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Cells)

	_, err = os.Stat(outPath)
	assert.NoError(t, err)
}

func TestPipelineRun_Deterministic(t *testing.T) {
	dir, inputs := writeRunFixtures(t)

	p := New(nil, nil, testParams())
	a, err := p.Run(context.Background(), inputs, filepath.Join(dir, "a.csv"))
	require.NoError(t, err)
	b, err := p.Run(context.Background(), inputs, filepath.Join(dir, "b.csv"))
	require.NoError(t, err)

	assert.Equal(t, a.Scores, b.Scores)

	outA, err := os.ReadFile(filepath.Join(dir, "a.csv"))
	require.NoError(t, err)
	outB, err := os.ReadFile(filepath.Join(dir, "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, string(outA), string(outB))
}

func TestPipelineRun_FailureRecorded(t *testing.T) {
	dir, inputs := writeRunFixtures(t)
	st := newTestStore(t, dir)
	inputs.MobilitySource = filepath.Join(dir, "missing.csv")

	p := New(st, nil, testParams())
	_, err := p.Run(context.Background(), inputs, filepath.Join(dir, "out.csv"))
	require.Error(t, err)

	runs, lerr := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, lerr)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].Result)
	assert.NotEmpty(t, runs[0].Result.Error)
}

func TestPipelineRun_MissingLabeledTable(t *testing.T) {
	dir, inputs := writeRunFixtures(t)
	inputs.LabeledPath = filepath.Join(dir, "nope.csv")

	p := New(nil, nil, testParams())
	_, err := p.Run(context.Background(), inputs, filepath.Join(dir, "out.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read labeled table")
}
