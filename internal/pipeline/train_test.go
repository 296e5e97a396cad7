package pipeline

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mobility-cli/internal/aggregate"
	"github.com/sells-group/mobility-cli/internal/regress"
	"github.com/sells-group/mobility-cli/internal/tabular"
)

func testParams() regress.Params {
	p := regress.DefaultParams()
	p.Forest.Trees = 20
	p.GBT.Trees = 20
	return p
}

// syntheticJoined builds a joined table whose target is a deterministic
// function of the feature columns.
func syntheticJoined(n int) *Joined {
	cols := append([]string{tabular.HexColumn, tabular.TargetColumn}, aggregate.FeatureColumns...)
	tbl := tabular.New(cols...)
	for i := 0; i < n; i++ {
		dev := float64(i%4 + 1)
		pings := float64(i%10 + 1)
		ts := 1000.0 + float64(i)
		target := pings/20.0 + dev/40.0
		tbl.AddRow([]string{
			fmt.Sprintf("cell-%03d", i),
			strconv.FormatFloat(target, 'g', -1, 64),
			strconv.FormatFloat(dev, 'g', -1, 64),
			strconv.FormatFloat(pings, 'g', -1, 64),
			strconv.FormatFloat(ts, 'g', -1, 64),
		})
	}
	return &Joined{Source: tbl, Table: tbl, Columns: append([]string(nil), aggregate.FeatureColumns...)}
}

func TestTrain_Deterministic(t *testing.T) {
	for _, algo := range regress.Algorithms() {
		t.Run(algo, func(t *testing.T) {
			a, err := Train(syntheticJoined(60), algo, testParams())
			require.NoError(t, err)
			b, err := Train(syntheticJoined(60), algo, testParams())
			require.NoError(t, err)

			assert.Equal(t, a.MSE, b.MSE)
			assert.Equal(t, a.ValPredicted, b.ValPredicted)
		})
	}
}

func TestTrain_SplitsRows(t *testing.T) {
	f, err := Train(syntheticJoined(60), regress.AlgoForest, testParams())
	require.NoError(t, err)

	assert.Equal(t, 45, f.TrainRows)
	assert.Equal(t, 15, f.ValRows)
	assert.Len(t, f.ValActual, 15)
	assert.Len(t, f.ValPredicted, 15)
	assert.Equal(t, aggregate.FeatureColumns, f.Columns)
}

func TestTrain_MissingTarget(t *testing.T) {
	j := syntheticJoined(10)
	j.Table.Rows[4][1] = ""

	_, err := Train(j, regress.AlgoForest, testParams())
	require.Error(t, err)
	assert.True(t, tabular.IsSchemaError(err))
	assert.Contains(t, err.Error(), "missing target")
}

func TestTrain_NonNumericTarget(t *testing.T) {
	j := syntheticJoined(10)
	j.Table.Rows[2][1] = "high"

	_, err := Train(j, regress.AlgoForest, testParams())
	require.Error(t, err)
	assert.True(t, tabular.IsSchemaError(err))
}

func TestTrain_NonNumericFeature(t *testing.T) {
	j := syntheticJoined(10)
	j.Table.Rows[7][2] = "lots"

	_, err := Train(j, regress.AlgoForest, testParams())
	require.Error(t, err)
	assert.True(t, tabular.IsSchemaError(err))
	assert.Contains(t, err.Error(), "non-numeric")
}

func TestTrain_UnknownAlgorithm(t *testing.T) {
	_, err := Train(syntheticJoined(10), "linear", testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown algorithm")
}

func TestCompare_FitsBothAndPicksBest(t *testing.T) {
	cmp, err := Compare(syntheticJoined(60), testParams())
	require.NoError(t, err)

	require.Len(t, cmp.Fits, 2)
	scores := cmp.Scores()
	assert.Equal(t, "forest", scores[0].Algorithm)
	assert.Equal(t, "gbt", scores[1].Algorithm)

	for _, f := range cmp.Fits {
		assert.GreaterOrEqual(t, f.MSE, cmp.Best.MSE)
	}
}

func TestCompare_FlagsExactTie(t *testing.T) {
	// A constant target gives every strategy a perfect fit, so both MSEs
	// are exactly zero.
	j := syntheticJoined(40)
	for i := range j.Table.Rows {
		j.Table.Rows[i][1] = "0.5"
	}

	cmp, err := Compare(j, testParams())
	require.NoError(t, err)
	assert.True(t, cmp.Tied)
	assert.Equal(t, "forest", cmp.Best.Algorithm)
	assert.Zero(t, cmp.Best.MSE)
}
