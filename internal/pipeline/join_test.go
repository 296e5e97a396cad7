package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mobility-cli/internal/aggregate"
	"github.com/sells-group/mobility-cli/internal/hexgrid"
	"github.com/sells-group/mobility-cli/internal/mobility"
	"github.com/sells-group/mobility-cli/internal/tabular"
)

const (
	testRes = 9

	// Three locations far enough apart to land in different res-9 cells.
	sfLat, sfLon = 37.775938728915946, -122.41795063018799
	nyLat, nyLon = 40.7128, -74.0060
	laLat, laLon = 34.0522, -118.2437
)

func sfHex() string { return hexgrid.CellAt(sfLat, sfLon, testRes).String() }
func nyHex() string { return hexgrid.CellAt(nyLat, nyLon, testRes).String() }
func laHex() string { return hexgrid.CellAt(laLat, laLon, testRes).String() }

func ping(device string, lat, lon float64, ts int64) mobility.Record {
	return mobility.Record{DeviceID: device, Lat: lat, Lon: lon, Timestamp: ts}
}

// testFeatures aggregates 5 pings in the SF cell (3 devices) and 2 in the
// NY cell (2 devices). The LA cell is never observed.
func testFeatures() *aggregate.FeatureTable {
	ft := aggregate.New(aggregate.Options{Resolution: testRes})
	ft.AddBatch([]mobility.Record{
		ping("d1", sfLat, sfLon, 100),
		ping("d2", sfLat, sfLon, 200),
		ping("d3", sfLat, sfLon, 300),
		ping("d1", sfLat, sfLon, 400),
		ping("d2", sfLat, sfLon, 500),
		ping("d8", nyLat, nyLon, 600),
		ping("d9", nyLat, nyLon, 700),
	})
	return ft
}

func labeledTable() *tabular.Table {
	tbl := tabular.New(tabular.HexColumn, tabular.TargetColumn)
	tbl.AddRow([]string{sfHex(), "0.2"})
	tbl.AddRow([]string{nyHex(), "0.5"})
	tbl.AddRow([]string{laHex(), "0.8"})
	return tbl
}

func TestJoin_LeftJoinWithZeroDefaults(t *testing.T) {
	tbl := labeledTable()
	j, err := Join(tbl, testFeatures())
	require.NoError(t, err)

	// Every input row survives; the unobserved LA cell counts as one miss.
	assert.Len(t, j.Table.Rows, 3)
	assert.Equal(t, 1, j.Misses)

	pingIdx, err := j.Table.RequireColumn("ping_count")
	require.NoError(t, err)
	devIdx, err := j.Table.RequireColumn("device_count")
	require.NoError(t, err)
	tsIdx, err := j.Table.RequireColumn("mean_timestamp")
	require.NoError(t, err)

	assert.Equal(t, "5", j.Table.Rows[0][pingIdx])
	assert.Equal(t, "2", j.Table.Rows[1][pingIdx])

	// The absent cell gets exact zeros and its other columns are unchanged.
	assert.Equal(t, "0", j.Table.Rows[2][devIdx])
	assert.Equal(t, "0", j.Table.Rows[2][pingIdx])
	assert.Equal(t, "0", j.Table.Rows[2][tsIdx])
	assert.Equal(t, laHex(), j.Table.Rows[2][0])
	assert.Equal(t, "0.8", j.Table.Rows[2][1])
}

func TestJoin_DoesNotMutateInput(t *testing.T) {
	tbl := labeledTable()
	j, err := Join(tbl, testFeatures())
	require.NoError(t, err)

	assert.Equal(t, []string{tabular.HexColumn, tabular.TargetColumn}, tbl.Columns)
	assert.Len(t, tbl.Rows[0], 2)
	assert.Same(t, tbl, j.Source)
}

func TestJoin_CapturesColumnOrder(t *testing.T) {
	j, err := Join(labeledTable(), testFeatures())
	require.NoError(t, err)

	assert.Equal(t, aggregate.FeatureColumns, j.Columns)

	// The capture is a copy: mutating it must not reach the shared slice.
	j.Columns[0] = "mutated"
	assert.Equal(t, "device_count", aggregate.FeatureColumns[0])
}

func TestJoin_ResolutionMismatch(t *testing.T) {
	tbl := tabular.New(tabular.HexColumn, tabular.TargetColumn)
	tbl.AddRow([]string{hexgrid.CellAt(sfLat, sfLon, 8).String(), "0.2"})

	_, err := Join(tbl, testFeatures())
	require.Error(t, err)
	var mismatch *hexgrid.ResolutionMismatchError
	assert.True(t, errors.As(err, &mismatch))
}

func TestJoin_InvalidIdentifierCountsAsMiss(t *testing.T) {
	tbl := tabular.New(tabular.HexColumn, tabular.TargetColumn)
	tbl.AddRow([]string{sfHex(), "0.2"})
	tbl.AddRow([]string{"not-a-cell", "0.5"})

	j, err := Join(tbl, testFeatures())
	require.NoError(t, err)
	assert.Equal(t, 1, j.Misses)

	pingIdx, err := j.Table.RequireColumn("ping_count")
	require.NoError(t, err)
	assert.Equal(t, "0", j.Table.Rows[1][pingIdx])
}

func TestJoin_MissingHexColumn(t *testing.T) {
	tbl := tabular.New("id", tabular.TargetColumn)
	tbl.AddRow([]string{"x", "0.2"})

	_, err := Join(tbl, testFeatures())
	require.Error(t, err)
	assert.True(t, tabular.IsSchemaError(err))
}
