package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/mobility-cli/internal/aggregate"
	"github.com/sells-group/mobility-cli/internal/hexgrid"
	"github.com/sells-group/mobility-cli/internal/model"
)

// CellRows flattens an aggregated table into persistable per-cell rows, in
// identifier order.
func CellRows(runID string, t *aggregate.FeatureTable) []model.CellFeatures {
	cells := t.Cells()
	out := make([]model.CellFeatures, 0, len(cells))
	for _, c := range cells {
		s, _ := t.Stats(c)
		out = append(out, model.CellFeatures{
			RunID:         runID,
			HexID:         c.String(),
			DeviceCount:   s.DeviceCount,
			PingCount:     s.PingCount,
			MeanTimestamp: s.MeanTimestamp,
		})
	}
	return out
}

// TableFromCells rebuilds an aggregated table from persisted rows, so train
// and export can reuse a prior aggregation without re-streaming the dump.
// A non-positive res is inferred from the first row's identifier.
func TableFromCells(res int, cells []model.CellFeatures) (*aggregate.FeatureTable, error) {
	if res <= 0 {
		if len(cells) == 0 {
			return nil, eris.New("pipeline: cannot infer resolution from an empty cell set")
		}
		r, err := hexgrid.InferResolution(cells[0].HexID)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: infer restored resolution")
		}
		res = r
	}

	t := aggregate.New(aggregate.Options{Resolution: res})
	for _, cf := range cells {
		cell, err := hexgrid.ParseCell(cf.HexID)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: restore cell %s", cf.HexID)
		}
		if err := hexgrid.CheckResolution(cell, res); err != nil {
			return nil, eris.Wrapf(err, "pipeline: restore cell %s", cf.HexID)
		}
		t.SetStats(cell, aggregate.CellStats{
			DeviceCount:   cf.DeviceCount,
			PingCount:     cf.PingCount,
			MeanTimestamp: cf.MeanTimestamp,
		})
	}
	return t, nil
}
