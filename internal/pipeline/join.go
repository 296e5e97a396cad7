package pipeline

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/aggregate"
	"github.com/sells-group/mobility-cli/internal/hexgrid"
	"github.com/sells-group/mobility-cli/internal/tabular"
)

// Joined is a table extended with aggregated mobility features. The input
// table is cloned, never mutated; Columns records the feature column order
// captured at join time, which prediction must reproduce exactly.
type Joined struct {
	Source  *tabular.Table // the input table, untouched
	Table   *tabular.Table // input columns plus the feature columns
	Columns []string       // feature column order captured at join time
	Misses  int            // rows whose cell had no aggregated features
}

// Join left-joins the aggregated features onto tbl by hex_id. Every input
// row survives; rows whose cell is absent from the aggregation get exact
// zeros and are counted as misses, which is a coverage diagnostic rather
// than an error. An identifier whose embedded resolution differs from the
// run resolution is fatal: such a mapping would silently never match.
func Join(tbl *tabular.Table, features *aggregate.FeatureTable) (*Joined, error) {
	hexIdx, err := tbl.RequireColumn(tabular.HexColumn)
	if err != nil {
		return nil, eris.Wrap(err, "join: locate hex column")
	}

	cols := make([][]string, len(aggregate.FeatureColumns))
	for i := range cols {
		cols[i] = make([]string, 0, len(tbl.Rows))
	}

	misses := 0
	for _, row := range tbl.Rows {
		id := strings.TrimSpace(row[hexIdx])

		cell, perr := hexgrid.ParseCell(id)
		if perr != nil {
			// Not a valid identifier, so it can never match a cell. Zero
			// defaults, same as any other miss.
			misses++
			for i := range cols {
				cols[i] = append(cols[i], "0")
			}
			continue
		}
		if rerr := hexgrid.CheckResolution(cell, features.Resolution()); rerr != nil {
			return nil, eris.Wrapf(rerr, "join: identifier %s", id)
		}

		stats, ok := features.Stats(cell)
		if !ok {
			misses++
			for i := range cols {
				cols[i] = append(cols[i], "0")
			}
			continue
		}
		for i, v := range stats.Values() {
			cols[i] = append(cols[i], strconv.FormatFloat(v, 'g', -1, 64))
		}
	}

	out := tbl.Clone()
	for i, name := range aggregate.FeatureColumns {
		if err := out.AddColumn(name, cols[i]); err != nil {
			return nil, eris.Wrap(err, "join: append feature column")
		}
	}

	if misses > 0 {
		zap.L().Warn("cells missing aggregated features",
			zap.Int("count", misses),
			zap.Int("rows", len(tbl.Rows)),
			zap.String("path", tbl.Path),
		)
	}

	return &Joined{
		Source:  tbl,
		Table:   out,
		Columns: append([]string(nil), aggregate.FeatureColumns...),
		Misses:  misses,
	}, nil
}
