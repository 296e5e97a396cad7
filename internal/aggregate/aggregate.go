// Package aggregate reduces a streamed mobility dataset into one feature
// table keyed by hexagon cell. Batches are merged strictly sequentially;
// at no point is more than one batch of raw records resident, and the
// table itself grows with distinct cells, not with pings.
package aggregate

import (
	"context"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/hexgrid"
	"github.com/sells-group/mobility-cli/internal/mobility"
	"github.com/sells-group/mobility-cli/internal/tabular"
)

// FeatureColumns is the fixed order of the derived feature columns. Joins
// and exports both follow it.
var FeatureColumns = []string{"device_count", "ping_count", "mean_timestamp"}

// CellStats is the accumulated mobility signal for one cell.
//
// DeviceCount sums per-batch distinct-device counts: a device active in the
// same cell across two batches is counted in both. Exact cross-batch counts
// need TrackDevices.
//
// MeanTimestamp is the sum of per-batch mean timestamps, not a global mean;
// every batch contributes equally regardless of its size. This is a modeling
// simplification carried through on purpose.
type CellStats struct {
	DeviceCount   int64
	PingCount     int64
	MeanTimestamp float64
}

// Values returns the stats in FeatureColumns order.
func (s CellStats) Values() []float64 {
	return []float64{float64(s.DeviceCount), float64(s.PingCount), s.MeanTimestamp}
}

// Options configures a feature table.
type Options struct {
	// Resolution all raw points are indexed at. Must match the resolution
	// embedded in the table identifiers or the join never matches.
	Resolution int

	// TrackDevices switches DeviceCount to exact distinct counts by carrying
	// per-cell device sets across batches. Costs memory proportional to
	// distinct (cell, device) pairs. Off by default.
	TrackDevices bool
}

// FeatureTable accumulates per-cell statistics across batches. One per run;
// additive only, never decremented; immutable once the stream is exhausted.
type FeatureTable struct {
	res          int
	trackDevices bool
	cells        map[hexgrid.Cell]*CellStats
	devices      map[hexgrid.Cell]map[string]struct{}
}

// New creates an empty feature table for the given run resolution.
func New(opts Options) *FeatureTable {
	t := &FeatureTable{
		res:          opts.Resolution,
		trackDevices: opts.TrackDevices,
		cells:        make(map[hexgrid.Cell]*CellStats),
	}
	if opts.TrackDevices {
		t.devices = make(map[hexgrid.Cell]map[string]struct{})
	}
	return t
}

type batchStats struct {
	devices map[string]struct{}
	count   int64
	tsSum   float64
}

// AddBatch indexes one batch at the run resolution, groups it by cell and
// merges the per-cell summary into the running table.
func (t *FeatureTable) AddBatch(batch []mobility.Record) {
	if len(batch) == 0 {
		return
	}

	groups := make(map[hexgrid.Cell]*batchStats)
	for _, rec := range batch {
		cell := hexgrid.CellAt(rec.Lat, rec.Lon, t.res)
		g := groups[cell]
		if g == nil {
			g = &batchStats{devices: make(map[string]struct{})}
			groups[cell] = g
		}
		g.devices[rec.DeviceID] = struct{}{}
		g.count++
		g.tsSum += float64(rec.Timestamp)
	}

	for cell, g := range groups {
		s := t.cells[cell]
		if s == nil {
			s = &CellStats{}
			t.cells[cell] = s
		}
		s.PingCount += g.count
		s.MeanTimestamp += g.tsSum / float64(g.count)

		if t.trackDevices {
			seen := t.devices[cell]
			if seen == nil {
				seen = make(map[string]struct{}, len(g.devices))
				t.devices[cell] = seen
			}
			for d := range g.devices {
				seen[d] = struct{}{}
			}
			s.DeviceCount = int64(len(seen))
		} else {
			s.DeviceCount += int64(len(g.devices))
		}
	}
}

// SetStats overwrites one cell's statistics, used when rebuilding a table
// from persisted rows rather than from a stream.
func (t *FeatureTable) SetStats(c hexgrid.Cell, s CellStats) {
	cp := s
	t.cells[c] = &cp
}

// Stats returns the accumulated statistics for one cell.
func (t *FeatureTable) Stats(c hexgrid.Cell) (CellStats, bool) {
	s, ok := t.cells[c]
	if !ok {
		return CellStats{}, false
	}
	return *s, true
}

// Len returns the number of distinct cells seen.
func (t *FeatureTable) Len() int { return len(t.cells) }

// Resolution returns the run resolution.
func (t *FeatureTable) Resolution() int { return t.res }

// Cells returns every cell seen, sorted by identifier so output is stable.
func (t *FeatureTable) Cells() []hexgrid.Cell {
	out := make([]hexgrid.Cell, 0, len(t.cells))
	for c := range t.cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Table renders the feature table as hex_id plus the feature columns,
// one row per cell in identifier order.
func (t *FeatureTable) Table() *tabular.Table {
	cols := append([]string{tabular.HexColumn}, FeatureColumns...)
	out := tabular.New(cols...)
	for _, c := range t.Cells() {
		s := t.cells[c]
		out.AddRow([]string{
			c.String(),
			strconv.FormatInt(s.DeviceCount, 10),
			strconv.FormatInt(s.PingCount, 10),
			strconv.FormatFloat(s.MeanTimestamp, 'g', -1, 64),
		})
	}
	return out
}

// BatchSource is the stream side of the aggregator, satisfied by
// mobility.Reader.
type BatchSource interface {
	Next(ctx context.Context) ([]mobility.Record, error)
}

// Run consumes src to exhaustion, merging every batch into a fresh table.
func Run(ctx context.Context, src BatchSource, opts Options) (*FeatureTable, error) {
	t := New(opts)
	batches := 0
	for {
		batch, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "aggregate: read batch")
		}
		t.AddBatch(batch)
		batches++
	}

	zap.L().Info("aggregated mobility stream",
		zap.Int("batches", batches),
		zap.Int("cells", t.Len()),
		zap.Int("resolution", t.res),
	)
	return t, nil
}
