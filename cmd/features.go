package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mobility-cli/internal/aggregate"
	"github.com/sells-group/mobility-cli/internal/mobility"
	"github.com/sells-group/mobility-cli/internal/pipeline"
)

// featureSource describes where a command gets its aggregated feature table:
// a previously persisted run, or a fresh aggregation of a mobility dump.
type featureSource struct {
	RunID      string
	Mobility   string
	Resolution int
	BatchSize  int
	Dedup      bool
}

// loadFeatures materializes the feature table for train and export. A stored
// run wins when both sources are given; resolution 0 is recovered from the
// persisted cells and is an error for fresh aggregation, where nothing else
// pins the grid.
func loadFeatures(ctx context.Context, src featureSource) (*aggregate.FeatureTable, error) {
	if src.RunID != "" {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate store")
		}

		cells, err := st.LoadCellFeatures(ctx, src.RunID)
		if err != nil {
			return nil, eris.Wrapf(err, "load features for run %s", src.RunID)
		}
		if len(cells) == 0 {
			return nil, eris.Errorf("no persisted features for run %s", src.RunID)
		}
		return pipeline.TableFromCells(src.Resolution, cells)
	}

	if src.Mobility == "" {
		return nil, eris.New("either --features-run or --mobility is required")
	}
	if src.Resolution <= 0 {
		return nil, eris.New("--resolution is required when aggregating a mobility dump directly")
	}

	reader, err := mobility.OpenSource(ctx, initFetcher(), src.Mobility, src.BatchSize)
	if err != nil {
		return nil, err
	}
	defer reader.Close() //nolint:errcheck

	return aggregate.Run(ctx, reader, aggregate.Options{
		Resolution:   src.Resolution,
		TrackDevices: src.Dedup,
	})
}
