package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/aggregate"
	"github.com/sells-group/mobility-cli/internal/mobility"
	"github.com/sells-group/mobility-cli/internal/model"
	"github.com/sells-group/mobility-cli/internal/pipeline"
)

var (
	aggMobility   string
	aggOut        string
	aggResolution int
	aggBatchSize  int
	aggDedup      bool
	aggSave       bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate a mobility dump into per-hexagon features",
	Long: `Aggregate streams a mobility dump batch by batch, indexes every ping into
a hexagon cell at the run resolution and writes the per-cell feature table
as CSV. With --save the table is also persisted under a fresh run so later
train and export invocations can reuse it without re-reading the dump.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		res := aggResolution
		if res == 0 {
			res = cfg.Aggregate.Resolution
		}
		if res <= 0 {
			return eris.New("--resolution is required when aggregating a mobility dump directly")
		}
		batch := aggBatchSize
		if batch == 0 {
			batch = cfg.Aggregate.BatchSize
		}
		dedup := aggDedup || cfg.Aggregate.TrackDevices

		reader, err := mobility.OpenSource(ctx, initFetcher(), aggMobility, batch)
		if err != nil {
			return err
		}
		defer reader.Close() //nolint:errcheck

		table, err := aggregate.Run(ctx, reader, aggregate.Options{
			Resolution:   res,
			TrackDevices: dedup,
		})
		if err != nil {
			return err
		}

		if err := table.Table().WriteFile(aggOut); err != nil {
			return eris.Wrapf(err, "write features to %s", aggOut)
		}

		result := &model.RunResult{
			Pings:       reader.Rows(),
			SkippedRows: reader.Skipped(),
			Cells:       table.Len(),
			OutputPath:  aggOut,
		}

		var runID string
		if aggSave {
			inputs := model.RunInputs{
				MobilitySource: aggMobility,
				Resolution:     res,
				BatchSize:      batch,
				DedupDevices:   dedup,
			}
			runID, err = saveFeatures(ctx, inputs, table, result)
			if err != nil {
				return err
			}
		}

		zap.L().Info("aggregation complete",
			zap.Int64("pings", result.Pings),
			zap.Int64("skipped", result.SkippedRows),
			zap.Int("cells", result.Cells),
			zap.String("output", aggOut),
		)
		return writeAggregateResult(os.Stdout, runID, result)
	},
}

// saveFeatures records a completed aggregation-only run and persists its
// cells, returning the new run ID.
func saveFeatures(ctx context.Context, inputs model.RunInputs, table *aggregate.FeatureTable, result *model.RunResult) (string, error) {
	st, err := initStore(ctx)
	if err != nil {
		return "", err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return "", eris.Wrap(err, "migrate store")
	}

	run, err := st.CreateRun(ctx, inputs)
	if err != nil {
		return "", eris.Wrap(err, "create run")
	}
	if _, err := st.SaveCellFeatures(ctx, run.ID, pipeline.CellRows(run.ID, table)); err != nil {
		return "", eris.Wrapf(err, "save features for run %s", run.ID)
	}
	if err := st.CompleteRun(ctx, run.ID, result); err != nil {
		return "", eris.Wrapf(err, "complete run %s", run.ID)
	}

	zap.L().Info("saved aggregated features",
		zap.String("run_id", run.ID),
		zap.Int("cells", result.Cells),
	)
	return run.ID, nil
}

func writeAggregateResult(w io.Writer, runID string, result *model.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID string `json:"run_id,omitempty"`
		*model.RunResult
	}{RunID: runID, RunResult: result})
}

func init() {
	aggregateCmd.Flags().StringVar(&aggMobility, "mobility", "", "mobility dump path or URL (required)")
	aggregateCmd.Flags().StringVar(&aggOut, "out", "features.csv", "output CSV path for the feature table")
	aggregateCmd.Flags().IntVar(&aggResolution, "resolution", 0, "hexagon resolution 1-15")
	aggregateCmd.Flags().IntVar(&aggBatchSize, "batch-size", 0, "pings per batch")
	aggregateCmd.Flags().BoolVar(&aggDedup, "dedup-devices", false, "count devices exactly across batches")
	aggregateCmd.Flags().BoolVar(&aggSave, "save", false, "persist the feature table under a new run")
	_ = aggregateCmd.MarkFlagRequired("mobility")

	rootCmd.AddCommand(aggregateCmd)
}
