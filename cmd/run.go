package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/model"
	"github.com/sells-group/mobility-cli/internal/pipeline"
	"github.com/sells-group/mobility-cli/internal/store"
)

var (
	runMobility   string
	runLabeled    string
	runUnlabeled  string
	runOut        string
	runAlgorithm  string
	runResolution int
	runBatchSize  int
	runSeed       uint64
	runDedup      bool
	runNoStore    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: aggregate, join, train, predict",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, runNoStore)
		if err != nil {
			return err
		}
		defer env.Close()

		inputs := model.RunInputs{
			MobilitySource: runMobility,
			LabeledPath:    runLabeled,
			UnlabeledPath:  runUnlabeled,
			Resolution:     runResolution,
			BatchSize:      runBatchSize,
			Algorithm:      runAlgorithm,
			Seed:           runSeed,
			DedupDevices:   runDedup,
		}
		applyConfigDefaults(&inputs)

		result, err := env.Pipeline.Run(ctx, inputs, runOut)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run complete",
			zap.String("algorithm", result.BestAlgorithm),
			zap.Int("cells", result.Cells),
			zap.String("output", result.OutputPath),
		)

		return writeRunResult(os.Stdout, result)
	},
}

// writeRunResult prints the run result as indented JSON.
func writeRunResult(w io.Writer, result *model.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// applyConfigDefaults fills the knobs the flags left at their zero values
// from config, so flags always win over config.yaml.
func applyConfigDefaults(inputs *model.RunInputs) {
	if inputs.Resolution == 0 {
		inputs.Resolution = cfg.Aggregate.Resolution
	}
	if inputs.BatchSize == 0 {
		inputs.BatchSize = cfg.Aggregate.BatchSize
	}
	if inputs.Algorithm == "" {
		inputs.Algorithm = cfg.Model.Algorithm
	}
	if !inputs.DedupDevices {
		inputs.DedupDevices = cfg.Aggregate.TrackDevices
	}
}

// pipelineEnv bundles the initialized pipeline with the store it may hold.
type pipelineEnv struct {
	Pipeline *pipeline.Pipeline
	store    store.Store
}

// Close releases the store, if one was opened.
func (e *pipelineEnv) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

// initPipeline builds the pipeline from config: store (unless disabled),
// fetcher, regression params.
func initPipeline(ctx context.Context, noStore bool) (*pipelineEnv, error) {
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}

	env := &pipelineEnv{}
	if noStore {
		env.Pipeline = pipeline.New(nil, initFetcher(), params)
		return env, nil
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.store = st
	env.Pipeline = pipeline.New(st, initFetcher(), params)
	return env, nil
}

func init() {
	runCmd.Flags().StringVar(&runMobility, "mobility", "", "mobility dump, local CSV path or URL (required)")
	runCmd.Flags().StringVar(&runLabeled, "labeled", "", "labeled table, CSV or XLSX (required)")
	runCmd.Flags().StringVar(&runUnlabeled, "unlabeled", "", "unlabeled table, CSV or XLSX (required)")
	runCmd.Flags().StringVar(&runOut, "out", "predictions.csv", "prediction CSV output path")
	runCmd.Flags().StringVar(&runAlgorithm, "algo", "", "regression algorithm (forest, gbt); empty compares all and keeps the best")
	runCmd.Flags().IntVar(&runResolution, "resolution", 0, "hexagon resolution; 0 infers it from the labeled table")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "mobility batch size; 0 uses aggregate.batch_size")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "random seed; 0 uses model.seed")
	runCmd.Flags().BoolVar(&runDedup, "dedup-devices", false, "count devices exactly across batches instead of per batch")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "skip recording the run in the store")
	_ = runCmd.MarkFlagRequired("mobility")
	_ = runCmd.MarkFlagRequired("labeled")
	_ = runCmd.MarkFlagRequired("unlabeled")
	rootCmd.AddCommand(runCmd)
}
