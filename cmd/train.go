package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/model"
	"github.com/sells-group/mobility-cli/internal/pipeline"
	"github.com/sells-group/mobility-cli/internal/regress"
	"github.com/sells-group/mobility-cli/internal/tabular"
)

var (
	trainLabeled    string
	trainMobility   string
	trainRunID      string
	trainAlgo       string
	trainCompare    bool
	trainPlot       string
	trainSeed       uint64
	trainResolution int
	trainBatchSize  int
	trainDedup      bool
)

// trainReport is the JSON summary printed after fitting.
type trainReport struct {
	Algorithm     string            `json:"algorithm"`
	MSE           float64           `json:"mse"`
	TrainRows     int               `json:"train_rows"`
	ValRows       int               `json:"val_rows"`
	Scores        []model.AlgoScore `json:"scores,omitempty"`
	Tied          bool              `json:"tied,omitempty"`
	LabeledMisses int               `json:"labeled_misses,omitempty"`
	Plot          string            `json:"plot,omitempty"`
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit a regression model on a labeled hexagon table",
	Long: `Train joins aggregated mobility features onto a labeled table and fits a
regression model against its cost_of_living column, reporting the validation
MSE. Features come from a saved run (--features-run) or from a fresh
aggregation of a mobility dump (--mobility). With --compare, or when no
algorithm is chosen, every registered algorithm is fitted on the same split
and ranked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		labeled, err := tabular.ReadTable(trainLabeled)
		if err != nil {
			return err
		}

		res := trainResolution
		if res == 0 {
			res = cfg.Aggregate.Resolution
		}
		if res == 0 {
			res, err = pipeline.InferTableResolution(labeled)
			if err != nil {
				return err
			}
		}
		batch := trainBatchSize
		if batch == 0 {
			batch = cfg.Aggregate.BatchSize
		}

		features, err := loadFeatures(ctx, featureSource{
			RunID:      trainRunID,
			Mobility:   trainMobility,
			Resolution: res,
			BatchSize:  batch,
			Dedup:      trainDedup || cfg.Aggregate.TrackDevices,
		})
		if err != nil {
			return err
		}

		joined, err := pipeline.Join(labeled, features)
		if err != nil {
			return err
		}

		params, err := cfg.Params()
		if err != nil {
			return err
		}
		if trainSeed != 0 {
			params.Seed = trainSeed
		}

		algo := trainAlgo
		if algo == "" {
			algo = cfg.Model.Algorithm
		}

		var (
			best   *pipeline.Fitted
			report trainReport
		)
		if trainCompare || algo == "" {
			cmp, err := pipeline.Compare(joined, params)
			if err != nil {
				return err
			}
			best = cmp.Best
			report.Scores = cmp.Scores()
			report.Tied = cmp.Tied
		} else {
			best, err = pipeline.Train(joined, algo, params)
			if err != nil {
				return err
			}
		}

		report.Algorithm = best.Algorithm
		report.MSE = best.MSE
		report.TrainRows = best.TrainRows
		report.ValRows = best.ValRows
		report.LabeledMisses = joined.Misses

		if trainPlot != "" {
			title := fmt.Sprintf("%s validation (MSE %.4g)", best.Algorithm, best.MSE)
			if err := regress.WriteScatter(trainPlot, title, best.ValActual, best.ValPredicted); err != nil {
				return eris.Wrapf(err, "write plot %s", trainPlot)
			}
			report.Plot = trainPlot
			zap.L().Info("wrote validation scatter", zap.String("path", trainPlot))
		}

		zap.L().Info("training complete",
			zap.String("algorithm", report.Algorithm),
			zap.Float64("mse", report.MSE),
			zap.Int("labeled_misses", report.LabeledMisses),
		)
		return writeTrainReport(os.Stdout, &report)
	},
}

func writeTrainReport(w io.Writer, report *trainReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func init() {
	trainCmd.Flags().StringVar(&trainLabeled, "labeled", "", "labeled table CSV with hex_id and cost_of_living (required)")
	trainCmd.Flags().StringVar(&trainMobility, "mobility", "", "mobility dump to aggregate features from")
	trainCmd.Flags().StringVar(&trainRunID, "features-run", "", "reuse the persisted features of this run")
	trainCmd.Flags().StringVar(&trainAlgo, "algo", "", "regression algorithm (forest, gbt)")
	trainCmd.Flags().BoolVar(&trainCompare, "compare", false, "fit every algorithm and rank by validation MSE")
	trainCmd.Flags().StringVar(&trainPlot, "plot", "", "write a predicted-vs-actual scatter PNG to this path")
	trainCmd.Flags().Uint64Var(&trainSeed, "seed", 0, "random seed for the train/validation split")
	trainCmd.Flags().IntVar(&trainResolution, "resolution", 0, "hexagon resolution, inferred from the labeled table when 0")
	trainCmd.Flags().IntVar(&trainBatchSize, "batch-size", 0, "pings per batch when aggregating")
	trainCmd.Flags().BoolVar(&trainDedup, "dedup-devices", false, "count devices exactly across batches")
	_ = trainCmd.MarkFlagRequired("labeled")

	rootCmd.AddCommand(trainCmd)
}
