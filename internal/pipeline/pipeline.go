// Package pipeline stages the full run: aggregate the mobility stream, join
// features onto the labeled and unlabeled tables, train and evaluate, and
// predict. Batches and stages run strictly sequentially; the only state
// shared between stages is the feature table built by the aggregator.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/aggregate"
	"github.com/sells-group/mobility-cli/internal/fetcher"
	"github.com/sells-group/mobility-cli/internal/hexgrid"
	"github.com/sells-group/mobility-cli/internal/mobility"
	"github.com/sells-group/mobility-cli/internal/model"
	"github.com/sells-group/mobility-cli/internal/regress"
	"github.com/sells-group/mobility-cli/internal/store"
	"github.com/sells-group/mobility-cli/internal/tabular"
)

// Pipeline wires the staged run together. The store and fetcher are both
// optional: without a store nothing is recorded, without a fetcher only
// local mobility paths are accepted.
type Pipeline struct {
	store  store.Store
	fetch  fetcher.Fetcher
	params regress.Params
}

// New creates a pipeline with the given dependencies.
func New(st store.Store, f fetcher.Fetcher, params regress.Params) *Pipeline {
	return &Pipeline{store: st, fetch: f, params: params}
}

// Run executes the full pipeline and writes the prediction table to outPath.
// An empty inputs.Algorithm compares every registered algorithm and predicts
// with the best by validation MSE; inputs.Resolution zero is inferred from
// the first labeled identifier.
func (p *Pipeline) Run(ctx context.Context, inputs model.RunInputs, outPath string) (*model.RunResult, error) {
	log := zap.L().With(
		zap.String("mobility", inputs.MobilitySource),
		zap.String("labeled", inputs.LabeledPath),
		zap.String("unlabeled", inputs.UnlabeledPath),
	)
	log.Info("pipeline: starting run")

	labeled, err := tabular.ReadTable(inputs.LabeledPath)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read labeled table")
	}
	unlabeled, err := tabular.ReadTable(inputs.UnlabeledPath)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read unlabeled table")
	}

	if inputs.Resolution <= 0 {
		res, rerr := InferTableResolution(labeled)
		if rerr != nil {
			return nil, rerr
		}
		inputs.Resolution = res
	}
	if inputs.Seed != 0 {
		p.params.Seed = inputs.Seed
	}
	inputs.Seed = p.params.Seed

	var run *model.Run
	if p.store != nil {
		run, err = p.store.CreateRun(ctx, inputs)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		log = log.With(zap.String("run_id", run.ID))
	}

	setStatus := func(status model.RunStatus) {
		if run == nil {
			return
		}
		if serr := p.store.UpdateRunStatus(ctx, run.ID, status); serr != nil {
			log.Warn("pipeline: update run status", zap.Error(serr))
		}
	}
	fail := func(err error) (*model.RunResult, error) {
		if run != nil {
			if ferr := p.store.FailRun(ctx, run.ID, err); ferr != nil {
				log.Warn("pipeline: record failed run", zap.Error(ferr))
			}
		}
		return nil, err
	}

	// Aggregate.
	src, err := mobility.OpenSource(ctx, p.fetch, inputs.MobilitySource, inputs.BatchSize)
	if err != nil {
		return fail(err)
	}
	defer src.Close()

	features, err := aggregate.Run(ctx, src, aggregate.Options{
		Resolution:   inputs.Resolution,
		TrackDevices: inputs.DedupDevices,
	})
	if err != nil {
		return fail(err)
	}

	if run != nil {
		if _, serr := p.store.SaveCellFeatures(ctx, run.ID, CellRows(run.ID, features)); serr != nil {
			log.Warn("pipeline: persist cell features", zap.Error(serr))
		}
	}

	// Join + train.
	setStatus(model.RunStatusJoining)
	jl, err := Join(labeled, features)
	if err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusTraining)
	var (
		fitted *Fitted
		scores []model.AlgoScore
		tied   bool
	)
	if inputs.Algorithm == "" {
		cmp, cerr := Compare(jl, p.params)
		if cerr != nil {
			return fail(cerr)
		}
		fitted, scores, tied = cmp.Best, cmp.Scores(), cmp.Tied
	} else {
		fitted, err = Train(jl, inputs.Algorithm, p.params)
		if err != nil {
			return fail(err)
		}
		scores = []model.AlgoScore{{Algorithm: fitted.Algorithm, MSE: fitted.MSE}}
	}

	// Predict.
	setStatus(model.RunStatusPredicting)
	ju, err := Join(unlabeled, features)
	if err != nil {
		return fail(err)
	}
	out, err := Predict(fitted, ju)
	if err != nil {
		return fail(err)
	}
	if err := out.WriteFile(outPath); err != nil {
		return fail(eris.Wrap(err, "pipeline: write predictions"))
	}

	result := &model.RunResult{
		Pings:           src.Rows(),
		SkippedRows:     src.Skipped(),
		Cells:           features.Len(),
		LabeledRows:     len(labeled.Rows),
		UnlabeledRows:   len(unlabeled.Rows),
		LabeledMisses:   jl.Misses,
		UnlabeledMisses: ju.Misses,
		Scores:          scores,
		BestAlgorithm:   fitted.Algorithm,
		Tied:            tied,
		OutputPath:      outPath,
	}
	if run != nil {
		if serr := p.store.CompleteRun(ctx, run.ID, result); serr != nil {
			log.Warn("pipeline: record completed run", zap.Error(serr))
		}
	}

	log.Info("pipeline: run complete",
		zap.String("algorithm", fitted.Algorithm),
		zap.Float64("mse", fitted.MSE),
		zap.Int("cells", result.Cells),
		zap.String("output", outPath),
	)
	return result, nil
}

// InferTableResolution reads the run resolution off the table's first
// identifier, the one place it is allowed to come from.
func InferTableResolution(t *tabular.Table) (int, error) {
	hexIdx, err := t.RequireColumn(tabular.HexColumn)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: locate hex column")
	}
	if len(t.Rows) == 0 {
		return 0, eris.Errorf("pipeline: cannot infer resolution: %s has no rows", t.Path)
	}
	res, err := hexgrid.InferResolution(t.Rows[0][hexIdx])
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: infer resolution")
	}
	return res, nil
}
