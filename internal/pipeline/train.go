package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/model"
	"github.com/sells-group/mobility-cli/internal/regress"
	"github.com/sells-group/mobility-cli/internal/tabular"
)

// Fitted is one trained strategy plus everything needed to apply and judge
// it: the feature column order it was trained under, the validation MSE, and
// the held-out actual/predicted pairs for plotting.
type Fitted struct {
	Algorithm    string
	Columns      []string
	MSE          float64
	TrainRows    int
	ValRows      int
	ValActual    []float64
	ValPredicted []float64

	reg regress.Regressor
}

// Train fits one algorithm on the joined labeled table. Rows are split into
// train and validation partitions with the seeded deterministic split, so
// the same inputs always reproduce the same MSE.
func Train(j *Joined, algo string, p regress.Params) (*Fitted, error) {
	X, err := featureMatrix(j.Table, j.Columns)
	if err != nil {
		return nil, err
	}
	y, err := targetVector(j.Table)
	if err != nil {
		return nil, err
	}

	trainIdx, valIdx := regress.Split(len(y), p.ValidationFraction, p.Seed)
	f, err := fitOne(algo, p, X, y, trainIdx, valIdx)
	if err != nil {
		return nil, err
	}
	f.Columns = append([]string(nil), j.Columns...)

	zap.L().Info("trained model",
		zap.String("algorithm", f.Algorithm),
		zap.Int("train_rows", f.TrainRows),
		zap.Int("val_rows", f.ValRows),
		zap.Float64("mse", f.MSE),
	)
	return f, nil
}

// Comparison is the outcome of fitting every registered algorithm on the
// same split. Equal validation MSEs are flagged, never broken arbitrarily.
type Comparison struct {
	Fits []*Fitted
	Best *Fitted
	Tied bool
}

// Scores lists each algorithm's validation MSE in fit order.
func (c *Comparison) Scores() []model.AlgoScore {
	out := make([]model.AlgoScore, len(c.Fits))
	for i, f := range c.Fits {
		out[i] = model.AlgoScore{Algorithm: f.Algorithm, MSE: f.MSE}
	}
	return out
}

// Compare fits every registered algorithm on one shared split and ranks
// them by validation MSE. On an exact tie, Best is the first fitted in
// registration order and Tied reports the ambiguity to the caller.
func Compare(j *Joined, p regress.Params) (*Comparison, error) {
	X, err := featureMatrix(j.Table, j.Columns)
	if err != nil {
		return nil, err
	}
	y, err := targetVector(j.Table)
	if err != nil {
		return nil, err
	}

	trainIdx, valIdx := regress.Split(len(y), p.ValidationFraction, p.Seed)

	cmp := &Comparison{}
	for _, algo := range regress.Algorithms() {
		f, err := fitOne(algo, p, X, y, trainIdx, valIdx)
		if err != nil {
			return nil, err
		}
		f.Columns = append([]string(nil), j.Columns...)
		cmp.Fits = append(cmp.Fits, f)

		if cmp.Best == nil || f.MSE < cmp.Best.MSE {
			cmp.Best = f
			cmp.Tied = false
		} else if f.MSE == cmp.Best.MSE {
			cmp.Tied = true
		}
	}

	for _, f := range cmp.Fits {
		zap.L().Info("compared algorithm",
			zap.String("algorithm", f.Algorithm),
			zap.Float64("mse", f.MSE),
		)
	}
	if cmp.Tied {
		zap.L().Warn("validation MSE tie, keeping first algorithm",
			zap.String("algorithm", cmp.Best.Algorithm),
			zap.Float64("mse", cmp.Best.MSE),
		)
	}
	return cmp, nil
}

func fitOne(algo string, p regress.Params, X [][]float64, y []float64, trainIdx, valIdx []int) (*Fitted, error) {
	reg, err := regress.New(algo, p)
	if err != nil {
		return nil, eris.Wrap(err, "train: create strategy")
	}

	trainX, trainY := takeRows(X, y, trainIdx)
	valX, valY := takeRows(X, y, valIdx)

	if err := reg.Fit(trainX, trainY); err != nil {
		return nil, eris.Wrapf(err, "train: fit %s", algo)
	}

	var preds []float64
	if len(valX) > 0 {
		preds, err = reg.Predict(valX)
		if err != nil {
			return nil, eris.Wrapf(err, "train: validate %s", algo)
		}
	}

	return &Fitted{
		Algorithm:    algo,
		MSE:          regress.MSE(preds, valY),
		TrainRows:    len(trainX),
		ValRows:      len(valX),
		ValActual:    valY,
		ValPredicted: preds,
		reg:          reg,
	}, nil
}

func takeRows(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	outX := make([][]float64, len(idx))
	outY := make([]float64, len(idx))
	for i, j := range idx {
		outX[i] = X[j]
		outY[i] = y[j]
	}
	return outX, outY
}

// featureMatrix parses the named columns into float rows. Any value that is
// not a finite number is a schema failure, surfaced before fitting starts.
func featureMatrix(t *tabular.Table, columns []string) ([][]float64, error) {
	idx := make([]int, len(columns))
	for i, name := range columns {
		j, err := t.RequireColumn(name)
		if err != nil {
			return nil, eris.Wrap(err, "train: locate feature column")
		}
		idx[i] = j
	}

	X := make([][]float64, len(t.Rows))
	for r, row := range t.Rows {
		vec := make([]float64, len(idx))
		for i, j := range idx {
			v, err := parseFinite(row[j])
			if err != nil {
				return nil, &tabular.SchemaError{
					Path:   t.Path,
					Column: columns[i],
					Reason: fmt.Sprintf("row %d: non-numeric value %q", r+1, row[j]),
				}
			}
			vec[i] = v
		}
		X[r] = vec
	}
	return X, nil
}

// targetVector parses the target column. Missing or non-numeric targets are
// schema failures: a model must never be fitted around silently dropped
// labels.
func targetVector(t *tabular.Table) ([]float64, error) {
	idx, err := t.RequireColumn(tabular.TargetColumn)
	if err != nil {
		return nil, eris.Wrap(err, "train: locate target column")
	}

	y := make([]float64, len(t.Rows))
	for r, row := range t.Rows {
		raw := strings.TrimSpace(row[idx])
		if raw == "" {
			return nil, &tabular.SchemaError{
				Path:   t.Path,
				Column: tabular.TargetColumn,
				Reason: fmt.Sprintf("row %d: missing target value", r+1),
			}
		}
		v, err := parseFinite(raw)
		if err != nil {
			return nil, &tabular.SchemaError{
				Path:   t.Path,
				Column: tabular.TargetColumn,
				Reason: fmt.Sprintf("row %d: non-numeric target %q", r+1, raw),
			}
		}
		y[r] = v
	}
	return y, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("not finite: %s", s)
	}
	return v, nil
}
