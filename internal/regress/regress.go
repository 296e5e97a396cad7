// Package regress implements the pipeline's interchangeable regression
// strategies: a bagged forest of CART trees and gradient-boosted trees.
// Both fit dense float matrices, both are deterministic for a fixed seed,
// and both are compared on validation MSE alone.
package regress

import (
	"math"
	"math/rand/v2"
	"os"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
)

// Regressor is the fit/predict contract every strategy implements. New
// algorithms slot in here without touching the trainer.
type Regressor interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
}

// Registered strategy names.
const (
	AlgoForest = "forest"
	AlgoGBT    = "gbt"
)

// Distinct PCG streams so one seed does not correlate the split, the
// bootstrap draws and the boosting order.
const (
	splitStream  = 0x5eed_0001
	forestStream = 0x5eed_0002
	gbtStream    = 0x5eed_0003
)

// New returns the named strategy configured from p.
func New(algo string, p Params) (Regressor, error) {
	switch algo {
	case AlgoForest:
		return NewForest(p.Forest, p.Seed), nil
	case AlgoGBT:
		return NewGBT(p.GBT, p.Seed), nil
	default:
		return nil, eris.Errorf("regress: unknown algorithm %q", algo)
	}
}

// Algorithms lists the registered strategy names.
func Algorithms() []string {
	return []string{AlgoForest, AlgoGBT}
}

// ForestParams tune the bagged forest.
type ForestParams struct {
	Trees           int     `yaml:"trees"`
	MaxDepth        int     `yaml:"max_depth"`
	MinLeaf         int     `yaml:"min_leaf"`
	FeatureFraction float64 `yaml:"feature_fraction"` // per-split candidate fraction, 1 = all
}

// GBTParams tune the gradient-boosted trees.
type GBTParams struct {
	Trees        int     `yaml:"trees"`
	MaxDepth     int     `yaml:"max_depth"`
	MinLeaf      int     `yaml:"min_leaf"`
	LearningRate float64 `yaml:"learning_rate"`
}

// Params bundles the seed, the split proportion and both strategies'
// hyperparameters. Loadable from a YAML params file.
type Params struct {
	Seed               uint64       `yaml:"seed"`
	ValidationFraction float64      `yaml:"validation_fraction"`
	Forest             ForestParams `yaml:"forest"`
	GBT                GBTParams    `yaml:"gbt"`
}

// DefaultParams returns the tunables every run starts from.
func DefaultParams() Params {
	return Params{
		Seed:               42,
		ValidationFraction: 0.25,
		Forest: ForestParams{
			Trees:           100,
			MaxDepth:        8,
			MinLeaf:         2,
			FeatureFraction: 0.7,
		},
		GBT: GBTParams{
			Trees:        100,
			MaxDepth:     3,
			MinLeaf:      2,
			LearningRate: 0.1,
		},
	}
}

// LoadParams reads a YAML params file over the defaults, so a partial file
// only overrides what it names.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "regress: read params %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, eris.Wrap(err, "regress: parse params")
	}

	p.normalize()
	return p, nil
}

// normalize clamps zero or nonsense values back to the defaults.
func (p *Params) normalize() {
	def := DefaultParams()
	if p.ValidationFraction <= 0 || p.ValidationFraction >= 1 {
		p.ValidationFraction = def.ValidationFraction
	}
	if p.Forest.Trees <= 0 {
		p.Forest.Trees = def.Forest.Trees
	}
	if p.Forest.MaxDepth <= 0 {
		p.Forest.MaxDepth = def.Forest.MaxDepth
	}
	if p.Forest.MinLeaf <= 0 {
		p.Forest.MinLeaf = def.Forest.MinLeaf
	}
	if p.Forest.FeatureFraction <= 0 || p.Forest.FeatureFraction > 1 {
		p.Forest.FeatureFraction = def.Forest.FeatureFraction
	}
	if p.GBT.Trees <= 0 {
		p.GBT.Trees = def.GBT.Trees
	}
	if p.GBT.MaxDepth <= 0 {
		p.GBT.MaxDepth = def.GBT.MaxDepth
	}
	if p.GBT.MinLeaf <= 0 {
		p.GBT.MinLeaf = def.GBT.MinLeaf
	}
	if p.GBT.LearningRate <= 0 || p.GBT.LearningRate > 1 {
		p.GBT.LearningRate = def.GBT.LearningRate
	}
}

// Split deterministically partitions row indices [0,n) into training and
// validation sets. Identical n, fraction and seed always produce the
// identical partition.
func Split(n int, fraction float64, seed uint64) (train, val []int) {
	if n == 0 {
		return nil, nil
	}

	rng := rand.New(rand.NewPCG(seed, splitStream))
	perm := rng.Perm(n)

	k := int(math.Round(fraction * float64(n)))
	if k < 1 {
		k = 1
	}
	if k >= n {
		k = n - 1
	}
	if k < 1 {
		return perm, nil // single row, nothing to hold out
	}
	return perm[k:], perm[:k]
}

// MSE returns the mean squared error between predictions and truth.
// Both slices must have the same length.
func MSE(pred, truth []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	diff := make([]float64, len(pred))
	floats.SubTo(diff, pred, truth)
	return floats.Dot(diff, diff) / float64(len(diff))
}

// checkTraining validates the fit inputs: rectangular matrix, one target
// per row, no NaN anywhere.
func checkTraining(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return eris.New("regress: empty training set")
	}
	if len(X) != len(y) {
		return eris.Errorf("regress: %d rows but %d targets", len(X), len(y))
	}
	w := len(X[0])
	if w == 0 {
		return eris.New("regress: no feature columns")
	}
	for i, row := range X {
		if len(row) != w {
			return eris.Errorf("regress: row %d has %d features, want %d", i, len(row), w)
		}
		for j, v := range row {
			if math.IsNaN(v) {
				return eris.Errorf("regress: NaN feature at row %d column %d", i, j)
			}
		}
	}
	for i, v := range y {
		if math.IsNaN(v) {
			return eris.Errorf("regress: NaN target at row %d", i)
		}
	}
	return nil
}

// checkPredict validates inference inputs against the fitted width.
func checkPredict(X [][]float64, width int) error {
	for i, row := range X {
		if len(row) != width {
			return eris.Errorf("regress: row %d has %d features, model fitted on %d", i, len(row), width)
		}
	}
	return nil
}
