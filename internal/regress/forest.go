package regress

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
)

// Forest is a bagged ensemble of regression trees: every tree fits a
// bootstrap resample and considers a random feature subset at each split,
// and the prediction is the plain mean over trees.
type Forest struct {
	params ForestParams
	seed   uint64
	trees  []*treeNode
	width  int
}

// NewForest creates an unfitted forest.
func NewForest(params ForestParams, seed uint64) *Forest {
	return &Forest{params: params, seed: seed}
}

// Fit grows the ensemble. Trees are grown strictly sequentially from one
// seeded source, which is what makes refits bit-identical.
func (f *Forest) Fit(X [][]float64, y []float64) error {
	if err := checkTraining(X, y); err != nil {
		return err
	}

	n := len(X)
	f.width = len(X[0])

	perSplit := 0
	if f.params.FeatureFraction > 0 && f.params.FeatureFraction < 1 {
		perSplit = int(math.Ceil(f.params.FeatureFraction * float64(f.width)))
	}

	rng := rand.New(rand.NewPCG(f.seed, forestStream))
	cfg := treeConfig{
		maxDepth: f.params.MaxDepth,
		minLeaf:  f.params.MinLeaf,
		features: perSplit,
		rng:      rng,
	}

	f.trees = make([]*treeNode, 0, f.params.Trees)
	for range f.params.Trees {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.IntN(n)
		}
		f.trees = append(f.trees, buildTree(X, y, sample, 0, cfg))
	}
	return nil
}

// Predict returns the mean tree prediction per row.
func (f *Forest) Predict(X [][]float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, eris.New("regress: forest is not fitted")
	}
	if err := checkPredict(X, f.width); err != nil {
		return nil, err
	}

	out := make([]float64, len(X))
	for _, tree := range f.trees {
		for i, x := range X {
			out[i] += tree.predict(x)
		}
	}
	floats.Scale(1/float64(len(f.trees)), out)
	return out, nil
}
