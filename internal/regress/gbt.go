package regress

import (
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GBT is a gradient-boosted ensemble: trees fit the running residual in
// sequence and contribute through a shrinkage factor. Shallower trees and
// more of them, compared to the forest.
type GBT struct {
	params GBTParams
	seed   uint64
	base   float64
	trees  []*treeNode
	width  int
}

// NewGBT creates an unfitted booster.
func NewGBT(params GBTParams, seed uint64) *GBT {
	return &GBT{params: params, seed: seed}
}

// Fit boosts from the target mean, one tree per round on the residuals of
// everything fitted so far.
func (g *GBT) Fit(X [][]float64, y []float64) error {
	if err := checkTraining(X, y); err != nil {
		return err
	}

	n := len(X)
	g.width = len(X[0])
	g.base = stat.Mean(y, nil)

	cfg := treeConfig{
		maxDepth: g.params.MaxDepth,
		minLeaf:  g.params.MinLeaf,
		rng:      rand.New(rand.NewPCG(g.seed, gbtStream)),
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	current := make([]float64, n)
	for i := range current {
		current[i] = g.base
	}

	residual := make([]float64, n)
	g.trees = make([]*treeNode, 0, g.params.Trees)
	for range g.params.Trees {
		floats.SubTo(residual, y, current)
		tree := buildTree(X, residual, all, 0, cfg)
		g.trees = append(g.trees, tree)
		for i, x := range X {
			current[i] += g.params.LearningRate * tree.predict(x)
		}
	}
	return nil
}

// Predict returns base plus the shrunken sum of tree predictions.
func (g *GBT) Predict(X [][]float64) ([]float64, error) {
	if len(g.trees) == 0 {
		return nil, eris.New("regress: gbt is not fitted")
	}
	if err := checkPredict(X, g.width); err != nil {
		return nil, err
	}

	out := make([]float64, len(X))
	for i := range out {
		out[i] = g.base
	}
	for _, tree := range g.trees {
		for i, x := range X {
			out[i] += g.params.LearningRate * tree.predict(x)
		}
	}
	return out, nil
}
