package regress

import (
	"math"
	"math/rand/v2"
	"sort"
)

// treeNode is one node of a CART regression tree. Interior nodes carry a
// split, leaves carry the mean target of the rows that reached them.
type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	value     float64
}

func (n *treeNode) predict(x []float64) float64 {
	for n.left != nil {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

type treeConfig struct {
	maxDepth int
	minLeaf  int
	features int // candidate features per split; 0 means all
	rng      *rand.Rand
}

// buildTree fits a tree on the rows named by idx. It splits greedily on the
// candidate feature and threshold minimizing the summed squared error of the
// two sides, and stops at maxDepth, at minLeaf, or when no split helps.
func buildTree(X [][]float64, y []float64, idx []int, depth int, cfg treeConfig) *treeNode {
	node := &treeNode{value: meanAt(y, idx)}
	if depth >= cfg.maxDepth || len(idx) < 2*cfg.minLeaf {
		return node
	}

	feature, threshold, ok := bestSplit(X, y, idx, cfg)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	node.feature = feature
	node.threshold = threshold
	node.left = buildTree(X, y, left, depth+1, cfg)
	node.right = buildTree(X, y, right, depth+1, cfg)
	return node
}

// bestSplit scans every candidate feature with a sort plus prefix sums, so
// each feature costs O(n log n) rather than O(n^2).
func bestSplit(X [][]float64, y []float64, idx []int, cfg treeConfig) (int, float64, bool) {
	n := len(idx)

	var sumT, sqT float64
	for _, i := range idx {
		sumT += y[i]
		sqT += y[i] * y[i]
	}

	var (
		found     bool
		bestFeat  int
		bestThr   float64
		bestScore = math.Inf(1)
	)

	order := make([]int, n)
	for _, f := range featureSubset(len(X[0]), cfg) {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		var sumL, sqL float64
		for k := 0; k < n-1; k++ {
			i := order[k]
			sumL += y[i]
			sqL += y[i] * y[i]

			nl, nr := k+1, n-k-1
			if nl < cfg.minLeaf || nr < cfg.minLeaf {
				continue
			}
			if X[order[k]][f] == X[order[k+1]][f] {
				continue
			}

			sumR, sqR := sumT-sumL, sqT-sqL
			score := (sqL - sumL*sumL/float64(nl)) + (sqR - sumR*sumR/float64(nr))
			if score < bestScore {
				bestScore = score
				bestFeat = f
				bestThr = (X[order[k]][f] + X[order[k+1]][f]) / 2
				found = true
			}
		}
	}
	return bestFeat, bestThr, found
}

// featureSubset picks the candidate features for one split. With a seeded
// rng the draw sequence, and with it the whole tree, reproduces exactly.
func featureSubset(width int, cfg treeConfig) []int {
	if cfg.features <= 0 || cfg.features >= width {
		all := make([]int, width)
		for i := range all {
			all[i] = i
		}
		return all
	}
	sub := cfg.rng.Perm(width)[:cfg.features]
	sort.Ints(sub)
	return sub
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}
