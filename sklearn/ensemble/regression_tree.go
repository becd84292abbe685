package ensemble

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/sklearn/tree"
)

// RegressionTree is one boosting stage. Leaves store their output in
// Value[0].
type RegressionTree struct {
	Nodes []tree.Node
}

func (t *RegressionTree) predict(x []float64) float64 {
	id := 0
	for {
		n := &t.Nodes[id]
		if n.IsLeaf() {
			return n.Value[0]
		}
		if x[n.Feature] <= n.Threshold {
			id = n.Left
		} else {
			id = n.Right
		}
	}
}

// NLeaves returns the number of leaves.
func (t *RegressionTree) NLeaves() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}

// regressionBuilder grows trees on per-sample gradients and hessians.
type regressionBuilder struct {
	X          *mat.Dense
	grad       []float64
	hess       []float64
	maxDepth   int
	minSplit   int
	minLeaf    int
	lambda     float64
	minGain    float64
	importance []float64
}

const hessEpsilon = 1e-12

func (b *regressionBuilder) sums(rows []int) (g, h float64) {
	for _, i := range rows {
		g += b.grad[i]
		h += b.hess[i]
	}
	return g, h
}

func (b *regressionBuilder) score(g, h float64) float64 {
	return g * g / (h + b.lambda + hessEpsilon)
}

func (b *regressionBuilder) build(rows []int) RegressionTree {
	t := RegressionTree{}
	b.grow(&t, rows, 0)
	return t
}

func (b *regressionBuilder) grow(t *RegressionTree, rows []int, depth int) int {
	g, h := b.sums(rows)
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, tree.Node{
		Feature:  -1,
		Left:     -1,
		Right:    -1,
		Value:    []float64{-g / (h + b.lambda + hessEpsilon)},
		NSamples: len(rows),
	})

	if depth >= b.maxDepth || len(rows) < b.minSplit || len(rows) < 2*b.minLeaf {
		return id
	}

	feature, threshold, gain := b.bestSplit(rows, g, h)
	if feature < 0 || gain <= b.minGain {
		return id
	}

	var left, right []int
	for _, i := range rows {
		if b.X.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.importance[feature] += gain

	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	node := &t.Nodes[id]
	node.Feature, node.Threshold, node.Left, node.Right = feature, threshold, l, r
	return id
}

// bestSplit scans every feature for the threshold with the largest gain
//
//	0.5 * (GL²/(HL+λ) + GR²/(HR+λ) - G²/(H+λ))
func (b *regressionBuilder) bestSplit(rows []int, g, h float64) (int, float64, float64) {
	bestFeature, bestThreshold, bestGain := -1, 0.0, math.Inf(-1)
	parent := b.score(g, h)
	_, d := b.X.Dims()
	sorted := make([]int, len(rows))

	for f := 0; f < d; f++ {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.X.At(sorted[a], f) < b.X.At(sorted[c], f)
		})

		var gl, hl float64
		for k := 0; k < len(sorted)-1; k++ {
			gl += b.grad[sorted[k]]
			hl += b.hess[sorted[k]]
			v, next := b.X.At(sorted[k], f), b.X.At(sorted[k+1], f)
			if v == next {
				continue
			}
			if k+1 < b.minLeaf || len(sorted)-k-1 < b.minLeaf {
				continue
			}
			gain := 0.5 * (b.score(gl, hl) + b.score(g-gl, h-hl) - parent)
			if gain > bestGain {
				bestFeature, bestThreshold, bestGain = f, (v+next)/2, gain
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}
