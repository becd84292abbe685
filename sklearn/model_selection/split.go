// Package model_selection provides seeded train/test splitting, k-fold
// splitters and an exhaustive grid search over classifier parameters.
package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// Fold holds the row indices of one train/test partition.
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// Splitter produces cross-validation folds.
type Splitter interface {
	Split(X, y mat.Matrix) ([]Fold, error)
	GetNSplits() int
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

// TrainTestSplit shuffles the rows 0..n-1 with seed and puts the first
// ceil(testSize*n) of them in the test partition. The same n, testSize
// and seed always yield the same partition. Both partitions are returned
// in ascending row order.
func TrainTestSplit(n int, testSize float64, seed int64) (Fold, error) {
	if testSize <= 0 || testSize >= 1 {
		return Fold{}, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < 1 || n-nTest < 1 {
		return Fold{}, errors.NewValueError("TrainTestSplit",
			"not enough samples for a train and a test partition")
	}

	perm := newRand(seed).Perm(n)
	test := append([]int(nil), perm[:nTest]...)
	train := append([]int(nil), perm[nTest:]...)
	sort.Ints(test)
	sort.Ints(train)
	return Fold{TrainIndices: train, TestIndices: test}, nil
}

// Rows copies the given rows of X into a new matrix.
func Rows(X mat.Matrix, indices []int) *mat.Dense {
	_, c := X.Dims()
	out := mat.NewDense(len(indices), c, nil)
	row := make([]float64, c)
	for i, idx := range indices {
		mat.Row(row, idx, X)
		out.SetRow(i, row)
	}
	return out
}

// Values picks the given entries of v.
func Values(v []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = v[idx]
	}
	return out
}
