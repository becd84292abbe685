package model_selection

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// KFold splits rows into NSplits consecutive folds (after an optional
// seeded shuffle). The first n%NSplits folds get one extra row.
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomSeed int64) *KFold {
	return &KFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int { return kf.NSplits }

// Split generates train/test indices for each fold
func (kf *KFold) Split(X, _ mat.Matrix) ([]Fold, error) {
	n, _ := X.Dims()
	if err := checkSplits(kf.NSplits, n); err != nil {
		return nil, err
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := newRand(kf.RandomSeed)
		r.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}

	testOf := make([]int, n)
	start := 0
	for f := 0; f < kf.NSplits; f++ {
		size := n / kf.NSplits
		if f < n%kf.NSplits {
			size++
		}
		for _, idx := range indices[start : start+size] {
			testOf[idx] = f
		}
		start += size
	}
	return buildFolds(testOf, kf.NSplits), nil
}

// StratifiedKFold preserves the class proportions of y in every fold.
// Within each class, rows are dealt to folds in contiguous blocks.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed int64) *StratifiedKFold {
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int { return skf.NSplits }

// Split generates stratified train/test indices for each fold. Every
// class needs at least NSplits rows.
func (skf *StratifiedKFold) Split(X, y mat.Matrix) ([]Fold, error) {
	n, _ := X.Dims()
	if err := checkSplits(skf.NSplits, n); err != nil {
		return nil, err
	}
	if r, _ := y.Dims(); r != n {
		return nil, errors.NewDimensionError("StratifiedKFold.Split", n, r, 0)
	}

	byClass := make(map[float64][]int)
	for i := 0; i < n; i++ {
		label := y.At(i, 0)
		byClass[label] = append(byClass[label], i)
	}
	labels := make([]float64, 0, len(byClass))
	for label := range byClass {
		labels = append(labels, label)
	}
	sort.Float64s(labels)

	var r interface{ Shuffle(int, func(int, int)) }
	if skf.Shuffle {
		r = newRand(skf.RandomSeed)
	}

	testOf := make([]int, n)
	for _, label := range labels {
		indices := byClass[label]
		if len(indices) < skf.NSplits {
			return nil, errors.NewValueError("StratifiedKFold.Split",
				fmt.Sprintf("class %v has %d samples, fewer than n_splits=%d", label, len(indices), skf.NSplits))
		}
		if r != nil {
			r.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		}
		start := 0
		for f := 0; f < skf.NSplits; f++ {
			size := len(indices) / skf.NSplits
			if f < len(indices)%skf.NSplits {
				size++
			}
			for _, idx := range indices[start : start+size] {
				testOf[idx] = f
			}
			start += size
		}
	}
	return buildFolds(testOf, skf.NSplits), nil
}

func checkSplits(nSplits, n int) error {
	if nSplits < 2 {
		return errors.NewValidationError("n_splits", "must be >= 2", nSplits)
	}
	if n < nSplits {
		return errors.NewValueError("Split", fmt.Sprintf("n_splits=%d exceeds %d samples", nSplits, n))
	}
	return nil
}

// buildFolds turns a per-row fold assignment into folds with sorted indices.
func buildFolds(testOf []int, nSplits int) []Fold {
	folds := make([]Fold, nSplits)
	for i, f := range testOf {
		for k := range folds {
			if k == f {
				folds[k].TestIndices = append(folds[k].TestIndices, i)
			} else {
				folds[k].TrainIndices = append(folds[k].TrainIndices, i)
			}
		}
	}
	return folds
}
