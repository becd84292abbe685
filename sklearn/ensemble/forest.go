// Package ensemble provides tree ensembles: a bagged random forest of CART
// classifiers and a gradient-boosted classifier built from second-order
// regression trees.
package ensemble

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/core/parallel"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/sklearn/tree"
)

var _ model.Classifier = (*RandomForestClassifier)(nil)

// Feature subsampling strategies.
const (
	MaxFeaturesSqrt = "sqrt"
	MaxFeaturesLog2 = "log2"
	MaxFeaturesAll  = "all"
)

const minParallelRows = 256

// RandomForestClassifier averages the class probabilities of decision
// trees fitted on bootstrap samples with random feature subsets.
type RandomForestClassifier struct {
	// Hyperparameters
	NEstimators     int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	Bootstrap       bool
	RandomState     int64
	NJobs           int // <= 0 means one worker per CPU

	// Fitted state
	Trees              []*tree.DecisionTreeClassifier
	ClassCodes         []int
	FeatureImportances []float64
	State              *model.StateManager
}

// ForestOption configures a RandomForestClassifier.
type ForestOption func(*RandomForestClassifier)

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.NEstimators = n }
}

// WithForestCriterion sets the split criterion of every tree.
func WithForestCriterion(c string) ForestOption {
	return func(rf *RandomForestClassifier) { rf.Criterion = c }
}

// WithForestMaxDepth limits the depth of every tree.
func WithForestMaxDepth(d int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.MaxDepth = d }
}

// WithForestMinSamplesSplit sets min_samples_split of every tree.
func WithForestMinSamplesSplit(n int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.MinSamplesSplit = n }
}

// WithForestMinSamplesLeaf sets min_samples_leaf of every tree.
func WithForestMinSamplesLeaf(n int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.MinSamplesLeaf = n }
}

// WithMaxFeatures selects "sqrt", "log2" or "all".
func WithMaxFeatures(s string) ForestOption {
	return func(rf *RandomForestClassifier) { rf.MaxFeatures = s }
}

// WithBootstrap toggles bootstrap sampling.
func WithBootstrap(b bool) ForestOption {
	return func(rf *RandomForestClassifier) { rf.Bootstrap = b }
}

// WithForestRandomState seeds sampling.
func WithForestRandomState(seed int64) ForestOption {
	return func(rf *RandomForestClassifier) { rf.RandomState = seed }
}

// WithNJobs sets the number of trees fitted concurrently.
func WithNJobs(n int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.NJobs = n }
}

// NewRandomForestClassifier creates a forest with sklearn defaults
// (100 trees, gini, sqrt features, bootstrap).
func NewRandomForestClassifier(opts ...ForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		NEstimators:     100,
		Criterion:       tree.CriterionGini,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     MaxFeaturesSqrt,
		Bootstrap:       true,
		State:           model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// IsFitted implements model.Estimator.
func (rf *RandomForestClassifier) IsFitted() bool { return rf.State.IsFitted() }

// Classes implements model.Classifier.
func (rf *RandomForestClassifier) Classes() []int { return append([]int(nil), rf.ClassCodes...) }

func (rf *RandomForestClassifier) validate() error {
	if rf.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", rf.NEstimators)
	}
	switch rf.MaxFeatures {
	case MaxFeaturesSqrt, MaxFeaturesLog2, MaxFeaturesAll:
	default:
		return errors.NewValidationError("max_features", "must be sqrt, log2 or all", rf.MaxFeatures)
	}
	// 木のパラメータは木側で検証する
	return rf.newTree(0).SetParams(map[string]interface{}{})
}

func (rf *RandomForestClassifier) featuresPerSplit(nFeatures int) int {
	var k int
	switch rf.MaxFeatures {
	case MaxFeaturesSqrt:
		k = int(math.Sqrt(float64(nFeatures)))
	case MaxFeaturesLog2:
		k = int(math.Log2(float64(nFeatures)))
	default:
		return 0
	}
	if k < 1 {
		k = 1
	}
	return k
}

func (rf *RandomForestClassifier) newTree(seed int64) *tree.DecisionTreeClassifier {
	return tree.NewDecisionTreeClassifier(
		tree.WithCriterion(rf.Criterion),
		tree.WithMaxDepth(rf.MaxDepth),
		tree.WithMinSamplesSplit(rf.MinSamplesSplit),
		tree.WithMinSamplesLeaf(rf.MinSamplesLeaf),
		tree.WithRandomState(seed),
	)
}

// Fit grows NEstimators trees. Sampling depends only on RandomState, so
// the fitted forest does not depend on NJobs.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	if err := rf.validate(); err != nil {
		return err
	}
	n, d := X.Dims()
	if n == 0 || d == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	codes, _, err := tree.ClassLabels("RandomForestClassifier.Fit", y, n)
	if err != nil {
		return err
	}
	if rf.State == nil {
		rf.State = model.NewStateManager()
	}

	// 乱数はすべて逐次に引いてから並列に学習する
	rng := rand.New(rand.NewSource(rf.RandomState))
	samples := make([][]int, rf.NEstimators)
	seeds := make([]int64, rf.NEstimators)
	for t := range samples {
		seeds[t] = rng.Int63()
		samples[t] = make([]int, n)
		for i := range samples[t] {
			if rf.Bootstrap {
				samples[t][i] = rng.Intn(n)
			} else {
				samples[t][i] = i
			}
		}
	}

	Xd := mat.DenseCopyOf(X)
	k := rf.featuresPerSplit(d)
	trees := make([]*tree.DecisionTreeClassifier, rf.NEstimators)
	err = parallel.ForEach(rf.NEstimators, rf.NJobs, func(t int) error {
		Xb := mat.NewDense(n, d, nil)
		yb := mat.NewDense(n, 1, nil)
		for i, row := range samples[t] {
			Xb.SetRow(i, Xd.RawRowView(row))
			yb.Set(i, 0, y.At(row, 0))
		}
		dt := rf.newTree(seeds[t])
		dt.MaxFeatures = k
		if err := dt.Fit(Xb, yb); err != nil {
			return errors.Wrapf(err, "tree %d", t)
		}
		trees[t] = dt
		return nil
	})
	if err != nil {
		return err
	}

	rf.Trees = trees
	rf.ClassCodes = codes
	rf.FeatureImportances = make([]float64, d)
	for _, dt := range trees {
		for j, v := range dt.FeatureImportances {
			rf.FeatureImportances[j] += v / float64(len(trees))
		}
	}
	rf.State.SetDimensions(d, n)
	rf.State.SetFitted()
	return nil
}

// PredictProba averages tree probabilities (n_samples × n_classes). A
// tree that never saw a class contributes zero for it.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.State.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	if err := rf.State.CheckFeatures("RandomForestClassifier.PredictProba", X); err != nil {
		return nil, err
	}
	column := make(map[int]int, len(rf.ClassCodes))
	for j, c := range rf.ClassCodes {
		column[c] = j
	}

	probas := make([]mat.Matrix, len(rf.Trees))
	err := parallel.ForEach(len(rf.Trees), rf.NJobs, func(t int) error {
		p, err := rf.Trees[t].PredictProba(X)
		probas[t] = p
		return err
	})
	if err != nil {
		return nil, err
	}

	// 木の順に足すので結果はスケジューリングに依存しない
	n, _ := X.Dims()
	out := mat.NewDense(n, len(rf.ClassCodes), nil)
	w := 1 / float64(len(rf.Trees))
	parallel.Rows(n, minParallelRows, func(start, end int) {
		for t, dt := range rf.Trees {
			for k, code := range dt.ClassCodes {
				j := column[code]
				for i := start; i < end; i++ {
					out.Set(i, j, out.At(i, j)+w*probas[t].At(i, k))
				}
			}
		}
	})
	return out, nil
}

// Predict returns the class with the highest averaged probability.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxClasses(proba, rf.ClassCodes), nil
}

// GetParams implements model.ParameterGetter.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.NEstimators,
		"criterion":         rf.Criterion,
		"max_depth":         rf.MaxDepth,
		"min_samples_split": rf.MinSamplesSplit,
		"min_samples_leaf":  rf.MinSamplesLeaf,
		"max_features":      rf.MaxFeatures,
		"bootstrap":         rf.Bootstrap,
		"random_state":      rf.RandomState,
		"n_jobs":            rf.NJobs,
	}
}

// SetParams implements model.ParameterSetter.
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "n_estimators":
			rf.NEstimators, err = model.ParamInt(k, v)
		case "criterion":
			rf.Criterion, err = model.ParamString(k, v)
		case "max_depth":
			rf.MaxDepth, err = model.ParamInt(k, v)
		case "min_samples_split":
			rf.MinSamplesSplit, err = model.ParamInt(k, v)
		case "min_samples_leaf":
			rf.MinSamplesLeaf, err = model.ParamInt(k, v)
		case "max_features":
			rf.MaxFeatures, err = model.ParamString(k, v)
		case "bootstrap":
			rf.Bootstrap, err = model.ParamBool(k, v)
		case "random_state":
			var seed int
			seed, err = model.ParamInt(k, v)
			rf.RandomState = int64(seed)
		case "n_jobs":
			rf.NJobs, err = model.ParamInt(k, v)
		default:
			err = model.UnknownParam("RandomForestClassifier", k, v)
		}
		if err != nil {
			return err
		}
	}
	return rf.validate()
}

// Clone implements model.Classifier.
func (rf *RandomForestClassifier) Clone() model.Classifier {
	c := *rf
	c.Trees, c.ClassCodes, c.FeatureImportances = nil, nil, nil
	c.State = model.NewStateManager()
	return &c
}

// String returns a short description.
func (rf *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, max_depth=%d, max_features=%s)",
		rf.NEstimators, rf.MaxDepth, rf.MaxFeatures)
}
