package ensemble

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/sklearn/tree"
)

var _ model.Classifier = (*GradientBoostingClassifier)(nil)

// GradientBoostingClassifier fits an additive model of regression trees to
// the binary log loss. Each tree is grown on the gradients and hessians of
// the current raw scores, and its leaves hold Newton steps -G/(H+λ).
type GradientBoostingClassifier struct {
	// Hyperparameters
	NEstimators     int
	LearningRate    float64
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Subsample       float64
	RegLambda       float64
	MinGainToSplit  float64
	RandomState     int64

	// Fitted state
	InitScore          float64
	Trees              []RegressionTree
	ClassCodes         []int
	FeatureImportances []float64
	TrainLoss          []float64
	State              *model.StateManager
}

// BoostingOption configures a GradientBoostingClassifier.
type BoostingOption func(*GradientBoostingClassifier)

// WithBoostingEstimators sets the number of boosting stages.
func WithBoostingEstimators(n int) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.NEstimators = n }
}

// WithLearningRate sets the shrinkage applied to each tree.
func WithLearningRate(lr float64) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.LearningRate = lr }
}

// WithBoostingMaxDepth sets the depth of each tree.
func WithBoostingMaxDepth(d int) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.MaxDepth = d }
}

// WithBoostingMinSamplesLeaf sets the minimum samples per leaf.
func WithBoostingMinSamplesLeaf(n int) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.MinSamplesLeaf = n }
}

// WithSubsample sets the fraction of rows drawn for each stage.
func WithSubsample(f float64) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.Subsample = f }
}

// WithRegLambda sets the L2 regularization on leaf values.
func WithRegLambda(l float64) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.RegLambda = l }
}

// WithBoostingRandomState seeds row subsampling.
func WithBoostingRandomState(seed int64) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.RandomState = seed }
}

// NewGradientBoostingClassifier creates a classifier with sklearn defaults
// (100 stages, learning_rate 0.1, max_depth 3, no subsampling).
func NewGradientBoostingClassifier(opts ...BoostingOption) *GradientBoostingClassifier {
	gb := &GradientBoostingClassifier{
		NEstimators:     100,
		LearningRate:    0.1,
		MaxDepth:        3,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Subsample:       1.0,
		State:           model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(gb)
	}
	return gb
}

// IsFitted implements model.Estimator.
func (gb *GradientBoostingClassifier) IsFitted() bool { return gb.State.IsFitted() }

// Classes implements model.Classifier.
func (gb *GradientBoostingClassifier) Classes() []int { return append([]int(nil), gb.ClassCodes...) }

func (gb *GradientBoostingClassifier) validate() error {
	switch {
	case gb.NEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be >= 1", gb.NEstimators)
	case gb.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be > 0", gb.LearningRate)
	case gb.MaxDepth < 1:
		return errors.NewValidationError("max_depth", "must be >= 1", gb.MaxDepth)
	case gb.MinSamplesSplit < 2:
		return errors.NewValidationError("min_samples_split", "must be >= 2", gb.MinSamplesSplit)
	case gb.MinSamplesLeaf < 1:
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", gb.MinSamplesLeaf)
	case gb.Subsample <= 0 || gb.Subsample > 1:
		return errors.NewValidationError("subsample", "must be in (0, 1]", gb.Subsample)
	case gb.RegLambda < 0:
		return errors.NewValidationError("reg_lambda", "must be >= 0", gb.RegLambda)
	case gb.MinGainToSplit < 0:
		return errors.NewValidationError("min_gain_to_split", "must be >= 0", gb.MinGainToSplit)
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// Fit runs NEstimators boosting stages. y must contain exactly two class
// codes; the larger one is the positive class.
func (gb *GradientBoostingClassifier) Fit(X, y mat.Matrix) error {
	if err := gb.validate(); err != nil {
		return err
	}
	n, d := X.Dims()
	if n == 0 || d == 0 {
		return errors.NewModelError("GradientBoostingClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	codes, index, err := tree.ClassLabels("GradientBoostingClassifier.Fit", y, n)
	if err != nil {
		return err
	}
	if len(codes) != 2 {
		return errors.NewValueError("GradientBoostingClassifier.Fit",
			fmt.Sprintf("binary classification only, got %d classes", len(codes)))
	}
	if gb.State == nil {
		gb.State = model.NewStateManager()
	}

	Xd := mat.DenseCopyOf(X)
	target := make([]float64, n)
	var pos float64
	for i, c := range index {
		target[i] = float64(c)
		pos += target[i]
	}
	// 初期スコアは事前確率の対数オッズ
	prior := pos / float64(n)
	gb.InitScore = math.Log(prior / (1 - prior))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = gb.InitScore
	}
	grad := make([]float64, n)
	hess := make([]float64, n)

	rng := rand.New(rand.NewSource(gb.RandomState))
	builder := &regressionBuilder{
		X:          Xd,
		grad:       grad,
		hess:       hess,
		maxDepth:   gb.MaxDepth,
		minSplit:   gb.MinSamplesSplit,
		minLeaf:    gb.MinSamplesLeaf,
		lambda:     gb.RegLambda,
		minGain:    gb.MinGainToSplit,
		importance: make([]float64, d),
	}

	gb.Trees = make([]RegressionTree, 0, gb.NEstimators)
	gb.TrainLoss = make([]float64, 0, gb.NEstimators)
	for stage := 0; stage < gb.NEstimators; stage++ {
		for i := range raw {
			p := sigmoid(raw[i])
			grad[i] = p - target[i]
			hess[i] = p * (1 - p)
		}

		rows := gb.sampleRows(n, rng)
		t := builder.build(rows)
		for i := range t.Nodes {
			if t.Nodes[i].IsLeaf() {
				t.Nodes[i].Value[0] *= gb.LearningRate
			}
		}
		gb.Trees = append(gb.Trees, t)

		var loss float64
		for i := range raw {
			raw[i] += t.predict(Xd.RawRowView(i))
			p := math.Min(math.Max(sigmoid(raw[i]), 1e-15), 1-1e-15)
			loss -= target[i]*math.Log(p) + (1-target[i])*math.Log(1-p)
		}
		gb.TrainLoss = append(gb.TrainLoss, loss/float64(n))
	}

	gb.FeatureImportances = builder.importance
	var total float64
	for _, v := range gb.FeatureImportances {
		total += v
	}
	if total > 0 {
		for j := range gb.FeatureImportances {
			gb.FeatureImportances[j] /= total
		}
	}

	gb.ClassCodes = codes
	gb.State.SetDimensions(d, n)
	gb.State.SetFitted()
	return nil
}

func (gb *GradientBoostingClassifier) sampleRows(n int, rng *rand.Rand) []int {
	if gb.Subsample >= 1 {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	k := int(math.Ceil(gb.Subsample * float64(n)))
	rows := rng.Perm(n)[:k]
	sort.Ints(rows)
	return rows
}

// DecisionFunction returns the raw log-odds of the positive class (n × 1).
func (gb *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := gb.State.RequireFitted("GradientBoostingClassifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	if err := gb.State.CheckFeatures("GradientBoostingClassifier.DecisionFunction", X); err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		row := mat.Row(nil, i, X)
		f := gb.InitScore
		for k := range gb.Trees {
			f += gb.Trees[k].predict(row)
		}
		out.Set(i, 0, f)
	}
	return out, nil
}

// PredictProba returns [P(Classes()[0]), P(Classes()[1])] per sample.
func (gb *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	raw, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := raw.Dims()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		p := sigmoid(raw.At(i, 0))
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// Predict returns Classes()[1] when its probability exceeds 0.5.
func (gb *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := gb.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxClasses(proba, gb.ClassCodes), nil
}

// GetParams implements model.ParameterGetter.
func (gb *GradientBoostingClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      gb.NEstimators,
		"learning_rate":     gb.LearningRate,
		"max_depth":         gb.MaxDepth,
		"min_samples_split": gb.MinSamplesSplit,
		"min_samples_leaf":  gb.MinSamplesLeaf,
		"subsample":         gb.Subsample,
		"reg_lambda":        gb.RegLambda,
		"min_gain_to_split": gb.MinGainToSplit,
		"random_state":      gb.RandomState,
	}
}

// SetParams implements model.ParameterSetter.
func (gb *GradientBoostingClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "n_estimators":
			gb.NEstimators, err = model.ParamInt(k, v)
		case "learning_rate":
			gb.LearningRate, err = model.ParamFloat(k, v)
		case "max_depth":
			gb.MaxDepth, err = model.ParamInt(k, v)
		case "min_samples_split":
			gb.MinSamplesSplit, err = model.ParamInt(k, v)
		case "min_samples_leaf":
			gb.MinSamplesLeaf, err = model.ParamInt(k, v)
		case "subsample":
			gb.Subsample, err = model.ParamFloat(k, v)
		case "reg_lambda":
			gb.RegLambda, err = model.ParamFloat(k, v)
		case "min_gain_to_split":
			gb.MinGainToSplit, err = model.ParamFloat(k, v)
		case "random_state":
			var seed int
			seed, err = model.ParamInt(k, v)
			gb.RandomState = int64(seed)
		default:
			err = model.UnknownParam("GradientBoostingClassifier", k, v)
		}
		if err != nil {
			return err
		}
	}
	return gb.validate()
}

// Clone implements model.Classifier.
func (gb *GradientBoostingClassifier) Clone() model.Classifier {
	c := *gb
	c.Trees, c.ClassCodes, c.FeatureImportances, c.TrainLoss = nil, nil, nil, nil
	c.InitScore = 0
	c.State = model.NewStateManager()
	return &c
}
