// Package tree implements a CART decision tree classifier.
//
// The fitted tree is stored as a flat slice of nodes with exported fields so
// that it can be gob-encoded as part of a model bundle, alone or inside a
// random forest.
package tree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

var _ model.Classifier = (*DecisionTreeClassifier)(nil)

// Split criteria.
const (
	CriterionGini    = "gini"
	CriterionEntropy = "entropy"
)

// Node is one node of a fitted tree. Feature is -1 for leaves.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Value holds the class distribution of the training samples that
	// reached the node, in the order of Classes().
	Value    []float64
	Impurity float64
	NSamples int
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

// DecisionTreeClassifier is a CART classifier with binary splits on
// thresholds. Samples with x[feature] <= threshold go left.
type DecisionTreeClassifier struct {
	// Hyperparameters
	Criterion       string
	MaxDepth        int // <= 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // features tried per split, <= 0 means all
	RandomState     int64

	// Fitted state
	Nodes              []Node
	ClassCodes         []int
	NClasses           int
	FeatureImportances []float64
	State              *model.StateManager
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// WithCriterion sets the impurity measure ("gini" or "entropy").
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) { dt.Criterion = criterion }
}

// WithMaxDepth limits the depth of the tree.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MaxDepth = depth }
}

// WithMinSamplesSplit sets the minimum samples required to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum samples required in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesLeaf = n }
}

// WithMaxFeatures sets how many randomly chosen features are tried per split.
func WithMaxFeatures(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MaxFeatures = n }
}

// WithRandomState seeds the feature sampling.
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) { dt.RandomState = seed }
}

// NewDecisionTreeClassifier creates a classifier with sklearn defaults:
// gini, unlimited depth, min_samples_split=2, min_samples_leaf=1.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		Criterion:       CriterionGini,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		State:           model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// IsFitted implements model.Estimator.
func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.State.IsFitted() }

// Classes implements model.Classifier.
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.ClassCodes...)
}

func (dt *DecisionTreeClassifier) validate() error {
	if dt.Criterion != CriterionGini && dt.Criterion != CriterionEntropy {
		return errors.NewValidationError("criterion", "must be gini or entropy", dt.Criterion)
	}
	if dt.MinSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.MinSamplesSplit)
	}
	if dt.MinSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.MinSamplesLeaf)
	}
	return nil
}

// ClassLabels extracts integer class codes from a column vector y and
// returns the sorted distinct codes with the per-sample class index.
func ClassLabels(op string, y mat.Matrix, nSamples int) (codes []int, index []int, err error) {
	r, c := y.Dims()
	if r != nSamples {
		return nil, nil, errors.NewDimensionError(op, nSamples, r, 0)
	}
	if c != 1 {
		return nil, nil, errors.NewDimensionError(op, 1, c, 1)
	}

	raw := make([]int, r)
	seen := make(map[int]bool)
	for i := 0; i < r; i++ {
		v := y.At(i, 0)
		if v < 0 || v != math.Trunc(v) {
			return nil, nil, errors.NewValidationError("y", "class labels must be non-negative integer codes", v)
		}
		raw[i] = int(v)
		if !seen[raw[i]] {
			seen[raw[i]] = true
			codes = append(codes, raw[i])
		}
	}
	sort.Ints(codes)

	pos := make(map[int]int, len(codes))
	for i, code := range codes {
		pos[code] = i
	}
	index = make([]int, r)
	for i, code := range raw {
		index[i] = pos[code]
	}
	return codes, index, nil
}

// Fit builds the tree from X (n_samples × n_features) and y (n_samples × 1).
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	if err := dt.validate(); err != nil {
		return err
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	codes, yIdx, err := ClassLabels("DecisionTreeClassifier.Fit", y, r)
	if err != nil {
		return err
	}
	if dt.State == nil {
		dt.State = model.NewStateManager()
	}

	b := &builder{
		dt:          dt,
		X:           mat.DenseCopyOf(X),
		y:           yIdx,
		nClasses:    len(codes),
		nFeatures:   c,
		importances: make([]float64, c),
		rng:         rand.New(rand.NewSource(dt.RandomState)),
	}

	indices := make([]int, r)
	for i := range indices {
		indices[i] = i
	}

	dt.Nodes = dt.Nodes[:0]
	dt.ClassCodes = codes
	dt.NClasses = len(codes)
	b.build(indices, 0)

	var total float64
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for i := range b.importances {
			b.importances[i] /= total
		}
	}
	dt.FeatureImportances = b.importances

	dt.State.SetDimensions(c, r)
	dt.State.SetFitted()
	return nil
}

type builder struct {
	dt          *DecisionTreeClassifier
	X           *mat.Dense
	y           []int
	nClasses    int
	nFeatures   int
	importances []float64
	rng         *rand.Rand
}

type split struct {
	feature   int
	threshold float64
	impurity  float64 // weighted impurity of the children
	found     bool
}

func (b *builder) counts(indices []int) []float64 {
	counts := make([]float64, b.nClasses)
	for _, i := range indices {
		counts[b.y[i]]++
	}
	return counts
}

func (b *builder) impurity(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	var imp float64
	switch b.dt.Criterion {
	case CriterionEntropy:
		for _, c := range counts {
			if c > 0 {
				p := c / n
				imp -= p * math.Log2(p)
			}
		}
	default:
		imp = 1
		for _, c := range counts {
			p := c / n
			imp -= p * p
		}
	}
	return imp
}

// build appends the subtree for indices and returns its node index.
func (b *builder) build(indices []int, depth int) int {
	dt := b.dt
	n := len(indices)
	counts := b.counts(indices)
	imp := b.impurity(counts, float64(n))

	value := make([]float64, b.nClasses)
	for k, c := range counts {
		value[k] = c / float64(n)
	}

	id := len(dt.Nodes)
	dt.Nodes = append(dt.Nodes, Node{Feature: -1, Left: -1, Right: -1, Value: value, Impurity: imp, NSamples: n})

	if imp <= 1e-12 ||
		(dt.MaxDepth > 0 && depth >= dt.MaxDepth) ||
		n < dt.MinSamplesSplit ||
		n < 2*dt.MinSamplesLeaf {
		return id
	}

	best := b.bestSplit(indices)
	if !best.found {
		return id
	}

	var left, right []int
	for _, i := range indices {
		if b.X.At(i, best.feature) <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.importances[best.feature] += float64(n)*imp - float64(n)*best.impurity

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	dt.Nodes[id].Feature = best.feature
	dt.Nodes[id].Threshold = best.threshold
	dt.Nodes[id].Left = l
	dt.Nodes[id].Right = r
	return id
}

func (b *builder) candidateFeatures() (first, rest []int) {
	k := b.dt.MaxFeatures
	if k <= 0 || k >= b.nFeatures {
		all := make([]int, b.nFeatures)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	perm := b.rng.Perm(b.nFeatures)
	return perm[:k], perm[k:]
}

func (b *builder) bestSplit(indices []int) split {
	first, rest := b.candidateFeatures()
	best := split{impurity: math.Inf(1)}
	for _, f := range first {
		b.evaluate(indices, f, &best)
	}
	// 抽出した特徴量で分割できない場合は残りも試す
	for _, f := range rest {
		if best.found {
			break
		}
		b.evaluate(indices, f, &best)
	}
	return best
}

func (b *builder) evaluate(indices []int, feature int, best *split) {
	n := len(indices)
	sorted := append([]int(nil), indices...)
	sort.SliceStable(sorted, func(a, c int) bool {
		return b.X.At(sorted[a], feature) < b.X.At(sorted[c], feature)
	})

	total := b.counts(indices)
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)
	minLeaf := b.dt.MinSamplesLeaf

	for k := 0; k < n-1; k++ {
		left[b.y[sorted[k]]]++
		v, next := b.X.At(sorted[k], feature), b.X.At(sorted[k+1], feature)
		if v == next {
			continue
		}
		nl, nr := k+1, n-k-1
		if nl < minLeaf || nr < minLeaf {
			continue
		}
		for c := range right {
			right[c] = total[c] - left[c]
		}
		weighted := (float64(nl)*b.impurity(left, float64(nl)) + float64(nr)*b.impurity(right, float64(nr))) / float64(n)
		if weighted < best.impurity-1e-12 {
			*best = split{
				feature:   feature,
				threshold: (v + next) / 2,
				impurity:  weighted,
				found:     true,
			}
		}
	}
}

func (dt *DecisionTreeClassifier) leaf(x []float64) *Node {
	id := 0
	for {
		node := &dt.Nodes[id]
		if node.IsLeaf() {
			return node
		}
		if x[node.Feature] <= node.Threshold {
			id = node.Left
		} else {
			id = node.Right
		}
	}
}

// PredictProba returns the class distribution of the leaf reached by each
// sample (n_samples × n_classes).
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.State.RequireFitted("DecisionTreeClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	if err := dt.State.CheckFeatures("DecisionTreeClassifier.PredictProba", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	out := mat.NewDense(r, dt.NClasses, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.SetRow(i, dt.leaf(row).Value)
	}
	return out, nil
}

// Predict returns the most probable class code of each sample (n_samples × 1).
// Ties go to the smaller class code.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return ArgmaxClasses(proba, dt.ClassCodes), nil
}

// ArgmaxClasses maps each row of proba to the class code with the highest
// probability. Ties go to the first column.
func ArgmaxClasses(proba mat.Matrix, codes []int) *mat.Dense {
	r, c := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(codes[best]))
	}
	return out
}

// Score returns the accuracy on (X, y), or 0 if prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	r, _ := pred.Dims()
	if yr, _ := y.Dims(); yr != r || r == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < r; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(r)
}

// GetFeatureImportances returns the normalized total impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.FeatureImportances...)
}

// GetDepth returns the depth of the fitted tree (a single leaf has depth 0).
func (dt *DecisionTreeClassifier) GetDepth() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	var depth func(id int) int
	depth = func(id int) int {
		n := dt.Nodes[id]
		if n.IsLeaf() {
			return 0
		}
		l, r := depth(n.Left), depth(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return depth(0)
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	n := 0
	for i := range dt.Nodes {
		if dt.Nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}

// GetParams implements model.ParameterGetter.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.Criterion,
		"max_depth":         dt.MaxDepth,
		"min_samples_split": dt.MinSamplesSplit,
		"min_samples_leaf":  dt.MinSamplesLeaf,
		"max_features":      dt.MaxFeatures,
		"random_state":      dt.RandomState,
	}
}

// SetParams implements model.ParameterSetter.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "criterion":
			dt.Criterion, err = model.ParamString(k, v)
		case "max_depth":
			dt.MaxDepth, err = model.ParamInt(k, v)
		case "min_samples_split":
			dt.MinSamplesSplit, err = model.ParamInt(k, v)
		case "min_samples_leaf":
			dt.MinSamplesLeaf, err = model.ParamInt(k, v)
		case "max_features":
			dt.MaxFeatures, err = model.ParamInt(k, v)
		case "random_state":
			var seed int
			seed, err = model.ParamInt(k, v)
			dt.RandomState = int64(seed)
		default:
			err = model.UnknownParam("DecisionTreeClassifier", k, v)
		}
		if err != nil {
			return err
		}
	}
	return dt.validate()
}

// Clone implements model.Classifier.
func (dt *DecisionTreeClassifier) Clone() model.Classifier {
	return NewDecisionTreeClassifier(
		WithCriterion(dt.Criterion),
		WithMaxDepth(dt.MaxDepth),
		WithMinSamplesSplit(dt.MinSamplesSplit),
		WithMinSamplesLeaf(dt.MinSamplesLeaf),
		WithMaxFeatures(dt.MaxFeatures),
		WithRandomState(dt.RandomState),
	)
}

// String returns a short description.
func (dt *DecisionTreeClassifier) String() string {
	if !dt.IsFitted() {
		return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d)", dt.Criterion, dt.MaxDepth)
	}
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d, depth=%d, leaves=%d)",
		dt.Criterion, dt.MaxDepth, dt.GetDepth(), dt.GetNLeaves())
}
