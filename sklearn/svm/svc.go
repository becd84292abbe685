// Package svm implements a binary C-support vector classifier.
//
// The dual problem is solved with SMO using maximal-violating-pair working
// set selection. Class probabilities come from a logistic model fitted on
// cross-validated decision values (Platt scaling).
package svm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/core/parallel"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/sklearn/linear_model"
	"github.com/YuminosukeSato/strokeguard/sklearn/tree"
)

var _ model.Classifier = (*SVC)(nil)

// Kernels.
const (
	KernelRBF     = "rbf"
	KernelLinear  = "linear"
	KernelPoly    = "poly"
	KernelSigmoid = "sigmoid"
)

// Gamma modes.
const (
	GammaScale = "scale" // 1 / (n_features * X.var())
	GammaAuto  = "auto"  // 1 / n_features
)

const (
	tau          = 1e-12
	plattFolds   = 5
	cacheRowsMax = 512

	// 行あたりのカーネル評価が重いので小さめに分割する
	minParallelRows = 64
)

// SVC is a C-support vector classifier for two classes.
type SVC struct {
	// Hyperparameters
	C           float64
	Kernel      string
	Gamma       float64 // used when GammaMode is ""
	GammaMode   string
	Degree      int
	Coef0       float64
	Tol         float64
	MaxIter     int // <= 0 means max(100000, 100*n_samples)
	Probability bool

	// Fitted state
	SupportVectors [][]float64
	DualCoef       []float64 // y_i * alpha_i for each support vector
	Rho            float64
	GammaValue     float64
	ClassCodes     []int
	NIter          int
	Calibrator     *linear_model.LogisticRegression
	State          *model.StateManager
}

// Option configures an SVC.
type Option func(*SVC)

// WithC sets the penalty parameter.
func WithC(c float64) Option { return func(s *SVC) { s.C = c } }

// WithKernel sets the kernel.
func WithKernel(kernel string) Option { return func(s *SVC) { s.Kernel = kernel } }

// WithGamma sets an explicit kernel coefficient.
func WithGamma(gamma float64) Option {
	return func(s *SVC) {
		s.Gamma = gamma
		s.GammaMode = ""
	}
}

// WithGammaMode selects "scale" or "auto".
func WithGammaMode(mode string) Option { return func(s *SVC) { s.GammaMode = mode } }

// WithDegree sets the polynomial degree.
func WithDegree(d int) Option { return func(s *SVC) { s.Degree = d } }

// WithCoef0 sets the independent term of the poly and sigmoid kernels.
func WithCoef0(c float64) Option { return func(s *SVC) { s.Coef0 = c } }

// WithTol sets the stopping tolerance on the KKT violation.
func WithTol(tol float64) Option { return func(s *SVC) { s.Tol = tol } }

// WithMaxIter bounds the number of SMO iterations.
func WithMaxIter(n int) Option { return func(s *SVC) { s.MaxIter = n } }

// WithProbability enables Platt scaling during Fit.
func WithProbability(p bool) Option { return func(s *SVC) { s.Probability = p } }

// NewSVC creates an SVC with sklearn defaults (C=1, rbf, gamma=scale,
// degree=3, tol=1e-3) and probability estimates enabled.
func NewSVC(opts ...Option) *SVC {
	s := &SVC{
		C:           1.0,
		Kernel:      KernelRBF,
		GammaMode:   GammaScale,
		Degree:      3,
		Tol:         1e-3,
		Probability: true,
		State:       model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsFitted implements model.Estimator.
func (s *SVC) IsFitted() bool { return s.State.IsFitted() }

// Classes implements model.Classifier.
func (s *SVC) Classes() []int { return append([]int(nil), s.ClassCodes...) }

func (s *SVC) validate() error {
	if s.C <= 0 {
		return errors.NewValidationError("C", "must be > 0", s.C)
	}
	switch s.Kernel {
	case KernelRBF, KernelLinear, KernelPoly, KernelSigmoid:
	default:
		return errors.NewValidationError("kernel", "must be one of rbf, linear, poly, sigmoid", s.Kernel)
	}
	switch s.GammaMode {
	case GammaScale, GammaAuto:
	case "":
		if s.Gamma <= 0 {
			return errors.NewValidationError("gamma", "must be > 0", s.Gamma)
		}
	default:
		return errors.NewValidationError("gamma", "must be scale, auto or a positive number", s.GammaMode)
	}
	if s.Degree < 1 {
		return errors.NewValidationError("degree", "must be >= 1", s.Degree)
	}
	if s.Tol <= 0 {
		return errors.NewValidationError("tol", "must be > 0", s.Tol)
	}
	return nil
}

func (s *SVC) gamma(X *mat.Dense) float64 {
	_, d := X.Dims()
	switch s.GammaMode {
	case GammaAuto:
		return 1 / float64(d)
	case GammaScale:
		r, _ := X.Dims()
		all := make([]float64, 0, r*d)
		for i := 0; i < r; i++ {
			all = append(all, X.RawRowView(i)...)
		}
		if v := stat.PopVariance(all, nil); v > 0 {
			return 1 / (float64(d) * v)
		}
		return 1
	}
	return s.Gamma
}

func (s *SVC) kernel(a, b []float64) float64 {
	switch s.Kernel {
	case KernelLinear:
		return dot(a, b)
	case KernelPoly:
		return math.Pow(s.GammaValue*dot(a, b)+s.Coef0, float64(s.Degree))
	case KernelSigmoid:
		return math.Tanh(s.GammaValue*dot(a, b) + s.Coef0)
	}
	var d2 float64
	for i := range a {
		diff := a[i] - b[i]
		d2 += diff * diff
	}
	return math.Exp(-s.GammaValue * d2)
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Fit trains the classifier. y must contain exactly two class codes.
func (s *SVC) Fit(X, y mat.Matrix) error {
	if err := s.validate(); err != nil {
		return err
	}
	n, d := X.Dims()
	if n == 0 || d == 0 {
		return errors.NewModelError("SVC.Fit", "empty data", errors.ErrEmptyData)
	}
	codes, index, err := tree.ClassLabels("SVC.Fit", y, n)
	if err != nil {
		return err
	}
	if len(codes) != 2 {
		return errors.NewValueError("SVC.Fit", fmt.Sprintf("binary classification only, got %d classes", len(codes)))
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}

	Xd := mat.DenseCopyOf(X)
	rows := make([][]float64, n)
	labels := make([]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = Xd.RawRowView(i)
		labels[i] = -1
		if index[i] == 1 {
			labels[i] = 1
		}
	}

	s.ClassCodes = codes
	s.GammaValue = s.gamma(Xd)
	s.Calibrator = nil

	sol := s.solve(rows, labels)
	s.SupportVectors, s.DualCoef, s.Rho, s.NIter = sol.sv, sol.coef, sol.rho, sol.iter
	s.State.SetDimensions(d, n)

	if s.Probability {
		if err := s.calibrate(rows, labels); err != nil {
			return err
		}
	}
	s.State.SetFitted()
	return nil
}

type solution struct {
	sv   [][]float64
	coef []float64
	rho  float64
	iter int
}

// kernelCache keeps recently used rows of the Gram matrix.
type kernelCache struct {
	s     *SVC
	rows  [][]float64
	cache map[int][]float64
	order []int
}

func (c *kernelCache) row(i int) []float64 {
	if r, ok := c.cache[i]; ok {
		return r
	}
	r := make([]float64, len(c.rows))
	for j := range c.rows {
		r[j] = c.s.kernel(c.rows[i], c.rows[j])
	}
	if len(c.order) >= cacheRowsMax {
		delete(c.cache, c.order[0])
		c.order = c.order[1:]
	}
	c.cache[i] = r
	c.order = append(c.order, i)
	return r
}

// solve runs SMO on the dual problem
//
//	min 0.5 aᵀQa - eᵀa  s.t. 0 <= a_i <= C, yᵀa = 0, Q_ij = y_i y_j K(x_i, x_j)
func (s *SVC) solve(rows [][]float64, y []float64) solution {
	n := len(rows)
	alpha := make([]float64, n)
	grad := make([]float64, n)
	diag := make([]float64, n)
	for i := range grad {
		grad[i] = -1
		diag[i] = s.kernel(rows[i], rows[i])
	}
	cache := &kernelCache{s: s, rows: rows, cache: make(map[int][]float64)}
	C := s.C

	maxIter := s.MaxIter
	if maxIter <= 0 {
		maxIter = 100 * n
		if maxIter < 100000 {
			maxIter = 100000
		}
	}

	iter := 0
	for ; iter < maxIter; iter++ {
		// 最大違反ペアの選択
		i, j := -1, -1
		gmax, gmin := math.Inf(-1), math.Inf(1)
		for t := 0; t < n; t++ {
			v := -y[t] * grad[t]
			up := (y[t] > 0 && alpha[t] < C) || (y[t] < 0 && alpha[t] > 0)
			low := (y[t] > 0 && alpha[t] > 0) || (y[t] < 0 && alpha[t] < C)
			if up && v > gmax {
				gmax, i = v, t
			}
			if low && v < gmin {
				gmin, j = v, t
			}
		}
		if i < 0 || j < 0 || gmax-gmin < s.Tol {
			break
		}

		Ki, Kj := cache.row(i), cache.row(j)
		oldI, oldJ := alpha[i], alpha[j]
		if y[i] != y[j] {
			quad := diag[i] + diag[j] - 2*Ki[j]
			if quad <= 0 {
				quad = tau
			}
			delta := (-grad[i] - grad[j]) / quad
			diff := alpha[i] - alpha[j]
			alpha[i] += delta
			alpha[j] += delta
			if diff > 0 {
				if alpha[j] < 0 {
					alpha[j], alpha[i] = 0, diff
				}
				if alpha[i] > C {
					alpha[i], alpha[j] = C, C-diff
				}
			} else {
				if alpha[i] < 0 {
					alpha[i], alpha[j] = 0, -diff
				}
				if alpha[j] > C {
					alpha[j], alpha[i] = C, C+diff
				}
			}
		} else {
			quad := diag[i] + diag[j] - 2*Ki[j]
			if quad <= 0 {
				quad = tau
			}
			delta := (grad[i] - grad[j]) / quad
			sum := alpha[i] + alpha[j]
			alpha[i] -= delta
			alpha[j] += delta
			if sum > C {
				if alpha[i] > C {
					alpha[i], alpha[j] = C, sum-C
				}
				if alpha[j] > C {
					alpha[j], alpha[i] = C, sum-C
				}
			} else {
				if alpha[j] < 0 {
					alpha[j], alpha[i] = 0, sum
				}
				if alpha[i] < 0 {
					alpha[i], alpha[j] = 0, sum
				}
			}
		}

		dI, dJ := alpha[i]-oldI, alpha[j]-oldJ
		for t := 0; t < n; t++ {
			grad[t] += y[t] * (y[i]*Ki[t]*dI + y[j]*Kj[t]*dJ)
		}
	}

	// バイアス: 自由なサポートベクタの平均、無ければ上下界の中点
	var freeSum float64
	nFree := 0
	ub, lb := math.Inf(1), math.Inf(-1)
	for t := 0; t < n; t++ {
		yg := y[t] * grad[t]
		switch {
		case alpha[t] >= C:
			if y[t] < 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		case alpha[t] <= 0:
			if y[t] > 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		default:
			freeSum += yg
			nFree++
		}
	}
	sol := solution{iter: iter}
	switch {
	case nFree > 0:
		sol.rho = freeSum / float64(nFree)
	case !math.IsInf(ub, 0) && !math.IsInf(lb, 0):
		sol.rho = (ub + lb) / 2
	case !math.IsInf(ub, 0):
		sol.rho = ub
	case !math.IsInf(lb, 0):
		sol.rho = lb
	}

	for t := 0; t < n; t++ {
		if alpha[t] > 0 {
			sol.sv = append(sol.sv, append([]float64(nil), rows[t]...))
			sol.coef = append(sol.coef, y[t]*alpha[t])
		}
	}
	return sol
}

func (s *SVC) decision(sol solution, x []float64) float64 {
	f := -sol.rho
	for k, sv := range sol.sv {
		f += sol.coef[k] * s.kernel(sv, x)
	}
	return f
}

// calibrate fits the Platt sigmoid on out-of-fold decision values. Folds
// are assigned round-robin within each class; when a class is too small
// for that, the in-sample decision values are used instead.
func (s *SVC) calibrate(rows [][]float64, y []float64) error {
	n := len(rows)
	dec := make([]float64, n)

	var pos, neg int
	fold := make([]int, n)
	for i := range y {
		if y[i] > 0 {
			fold[i] = pos % plattFolds
			pos++
		} else {
			fold[i] = neg % plattFolds
			neg++
		}
	}

	if pos >= plattFolds && neg >= plattFolds {
		for f := 0; f < plattFolds; f++ {
			var trRows [][]float64
			var trY []float64
			for i := range rows {
				if fold[i] != f {
					trRows = append(trRows, rows[i])
					trY = append(trY, y[i])
				}
			}
			sol := s.solve(trRows, trY)
			for i := range rows {
				if fold[i] == f {
					dec[i] = s.decision(sol, rows[i])
				}
			}
		}
	} else {
		sol := solution{sv: s.SupportVectors, coef: s.DualCoef, rho: s.Rho}
		for i := range rows {
			dec[i] = s.decision(sol, rows[i])
		}
	}

	labels := make([]float64, n)
	for i := range y {
		if y[i] > 0 {
			labels[i] = 1
		}
	}
	calibrator := linear_model.NewLogisticRegression()
	if err := calibrator.Fit(mat.NewDense(n, 1, dec), mat.NewDense(n, 1, labels)); err != nil {
		return errors.Wrap(err, "SVC: Platt scaling")
	}
	s.Calibrator = calibrator
	return nil
}

// DecisionFunction returns the signed distance of each sample to the
// separating surface (n_samples × 1). Positive values favor Classes()[1].
func (s *SVC) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := s.State.RequireFitted("SVC", "DecisionFunction"); err != nil {
		return nil, err
	}
	if err := s.State.CheckFeatures("SVC.DecisionFunction", X); err != nil {
		return nil, err
	}
	n, c := X.Dims()
	out := mat.NewDense(n, 1, nil)
	sol := solution{sv: s.SupportVectors, coef: s.DualCoef, rho: s.Rho}
	parallel.Rows(n, minParallelRows, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			out.Set(i, 0, s.decision(sol, mat.Row(row, i, X)))
		}
	})
	return out, nil
}

// Predict returns Classes()[1] where the decision value is positive.
func (s *SVC) Predict(X mat.Matrix) (mat.Matrix, error) {
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := dec.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		c := s.ClassCodes[0]
		if dec.At(i, 0) > 0 {
			c = s.ClassCodes[1]
		}
		out.Set(i, 0, float64(c))
	}
	return out, nil
}

// PredictProba returns Platt-scaled class probabilities (n_samples × 2).
// It fails when the model was fitted without probability estimates.
func (s *SVC) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	if s.Calibrator == nil {
		return nil, errors.NewModelError("SVC.PredictProba", "probability estimates disabled",
			errors.New("fit with probability enabled"))
	}
	return s.Calibrator.PredictProba(dec)
}

// Score returns the accuracy on (X, y), or 0 if prediction fails.
func (s *SVC) Score(X, y mat.Matrix) float64 {
	pred, err := s.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := pred.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// GetParams implements model.ParameterGetter.
func (s *SVC) GetParams() map[string]interface{} {
	var gamma interface{} = s.Gamma
	if s.GammaMode != "" {
		gamma = s.GammaMode
	}
	return map[string]interface{}{
		"C":           s.C,
		"kernel":      s.Kernel,
		"gamma":       gamma,
		"degree":      s.Degree,
		"coef0":       s.Coef0,
		"tol":         s.Tol,
		"max_iter":    s.MaxIter,
		"probability": s.Probability,
	}
}

// SetParams implements model.ParameterSetter. gamma accepts "scale",
// "auto" or a positive number.
func (s *SVC) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "C":
			s.C, err = model.ParamFloat(k, v)
		case "kernel":
			s.Kernel, err = model.ParamString(k, v)
		case "gamma":
			if mode, ok := v.(string); ok {
				s.GammaMode = mode
			} else {
				s.Gamma, err = model.ParamFloat(k, v)
				s.GammaMode = ""
			}
		case "degree":
			s.Degree, err = model.ParamInt(k, v)
		case "coef0":
			s.Coef0, err = model.ParamFloat(k, v)
		case "tol":
			s.Tol, err = model.ParamFloat(k, v)
		case "max_iter":
			s.MaxIter, err = model.ParamInt(k, v)
		case "probability":
			s.Probability, err = model.ParamBool(k, v)
		default:
			err = model.UnknownParam("SVC", k, v)
		}
		if err != nil {
			return err
		}
	}
	return s.validate()
}

// Clone implements model.Classifier.
func (s *SVC) Clone() model.Classifier {
	return &SVC{
		C:           s.C,
		Kernel:      s.Kernel,
		Gamma:       s.Gamma,
		GammaMode:   s.GammaMode,
		Degree:      s.Degree,
		Coef0:       s.Coef0,
		Tol:         s.Tol,
		MaxIter:     s.MaxIter,
		Probability: s.Probability,
		State:       model.NewStateManager(),
	}
}
