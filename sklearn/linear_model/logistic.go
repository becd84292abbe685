// Package linear_model provides a regularized logistic regression classifier.
//
// It is used on its own and as the probability calibrator of svm.SVC, where
// it is fitted on a single column of decision values (Platt scaling).
package linear_model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/sklearn/tree"
)

var _ model.Classifier = (*LogisticRegression)(nil)

// LogisticRegression implements L2-regularized logistic regression.
// Binary problems fit a single weight vector; multiclass problems fit one
// vector per class (one-vs-rest) and normalize the per-class probabilities.
//
// The objective per class is 0.5*||w||² + C*Σ logloss, minimized with
// Newton's method. The intercept is not penalized.
type LogisticRegression struct {
	// Hyperparameters
	C            float64 // Inverse regularization strength
	FitIntercept bool
	MaxIter      int
	Tol          float64

	// Fitted state
	Coef       [][]float64 // one row per fitted vector
	Intercept  []float64
	ClassCodes []int
	NIter      []int
	State      *model.StateManager
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		C:            1.0,
		FitIntercept: true,
		MaxIter:      100,
		Tol:          1e-6,
		State:        model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.C = c }
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.FitIntercept = fit }
}

// WithLRMaxIter sets the maximum number of Newton iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.MaxIter = maxIter }
}

// WithLRTol sets the tolerance on the gradient norm
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Tol = tol }
}

// IsFitted implements model.Estimator.
func (lr *LogisticRegression) IsFitted() bool { return lr.State.IsFitted() }

// Classes implements model.Classifier.
func (lr *LogisticRegression) Classes() []int {
	return append([]int(nil), lr.ClassCodes...)
}

func (lr *LogisticRegression) validate() error {
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be > 0", lr.C)
	}
	if lr.MaxIter < 1 {
		return errors.NewValidationError("max_iter", "must be >= 1", lr.MaxIter)
	}
	if lr.Tol <= 0 {
		return errors.NewValidationError("tol", "must be > 0", lr.Tol)
	}
	return nil
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	if err := lr.validate(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	codes, index, err := tree.ClassLabels("LogisticRegression.Fit", y, nSamples)
	if err != nil {
		return err
	}
	if len(codes) < 2 {
		return errors.NewValueError("LogisticRegression.Fit", fmt.Sprintf("needs at least 2 classes, got %d", len(codes)))
	}
	if lr.State == nil {
		lr.State = model.NewStateManager()
	}

	lr.ClassCodes = codes
	nVectors := len(codes)
	if nVectors == 2 {
		nVectors = 1
	}
	lr.Coef = make([][]float64, nVectors)
	lr.Intercept = make([]float64, nVectors)
	lr.NIter = make([]int, nVectors)

	Xd := mat.DenseCopyOf(X)
	target := make([]float64, nSamples)
	for k := 0; k < nVectors; k++ {
		// 二値なら陽性クラス (codes[1])、多クラスなら k 番目のクラスを 1 とする
		positive := k
		if len(codes) == 2 {
			positive = 1
		}
		for i, c := range index {
			target[i] = 0
			if c == positive {
				target[i] = 1
			}
		}
		lr.Coef[k], lr.Intercept[k], lr.NIter[k] = lr.newton(Xd, target)
	}

	lr.State.SetDimensions(nFeatures, nSamples)
	lr.State.SetFitted()
	return nil
}

// newton minimizes the penalized log loss for one 0/1 target vector.
// Parameters are laid out as [w_0..w_{d-1}, b].
func (lr *LogisticRegression) newton(X *mat.Dense, target []float64) ([]float64, float64, int) {
	n, d := X.Dims()
	dim := d + 1
	theta := mat.NewVecDense(dim, nil)
	grad := mat.NewVecDense(dim, nil)
	hess := mat.NewSymDense(dim, nil)
	step := mat.NewVecDense(dim, nil)
	row := make([]float64, d)

	iter := 0
	for iter < lr.MaxIter {
		iter++
		hess.Zero()
		for j := 0; j < d; j++ {
			grad.SetVec(j, theta.AtVec(j))
			hess.SetSym(j, j, 1)
		}
		grad.SetVec(d, 0)
		if !lr.FitIntercept {
			// 切片を固定するため対角を 1 にして勾配を 0 にする
			hess.SetSym(d, d, 1)
		}

		for i := 0; i < n; i++ {
			mat.Row(row, i, X)
			z := theta.AtVec(d)
			for j, v := range row {
				z += v * theta.AtVec(j)
			}
			p := sigmoid(z)
			r := lr.C * (p - target[i])
			w := lr.C * p * (1 - p)
			for a := 0; a < d; a++ {
				grad.SetVec(a, grad.AtVec(a)+r*row[a])
				for b := a; b < d; b++ {
					hess.SetSym(a, b, hess.At(a, b)+w*row[a]*row[b])
				}
				if lr.FitIntercept {
					hess.SetSym(a, d, hess.At(a, d)+w*row[a])
				}
			}
			if lr.FitIntercept {
				grad.SetVec(d, grad.AtVec(d)+r)
				hess.SetSym(d, d, hess.At(d, d)+w)
			}
		}
		if !lr.FitIntercept {
			grad.SetVec(d, 0)
		}

		if mat.Norm(grad, math.Inf(1)) < lr.Tol {
			break
		}
		// 切片のみの列が退化していても対角に微小値を足して解けるようにする
		hess.SetSym(d, d, hess.At(d, d)+1e-10)
		if err := step.SolveVec(hess, grad); err != nil {
			break
		}
		theta.SubVec(theta, step)
	}

	coef := make([]float64, d)
	for j := range coef {
		coef[j] = theta.AtVec(j)
	}
	return coef, theta.AtVec(d), iter
}

// DecisionFunction returns the linear scores (n_samples × n_vectors).
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := lr.State.RequireFitted("LogisticRegression", "DecisionFunction"); err != nil {
		return nil, err
	}
	if err := lr.State.CheckFeatures("LogisticRegression.DecisionFunction", X); err != nil {
		return nil, err
	}
	n, d := X.Dims()
	out := mat.NewDense(n, len(lr.Coef), nil)
	for i := 0; i < n; i++ {
		for k, w := range lr.Coef {
			z := lr.Intercept[k]
			for j := 0; j < d; j++ {
				z += X.At(i, j) * w[j]
			}
			out.Set(i, k, z)
		}
	}
	return out, nil
}

// PredictProba returns probability estimates for each class
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	scores, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := scores.Dims()
	k := len(lr.ClassCodes)
	probas := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		if k == 2 {
			p := sigmoid(scores.At(i, 0))
			probas.Set(i, 0, 1-p)
			probas.Set(i, 1, p)
			continue
		}
		var sum float64
		for c := 0; c < k; c++ {
			p := sigmoid(scores.At(i, c))
			probas.Set(i, c, p)
			sum += p
		}
		for c := 0; c < k; c++ {
			probas.Set(i, c, probas.At(i, c)/sum)
		}
	}
	return probas, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxClasses(probas, lr.ClassCodes), nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0.0
	}
	nSamples, _ := X.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples)
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"C":             lr.C,
		"fit_intercept": lr.FitIntercept,
		"max_iter":      lr.MaxIter,
		"tol":           lr.Tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "C":
			lr.C, err = model.ParamFloat(key, value)
		case "fit_intercept":
			lr.FitIntercept, err = model.ParamBool(key, value)
		case "max_iter":
			lr.MaxIter, err = model.ParamInt(key, value)
		case "tol":
			lr.Tol, err = model.ParamFloat(key, value)
		default:
			err = model.UnknownParam("LogisticRegression", key, value)
		}
		if err != nil {
			return err
		}
	}
	return lr.validate()
}

// Clone implements model.Classifier.
func (lr *LogisticRegression) Clone() model.Classifier {
	return NewLogisticRegression(
		WithLRC(lr.C),
		WithLogisticFitIntercept(lr.FitIntercept),
		WithLRMaxIter(lr.MaxIter),
		WithLRTol(lr.Tol),
	)
}

// sigmoid computes the sigmoid function
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1.0 + e)
}
