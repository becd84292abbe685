package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う。戻り値は (n_samples, 1) の行列
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Estimator は学習済みかどうかを問い合わせられるモデル
type Estimator interface {
	Fitter
	IsFitted() bool
}

// ParameterGetter is the interface for models that expose their hyperparameters.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow hyperparameter modification.
// Unknown keys or values of the wrong type are rejected with a ValidationError.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// Classifier combines interfaces for classification models.
//
// Labels are class codes stored as float64 (0, 1, ...). PredictProba returns
// one column per entry of Classes(), in that order.
type Classifier interface {
	Estimator
	Predictor
	ParameterGetter
	ParameterSetter

	// PredictProba returns probability estimates for each class.
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the sorted class codes seen during fitting.
	Classes() []int

	// Clone returns an unfitted copy carrying the same hyperparameters.
	Clone() Classifier
}

// Transformer learns per-column statistics from X and applies them to new
// matrices of the same width.
type Transformer interface {
	Fit(X mat.Matrix) error
	Transform(X mat.Matrix) (mat.Matrix, error)
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}
