package svm

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// blobs returns two Gaussian clusters centered at (-2,-2) and (2,2).
func blobs(n int, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(2*n, 2, nil)
	y := mat.NewDense(2*n, 1, nil)
	for i := 0; i < 2*n; i++ {
		c := -2.0
		if i >= n {
			c = 2
			y.Set(i, 0, 1)
		}
		X.Set(i, 0, c+rng.NormFloat64()*0.5)
		X.Set(i, 1, c+rng.NormFloat64()*0.5)
	}
	return X, y
}

func TestSVCLinearSeparable(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{-2, -1, 1, 2})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})

	s := NewSVC(WithKernel(KernelLinear), WithC(100), WithProbability(false))
	if err := s.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	// 最大マージン解は w=1, b=0 で、サポートベクタは ±1
	dec, err := s.DecisionFunction(mat.NewDense(3, 1, []float64{-1, 0, 1}))
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{-1, 0, 1}
	for i, w := range want {
		if math.Abs(dec.At(i, 0)-w) > 1e-2 {
			t.Errorf("f(%v) = %v, want %v", want[i], dec.At(i, 0), w)
		}
	}
	if len(s.SupportVectors) != 2 {
		t.Errorf("support vectors = %v", s.SupportVectors)
	}
	if got := s.Score(X, y); got != 1 {
		t.Errorf("accuracy = %v", got)
	}
	if _, err := s.PredictProba(X); err == nil {
		t.Error("PredictProba without probability estimates should fail")
	}
}

func TestSVCRBF(t *testing.T) {
	X, y := blobs(20, 1)
	s := NewSVC()
	if err := s.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if got := s.Score(X, y); got < 0.95 {
		t.Errorf("accuracy = %v", got)
	}

	proba, err := s.PredictProba(mat.NewDense(2, 2, []float64{-2, -2, 2, 2}))
	if err != nil {
		t.Fatal(err)
	}
	if proba.At(0, 1) > 0.5 || proba.At(1, 1) < 0.5 {
		t.Errorf("probabilities = %v", mat.Formatted(proba))
	}
	for i := 0; i < 2; i++ {
		if s := proba.At(i, 0) + proba.At(i, 1); math.Abs(s-1) > 1e-12 {
			t.Errorf("row %d sums to %v", i, s)
		}
	}
}

func TestSVCDecisionFunctionManyRows(t *testing.T) {
	X, y := blobs(20, 4)
	s := NewSVC(WithProbability(false))
	if err := s.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	// 並列に分割される行数
	Xt, _ := blobs(300, 5)
	dec, err := s.DecisionFunction(Xt)
	if err != nil {
		t.Fatal(err)
	}
	sol := solution{sv: s.SupportVectors, coef: s.DualCoef, rho: s.Rho}
	for i := 0; i < 600; i++ {
		if want := s.decision(sol, mat.Row(nil, i, Xt)); dec.At(i, 0) != want {
			t.Fatalf("row %d: f = %v, want %v", i, dec.At(i, 0), want)
		}
	}
}

func TestSVCDualConstraints(t *testing.T) {
	X, y := blobs(15, 2)
	s := NewSVC(WithC(0.5), WithProbability(false))
	if err := s.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	// Σ y_i α_i = 0 かつ 0 < α_i <= C
	var sum float64
	for _, c := range s.DualCoef {
		sum += c
		if a := math.Abs(c); a <= 0 || a > s.C+1e-12 {
			t.Errorf("alpha %v outside (0, C]", a)
		}
	}
	if math.Abs(sum) > 1e-9 {
		t.Errorf("Σ y·alpha = %v", sum)
	}
}

func TestSVCClassCodes(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 5, 6})
	y := mat.NewDense(4, 1, []float64{3, 3, 8, 8})
	s := NewSVC(WithKernel(KernelLinear), WithProbability(false))
	if err := s.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	pred, _ := s.Predict(X)
	for i := 0; i < 4; i++ {
		if pred.At(i, 0) != y.At(i, 0) {
			t.Errorf("sample %d: %v", i, pred.At(i, 0))
		}
	}

	multi := mat.NewDense(4, 1, []float64{0, 1, 2, 2})
	if err := NewSVC().Fit(X, multi); !errors.IsInputError(err) {
		t.Errorf("three classes should be rejected, got %v", err)
	}
}

func TestSVCParams(t *testing.T) {
	s := NewSVC()
	if s.GetParams()["gamma"] != GammaScale {
		t.Errorf("default gamma = %v", s.GetParams()["gamma"])
	}
	if err := s.SetParams(map[string]interface{}{"C": 10, "gamma": 0.1, "kernel": "linear"}); err != nil {
		t.Fatal(err)
	}
	if s.C != 10 || s.Gamma != 0.1 || s.GammaMode != "" || s.Kernel != KernelLinear {
		t.Errorf("params = %v", s.GetParams())
	}

	for _, bad := range []map[string]interface{}{
		{"kernel": "cubic"},
		{"gamma": "large"},
		{"gamma": -1.0},
		{"C": -1},
		{"n_estimators": 5},
	} {
		if err := NewSVC().SetParams(bad); !errors.IsInputError(err) {
			t.Errorf("SetParams(%v) = %v", bad, err)
		}
	}

	clone := s.Clone().(*SVC)
	if clone.C != 10 || clone.IsFitted() {
		t.Errorf("clone = %v", clone.GetParams())
	}

	var nf *errors.NotFittedError
	if _, err := NewSVC().Predict(mat.NewDense(1, 2, nil)); !errors.As(err, &nf) {
		t.Errorf("Predict before Fit: %v", err)
	}
}
