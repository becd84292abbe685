package ensemble

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// circles labels points inside radius 1 as class 1. A third feature is noise.
func circles(n int, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		a, b := rng.Float64()*4-2, rng.Float64()*4-2
		X.SetRow(i, []float64{a, b, rng.Float64()})
		if a*a+b*b < 1 {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func accuracy(t *testing.T, c model.Classifier, X, y mat.Matrix) float64 {
	t.Helper()
	pred, err := c.Predict(X)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := X.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

func TestRandomForestClassifier(t *testing.T) {
	X, y := circles(200, 1)
	Xt, yt := circles(100, 2)

	rf := NewRandomForestClassifier(WithNEstimators(25), WithForestRandomState(42))
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if acc := accuracy(t, rf, Xt, yt); acc < 0.85 {
		t.Errorf("held-out accuracy = %v", acc)
	}
	if len(rf.Trees) != 25 {
		t.Errorf("trees = %d", len(rf.Trees))
	}

	proba, err := rf.PredictProba(Xt)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if s := proba.At(i, 0) + proba.At(i, 1); math.Abs(s-1) > 1e-9 {
			t.Fatalf("row %d sums to %v", i, s)
		}
	}

	imp := rf.FeatureImportances
	if math.Abs(floats.Sum(imp)-1) > 1e-9 || imp[2] >= imp[0] || imp[2] >= imp[1] {
		t.Errorf("noise feature should matter least: %v", imp)
	}
}

func TestRandomForestDeterministicAcrossWorkers(t *testing.T) {
	X, y := circles(80, 3)
	fit := func(jobs int) mat.Matrix {
		rf := NewRandomForestClassifier(WithNEstimators(10), WithForestRandomState(7), WithNJobs(jobs))
		if err := rf.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		p, _ := rf.PredictProba(X)
		return p
	}
	if !mat.Equal(fit(1), fit(4)) {
		t.Error("forest depends on the number of workers")
	}
}

func TestRandomForestPredictProbaManyRows(t *testing.T) {
	X, y := circles(120, 5)
	rf := NewRandomForestClassifier(WithNEstimators(8), WithForestRandomState(3))
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	Xt, _ := circles(1000, 6)
	proba, err := rf.PredictProba(Xt)
	if err != nil {
		t.Fatal(err)
	}

	// 木ごとの確率の平均と一致する
	want := mat.NewDense(1000, 2, nil)
	for _, dt := range rf.Trees {
		p, err := dt.PredictProba(Xt)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 1000; i++ {
			for k, code := range dt.ClassCodes {
				want.Set(i, code, want.At(i, code)+p.At(i, k)/8)
			}
		}
	}
	if !mat.EqualApprox(proba, want, 1e-12) {
		t.Error("forest probabilities differ from the tree average")
	}
}

func TestRandomForestMissingClassInTree(t *testing.T) {
	// 少数クラスが 1 件だけなので、含まない bootstrap 標本がある
	X := mat.NewDense(10, 1, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 20})
	y := mat.NewDense(10, 1, []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 2})

	rf := NewRandomForestClassifier(WithNEstimators(20), WithForestRandomState(1))
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if c := rf.Classes(); len(c) != 2 || c[1] != 2 {
		t.Errorf("classes = %v", c)
	}
	proba, err := rf.PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	if _, c := proba.Dims(); c != 2 {
		t.Errorf("proba has %d columns", c)
	}
}

func TestGradientBoostingClassifier(t *testing.T) {
	X, y := circles(200, 4)
	Xt, yt := circles(100, 5)

	gb := NewGradientBoostingClassifier(WithBoostingEstimators(50))
	if err := gb.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if acc := accuracy(t, gb, Xt, yt); acc < 0.85 {
		t.Errorf("held-out accuracy = %v", acc)
	}

	if n := len(gb.TrainLoss); n != 50 || gb.TrainLoss[n-1] >= gb.TrainLoss[0] {
		t.Errorf("training loss did not decrease: %v", gb.TrainLoss)
	}

	// 初期スコアは事前確率の対数オッズ
	var pos float64
	for i := 0; i < 200; i++ {
		pos += y.At(i, 0)
	}
	if want := math.Log(pos / (200 - pos)); math.Abs(gb.InitScore-want) > 1e-12 {
		t.Errorf("InitScore = %v, want %v", gb.InitScore, want)
	}
}

func TestGradientBoostingSingleStump(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})

	gb := NewGradientBoostingClassifier(
		WithBoostingEstimators(1),
		WithBoostingMaxDepth(1),
		WithLearningRate(1),
	)
	if err := gb.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	// p0 = 0.5 なので g = ±0.5, h = 0.25、葉は -Σg/Σh = ∓2
	raw, _ := gb.DecisionFunction(X)
	want := []float64{-2, -2, 2, 2}
	for i, w := range want {
		if math.Abs(raw.At(i, 0)-w) > 1e-9 {
			t.Errorf("raw[%d] = %v, want %v", i, raw.At(i, 0), w)
		}
	}
	if gb.Trees[0].NLeaves() != 2 || gb.Trees[0].Nodes[0].Threshold != 1.5 {
		t.Errorf("stump = %+v", gb.Trees[0].Nodes)
	}
}

func TestEnsembleParams(t *testing.T) {
	rf := NewRandomForestClassifier()
	if err := rf.SetParams(map[string]interface{}{"n_estimators": 50.0, "max_depth": 10, "max_features": "log2"}); err != nil {
		t.Fatal(err)
	}
	if rf.NEstimators != 50 || rf.MaxDepth != 10 || rf.MaxFeatures != MaxFeaturesLog2 {
		t.Errorf("forest params = %v", rf.GetParams())
	}

	gb := NewGradientBoostingClassifier()
	if err := gb.SetParams(map[string]interface{}{"learning_rate": 0.05, "subsample": 0.8}); err != nil {
		t.Fatal(err)
	}
	if gb.LearningRate != 0.05 || gb.Subsample != 0.8 {
		t.Errorf("boosting params = %v", gb.GetParams())
	}

	bad := []struct {
		c      model.Classifier
		params map[string]interface{}
	}{
		{NewRandomForestClassifier(), map[string]interface{}{"n_estimators": 0}},
		{NewRandomForestClassifier(), map[string]interface{}{"max_features": "half"}},
		{NewRandomForestClassifier(), map[string]interface{}{"criterion": "mse"}},
		{NewRandomForestClassifier(), map[string]interface{}{"kernel": "rbf"}},
		{NewGradientBoostingClassifier(), map[string]interface{}{"learning_rate": 0}},
		{NewGradientBoostingClassifier(), map[string]interface{}{"subsample": 1.5}},
		{NewGradientBoostingClassifier(), map[string]interface{}{"max_depth": "deep"}},
	}
	for _, tt := range bad {
		if err := tt.c.SetParams(tt.params); !errors.IsInputError(err) {
			t.Errorf("SetParams(%v) = %v", tt.params, err)
		}
	}

	X := mat.NewDense(3, 1, []float64{0, 1, 2})
	y := mat.NewDense(3, 1, []float64{0, 1, 2})
	if err := NewGradientBoostingClassifier().Fit(X, y); !errors.IsInputError(err) {
		t.Errorf("multiclass boosting should be rejected, got %v", err)
	}
}

func TestEnsembleGobRoundTrip(t *testing.T) {
	X, y := circles(60, 6)
	classifiers := []model.Classifier{
		NewRandomForestClassifier(WithNEstimators(5)),
		NewGradientBoostingClassifier(WithBoostingEstimators(5)),
	}
	for _, c := range classifiers {
		if err := c.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		want, _ := c.PredictProba(X)

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(c); err != nil {
			t.Fatal(err)
		}
		restored := c.Clone()
		if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
			t.Fatal(err)
		}
		got, err := restored.PredictProba(X)
		if err != nil {
			t.Fatal(err)
		}
		if !mat.EqualApprox(got, want, 1e-12) {
			t.Errorf("%T: restored predictions differ", c)
		}
	}
}
