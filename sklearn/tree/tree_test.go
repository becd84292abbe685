package tree

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

func separable() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		3, 3,
		3, 4,
		4, 3,
		4, 4,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1})
	return X, y
}

func TestDecisionTreeClassifierFitPredict(t *testing.T) {
	X, y := separable()
	dt := NewDecisionTreeClassifier(WithMaxDepth(5))
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if got := dt.Score(X, y); got != 1 {
		t.Errorf("training accuracy = %v, want 1", got)
	}

	pred, err := dt.Predict(mat.NewDense(2, 2, []float64{0.5, 0.5, 3.5, 3.5}))
	if err != nil {
		t.Fatal(err)
	}
	if pred.At(0, 0) != 0 || pred.At(1, 0) != 1 {
		t.Errorf("predictions = %v", mat.Formatted(pred))
	}
	if dt.GetDepth() != 1 || dt.GetNLeaves() != 2 {
		t.Errorf("depth=%d leaves=%d, want a single split", dt.GetDepth(), dt.GetNLeaves())
	}
}

func TestDecisionTreeClassifierPredictProba(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 1, 1, 1})

	// 葉のクラス分布がそのまま確率になる
	dt := NewDecisionTreeClassifier(WithMaxDepth(1), WithMinSamplesLeaf(2))
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	proba, err := dt.PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	r, c := proba.Dims()
	if r != 4 || c != 2 {
		t.Fatalf("proba dims = %d×%d", r, c)
	}
	want := []float64{0.5, 0.5, 1, 1}
	for i := 0; i < r; i++ {
		if math.Abs(proba.At(i, 0)+proba.At(i, 1)-1) > 1e-12 {
			t.Errorf("row %d does not sum to 1", i)
		}
		if math.Abs(proba.At(i, 1)-want[i]) > 1e-12 {
			t.Errorf("P(class 1 | x=%v) = %v, want %v", X.At(i, 0), proba.At(i, 1), want[i])
		}
	}
}

func TestDecisionTreeClassifierXOR(t *testing.T) {
	X := mat.NewDense(8, 2, []float64{
		0.0, 0.0,
		0.0, 0.1,
		0.1, 1.0,
		0.0, 0.9,
		1.0, 0.0,
		0.9, 0.0,
		1.0, 1.0,
		0.9, 0.9,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 1, 1, 1, 1, 0, 0})

	for _, criterion := range []string{CriterionGini, CriterionEntropy} {
		t.Run(criterion, func(t *testing.T) {
			dt := NewDecisionTreeClassifier(WithCriterion(criterion))
			if err := dt.Fit(X, y); err != nil {
				t.Fatal(err)
			}
			if got := dt.Score(X, y); got != 1 {
				t.Errorf("unlimited tree should fit XOR, accuracy = %v", got)
			}
		})
	}
}

func TestDecisionTreeClassifierClassCodes(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 1, 5, 6, 10, 11})
	y := mat.NewDense(6, 1, []float64{4, 4, 2, 2, 7, 7})

	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if dt.NClasses != 3 {
		t.Errorf("NClasses = %d", dt.NClasses)
	}
	classes := dt.Classes()
	if classes[0] != 2 || classes[1] != 4 || classes[2] != 7 {
		t.Errorf("Classes = %v, want sorted codes", classes)
	}
	pred, _ := dt.Predict(X)
	for i := 0; i < 6; i++ {
		if pred.At(i, 0) != y.At(i, 0) {
			t.Errorf("sample %d: got %v want %v", i, pred.At(i, 0), y.At(i, 0))
		}
	}

	bad := mat.NewDense(6, 1, []float64{0, 1, 0.5, 1, 0, 1})
	if err := NewDecisionTreeClassifier().Fit(X, bad); !errors.IsInputError(err) {
		t.Errorf("non-integer labels should fail validation, got %v", err)
	}
}

func TestDecisionTreeClassifierFeatureImportances(t *testing.T) {
	// 2 列目はノイズ
	X := mat.NewDense(6, 2, []float64{
		0, 5,
		1, 3,
		2, 5,
		8, 3,
		9, 5,
		10, 3,
	})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	imp := dt.GetFeatureImportances()
	if math.Abs(imp[0]-1) > 1e-12 || imp[1] != 0 {
		t.Errorf("importances = %v, want [1 0]", imp)
	}
}

func TestDecisionTreeClassifierStoppingRules(t *testing.T) {
	X := mat.NewDense(8, 1, []float64{0, 1, 2, 3, 4, 5, 6, 7})
	y := mat.NewDense(8, 1, []float64{0, 1, 0, 1, 0, 1, 0, 1})

	tests := []struct {
		name     string
		opts     []Option
		maxDepth int
		minLeaf  int
	}{
		{"max depth", []Option{WithMaxDepth(2)}, 2, 1},
		{"min samples leaf", []Option{WithMinSamplesLeaf(3)}, 8, 3},
		{"min samples split", []Option{WithMinSamplesSplit(8), WithMaxDepth(3)}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := NewDecisionTreeClassifier(tt.opts...)
			if err := dt.Fit(X, y); err != nil {
				t.Fatal(err)
			}
			if d := dt.GetDepth(); d > tt.maxDepth {
				t.Errorf("depth = %d, want <= %d", d, tt.maxDepth)
			}
			for _, n := range dt.Nodes {
				if n.IsLeaf() && n.NSamples < tt.minLeaf {
					t.Errorf("leaf with %d samples, want >= %d", n.NSamples, tt.minLeaf)
				}
			}
		})
	}
}

func TestDecisionTreeClassifierMaxFeaturesIsSeeded(t *testing.T) {
	X := mat.NewDense(6, 3, []float64{
		0, 1, 0,
		1, 0, 1,
		2, 1, 0,
		8, 0, 1,
		9, 1, 0,
		10, 0, 1,
	})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	a := NewDecisionTreeClassifier(WithMaxFeatures(1), WithRandomState(7))
	b := NewDecisionTreeClassifier(WithMaxFeatures(1), WithRandomState(7))
	if err := a.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if len(a.Nodes) != len(b.Nodes) {
		t.Fatalf("same seed gave %d and %d nodes", len(a.Nodes), len(b.Nodes))
	}
	for i := range a.Nodes {
		if a.Nodes[i].Feature != b.Nodes[i].Feature || a.Nodes[i].Threshold != b.Nodes[i].Threshold {
			t.Errorf("node %d differs between runs with the same seed", i)
		}
	}
}

func TestDecisionTreeClassifierParams(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	params := dt.GetParams()
	if params["criterion"].(string) != "gini" {
		t.Errorf("default criterion = %v", params["criterion"])
	}
	if params["min_samples_split"].(int) != 2 {
		t.Errorf("default min_samples_split = %v", params["min_samples_split"])
	}

	// JSON から来る数値は float64
	err := dt.SetParams(map[string]interface{}{
		"criterion":         "entropy",
		"max_depth":         5.0,
		"min_samples_split": 4,
		"min_samples_leaf":  2,
	})
	if err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	if dt.Criterion != "entropy" || dt.MaxDepth != 5 || dt.MinSamplesSplit != 4 || dt.MinSamplesLeaf != 2 {
		t.Errorf("params not applied: %+v", dt.GetParams())
	}

	for _, bad := range []map[string]interface{}{
		{"criterion": "mse"},
		{"max_depth": 2.5},
		{"max_depth": "3"},
		{"min_samples_split": 1},
		{"n_estimators": 10},
	} {
		if err := NewDecisionTreeClassifier().SetParams(bad); !errors.IsInputError(err) {
			t.Errorf("SetParams(%v) should fail validation, got %v", bad, err)
		}
	}

	clone := dt.Clone().(*DecisionTreeClassifier)
	if clone.Criterion != "entropy" || clone.MaxDepth != 5 || clone.IsFitted() {
		t.Errorf("Clone = %+v", clone.GetParams())
	}
}

func TestDecisionTreeClassifierNotFitted(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	X := mat.NewDense(1, 2, nil)

	var nf *errors.NotFittedError
	if _, err := dt.Predict(X); !errors.As(err, &nf) {
		t.Errorf("Predict before Fit: %v", err)
	}
	if _, err := dt.PredictProba(X); !errors.As(err, &nf) {
		t.Errorf("PredictProba before Fit: %v", err)
	}
}

func TestDecisionTreeClassifierGob(t *testing.T) {
	X, y := separable()
	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(dt); err != nil {
		t.Fatal(err)
	}
	var restored DecisionTreeClassifier
	if err := gob.NewDecoder(&buf).Decode(&restored); err != nil {
		t.Fatal(err)
	}
	if got := restored.Score(X, y); got != 1 {
		t.Errorf("restored tree accuracy = %v", got)
	}
	if _, err := restored.Predict(mat.NewDense(1, 3, nil)); !errors.IsInputError(err) {
		t.Errorf("restored tree should check feature count, got %v", err)
	}
}
