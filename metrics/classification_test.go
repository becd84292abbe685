package metrics

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func vec(v ...float64) *mat.VecDense {
	if len(v) == 0 {
		return nil
	}
	return mat.NewVecDense(len(v), v)
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name         string
		yTrue, yPred *mat.VecDense
		want         float64
		wantErr      bool
	}{
		{"all correct", vec(0, 1, 1, 0), vec(0, 1, 1, 0), 1, false},
		{"one of five wrong", vec(0, 1, 2, 1, 0), vec(0, 1, 1, 1, 0), 0.8, false},
		{"all wrong", vec(0, 0, 0), vec(1, 1, 1), 0, false},
		{"nil", nil, nil, 0, true},
		{"length mismatch", vec(0, 1), vec(0, 1, 1), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Accuracy(tt.yTrue, tt.yPred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Accuracy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Accuracy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name          string
		yTrue, yScore *mat.VecDense
		want          float64
		wantErr       bool
	}{
		{"separated", vec(0, 0, 0, 1, 1, 1), vec(0.1, 0.2, 0.3, 0.7, 0.8, 0.9), 1, false},
		{"inverted", vec(0, 0, 0, 1, 1, 1), vec(0.9, 0.8, 0.7, 0.3, 0.2, 0.1), 0, false},
		{"all tied", vec(0, 1, 0, 1), vec(0.5, 0.5, 0.5, 0.5), 0.5, false},
		{"one swapped pair", vec(0, 0, 1, 1), vec(0.1, 0.4, 0.35, 0.8), 0.75, false},
		// 片方のクラスしか無いときは 0.5
		{"only strokes", vec(1, 1, 1), vec(0.2, 0.6, 0.9), 0.5, false},
		{"no strokes", vec(0, 0, 0), vec(0.2, 0.6, 0.9), 0.5, false},
		{"non-binary labels", vec(0, 2, 1), vec(0.1, 0.5, 0.9), 0, true},
		{"length mismatch", vec(0, 1), vec(0.1), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(tt.yTrue, tt.yScore)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AUC() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AUC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBinaryLogLoss(t *testing.T) {
	got, err := BinaryLogLoss(vec(1, 0), vec(0.8, 0.4))
	if err != nil {
		t.Fatal(err)
	}
	want := -(math.Log(0.8) + math.Log(0.6)) / 2
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("BinaryLogLoss() = %v, want %v", got, want)
	}

	// 0 と 1 はクリップされ有限になる
	got, err = BinaryLogLoss(vec(1, 0), vec(0, 1))
	if err != nil || math.IsInf(got, 0) || got < 30 {
		t.Errorf("clipped loss = %v, %v", got, err)
	}
	if _, err := BinaryLogLoss(vec(0, 3), vec(0.1, 0.9)); err == nil {
		t.Error("expected error for non-binary labels")
	}
}

func TestConfusionMatrix(t *testing.T) {
	yTrue := mat.NewVecDense(6, []float64{0, 0, 1, 1, 1, 0})
	yPred := mat.NewVecDense(6, []float64{0, 1, 1, 0, 1, 0})

	cm, err := ConfusionMatrix(yTrue, yPred, []int{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	want := mat.NewDense(2, 2, []float64{
		2, 1,
		1, 2,
	})
	if !mat.Equal(cm, want) {
		t.Errorf("ConfusionMatrix() = %v, want %v", mat.Formatted(cm), mat.Formatted(want))
	}

	if _, err := ConfusionMatrix(yTrue, mat.NewVecDense(6, []float64{0, 2, 1, 0, 1, 0}), []int{0, 1}); err == nil {
		t.Error("expected error for label outside labels")
	}
	if _, err := ConfusionMatrix(yTrue, yPred, nil); err == nil {
		t.Error("expected error for empty labels")
	}
}

func TestROCCurve(t *testing.T) {
	yTrue := mat.NewVecDense(4, []float64{0, 0, 1, 1})
	yScore := mat.NewVecDense(4, []float64{0.1, 0.4, 0.35, 0.8})

	roc, err := ROCCurve(yTrue, yScore)
	if err != nil {
		t.Fatal(err)
	}
	wantFPR := []float64{0, 0, 0.5, 0.5, 1}
	wantTPR := []float64{0, 0.5, 0.5, 1, 1}
	if len(roc.FPR) != len(wantFPR) {
		t.Fatalf("FPR = %v, want %v", roc.FPR, wantFPR)
	}
	for i := range wantFPR {
		if roc.FPR[i] != wantFPR[i] || roc.TPR[i] != wantTPR[i] {
			t.Errorf("point %d = (%v, %v), want (%v, %v)", i, roc.FPR[i], roc.TPR[i], wantFPR[i], wantTPR[i])
		}
	}
	if !math.IsInf(roc.Thresholds[0], 1) || roc.Thresholds[1] != 0.8 {
		t.Errorf("Thresholds = %v", roc.Thresholds)
	}

	// 台形則で面積を求めると AUC と一致する
	var area float64
	for i := 1; i < len(roc.FPR); i++ {
		area += (roc.FPR[i] - roc.FPR[i-1]) * (roc.TPR[i] + roc.TPR[i-1]) / 2
	}
	auc, _ := AUC(yTrue, yScore)
	if math.Abs(area-auc) > 1e-12 {
		t.Errorf("trapezoid area %v != AUC %v", area, auc)
	}

	// 同点スコアは一点にまとめる
	tied, err := ROCCurve(mat.NewVecDense(4, []float64{0, 1, 0, 1}), mat.NewVecDense(4, []float64{0.5, 0.5, 0.5, 0.5}))
	if err != nil {
		t.Fatal(err)
	}
	if len(tied.FPR) != 2 || tied.FPR[1] != 1 || tied.TPR[1] != 1 {
		t.Errorf("tied ROC = %v / %v", tied.FPR, tied.TPR)
	}
}

func TestClassificationReport(t *testing.T) {
	yTrue := mat.NewVecDense(6, []float64{0, 0, 0, 0, 1, 1})
	yPred := mat.NewVecDense(6, []float64{0, 0, 0, 1, 1, 0})

	report, err := ClassificationReport(yTrue, yPred, []int{0, 1}, []string{"No Stroke", "Stroke"})
	if err != nil {
		t.Fatal(err)
	}

	noStroke, stroke := report.Classes[0], report.Classes[1]
	if math.Abs(noStroke.Precision-0.75) > 1e-9 || math.Abs(noStroke.Recall-0.75) > 1e-9 || noStroke.Support != 4 {
		t.Errorf("No Stroke = %+v", noStroke)
	}
	if math.Abs(stroke.Precision-0.5) > 1e-9 || math.Abs(stroke.Recall-0.5) > 1e-9 || stroke.Support != 2 {
		t.Errorf("Stroke = %+v", stroke)
	}
	if math.Abs(report.Accuracy-4.0/6.0) > 1e-9 || report.Total != 6 {
		t.Errorf("Accuracy = %v Total = %d", report.Accuracy, report.Total)
	}
	if math.Abs(report.MacroAvg.F1-0.625) > 1e-9 {
		t.Errorf("macro F1 = %v", report.MacroAvg.F1)
	}
	wantWeighted := 0.75*4.0/6.0 + 0.5*2.0/6.0
	if math.Abs(report.WeightedAvg.F1-wantWeighted) > 1e-9 {
		t.Errorf("weighted F1 = %v, want %v", report.WeightedAvg.F1, wantWeighted)
	}

	text := report.String()
	for _, want := range []string{"precision", "No Stroke", "Stroke", "accuracy", "macro avg", "weighted avg"} {
		if !strings.Contains(text, want) {
			t.Errorf("report text missing %q:\n%s", want, text)
		}
	}

	if _, err := ClassificationReport(yTrue, yPred, []int{0, 1}, []string{"only one"}); err == nil {
		t.Error("expected error when names and labels differ in length")
	}
}

func BenchmarkAUC(b *testing.B) {
	n := 1000
	yTrue := mat.NewVecDense(n, nil)
	yScore := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yScore.SetVec(i, float64(i%97)/97)
		if i%3 == 0 {
			yTrue.SetVec(i, 1)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = AUC(yTrue, yScore)
	}
}
