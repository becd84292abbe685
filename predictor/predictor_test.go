package predictor

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/graphs"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
	"github.com/YuminosukeSato/strokeguard/preprocessing"
)

var targetClasses = []string{"No Stroke", "Stroke"}

// patientsCSV は Age >= 55 なら Stroke になる 150 行の表
func patientsCSV() string {
	var b strings.Builder
	b.WriteString("Age,Gender,Hypertension,Average Glucose Level,Diagnosis\n")
	for i := 0; i < 150; i++ {
		age := 30 + (i*37)%50
		gender := "Male"
		if i%2 == 1 {
			gender = "Female"
		}
		hyp := "No"
		if i%3 == 0 {
			hyp = "Yes"
		}
		glucose := fmt.Sprintf("%.1f", 80+float64((i*13)%90))
		if i == 7 {
			glucose = ""
		}
		diag := "No Stroke"
		if age >= 55 {
			diag = "Stroke"
		}
		fmt.Fprintf(&b, "%d,%s,%s,%s,%s\n", age, gender, hyp, glucose, diag)
	}
	return b.String()
}

func processed(t *testing.T) (*preprocessing.Processor, *preprocessing.Processed) {
	t.Helper()
	tbl, err := dataset.Load(strings.NewReader(patientsCSV()), dataset.Schema{})
	if err != nil {
		t.Fatal(err)
	}
	proc := preprocessing.NewProcessor(preprocessing.WithTargetClasses(targetClasses))
	p, err := proc.Process(tbl, "Diagnosis")
	if err != nil {
		t.Fatal(err)
	}
	return proc, p
}

func newTestModel(proc *preprocessing.Processor) (*Model, *log.TestLogger) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	return New(proc, WithNJobs(2), WithLogger(logger)), logger
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"RandomForest", RandomForest},
		{"randomforest", RandomForest},
		{"SVM", SVM},
		{"SupportVectorMachine", SVM},
		{" gradientboosting ", GradientBoosting},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	for _, bad := range []string{"", "KNN", "Random Forest"} {
		_, err := ParseKind(bad)
		assert.True(t, errors.IsInputError(err), "ParseKind(%q) = %v, want unsupported model", bad, err)
	}
}

func TestParseGrid(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		text string
		want map[string][]interface{}
	}{
		{"blank", RandomForest, "  \n", nil},
		{"json", RandomForest, `{"n_estimators": [10, 20], "max_depth": 3}`,
			map[string][]interface{}{"n_estimators": {10, 20}, "max_depth": {3}}},
		{"yaml", GradientBoosting, "learning_rate: [0.05, 0.1]\nsubsample: 1",
			map[string][]interface{}{"learning_rate": {0.05, 0.1}, "subsample": {1.0}}},
		{"flow with quotes", SVM, `{'C': [0.1, 1], 'kernel': ['rbf', 'linear']}`,
			map[string][]interface{}{"C": {0.1, 1.0}, "kernel": {"rbf", "linear"}}},
		{"gamma modes and numbers", SVM, `{"gamma": ["scale", 0.5]}`,
			map[string][]interface{}{"gamma": {"scale", 0.5}}},
		{"bool", RandomForest, "bootstrap: [true, false]",
			map[string][]interface{}{"bootstrap": {true, false}}},
		{"integral float", RandomForest, `{"n_estimators": [50.0]}`,
			map[string][]interface{}{"n_estimators": {50}}},
		{"None depth", RandomForest, `{'max_depth': [None, 10]}`,
			map[string][]interface{}{"max_depth": {0, 10}}},
		{"null depth", RandomForest, `{"max_depth": null}`,
			map[string][]interface{}{"max_depth": {0}}},
		{"yaml tilde depth", RandomForest, "max_depth: [~, 5]",
			map[string][]interface{}{"max_depth": {0, 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGrid(tt.kind, tt.text)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for k, v := range tt.want {
				assert.Equal(t, v, got[k], k)
			}
		})
	}
}

func TestParseGridRejects(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		text string
	}{
		{"not a mapping", RandomForest, "[1, 2]"},
		{"code", RandomForest, "__import__('os').system('true')"},
		{"unknown name", RandomForest, `{"kernel": ["rbf"]}`},
		{"other kind's param", SVM, `{"n_estimators": [10]}`},
		{"wrong type", RandomForest, `{"n_estimators": ["many"]}`},
		{"fractional int", RandomForest, `{"max_depth": [2.5]}`},
		{"below range", GradientBoosting, `{"learning_rate": [0]}`},
		{"above range", GradientBoosting, `{"subsample": [1.5]}`},
		{"bad choice", RandomForest, `{"criterion": ["mse"]}`},
		{"bad gamma", SVM, `{"gamma": ["huge"]}`},
		{"empty list", SVM, `{"C": []}`},
		{"nested", SVM, `{"C": {"a": 1}}`},
		{"None for boosting depth", GradientBoosting, `{'max_depth': [None]}`},
		{"None for count", RandomForest, `{'n_estimators': [None, 10]}`},
		{"too many", GradientBoosting,
			`{"n_estimators": [1,2,3,4,5,6,7,8,9], "max_depth": [1,2,3,4,5,6], "subsample": [0.2,0.4,0.6,0.8,1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGrid(tt.kind, tt.text)
			assert.True(t, errors.IsInputError(err), "ParseGrid(%s) = %v, want validation error", tt.text, err)
		})
	}
}

func TestTrain(t *testing.T) {
	proc, p := processed(t)
	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			m, logger := newTestModel(proc)
			held, err := m.Train(p, kind, nil)
			if err != nil {
				t.Fatalf("Train: %v", err)
			}
			if r, _ := held.X.Dims(); r != 30 || len(held.Y) != 30 {
				t.Errorf("held-out rows = %d/%d, want 30", r, len(held.Y))
			}
			if m.Metrics.TrainSize != 120 || m.Metrics.TestSize != 30 {
				t.Errorf("sizes = %d/%d", m.Metrics.TrainSize, m.Metrics.TestSize)
			}
			if m.Metrics.Accuracy < 0.9 {
				t.Errorf("accuracy = %v", m.Metrics.Accuracy)
			}
			if m.Metrics.AUC < 0.9 {
				t.Errorf("auc = %v", m.Metrics.AUC)
			}
			if m.Metrics.LogLoss <= 0 {
				t.Errorf("log loss = %v", m.Metrics.LogLoss)
			}
			if m.Metrics.Report == nil || len(m.Metrics.Report.Classes) != 2 {
				t.Fatalf("report = %+v", m.Metrics.Report)
			}
			if !reflect.DeepEqual(m.Classes, targetClasses) {
				t.Errorf("classes = %v", m.Classes)
			}
			if !logger.ContainsField("metrics.accuracy", m.Metrics.Accuracy) ||
				!logger.ContainsMessage("Classification report") {
				t.Error("accuracy and report should be logged")
			}
		})
	}
}

func TestTrainSplitIsReproducible(t *testing.T) {
	proc, p := processed(t)
	a, _ := newTestModel(proc)
	b, _ := newTestModel(proc)
	ha, err := a.Train(p, RandomForest, nil)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := b.Train(p, GradientBoosting, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(ha.X, hb.X) || !reflect.DeepEqual(ha.Y, hb.Y) {
		t.Error("the same data and seed must give the same held-out rows")
	}
}

func TestTrainWithGrid(t *testing.T) {
	proc, p := processed(t)
	m, _ := newTestModel(proc)
	grid, err := ParseGrid(RandomForest, `{"n_estimators": [5, 10], "max_depth": [None, 3]}`)
	require.NoError(t, err)

	_, err = m.Train(p, RandomForest, grid)
	require.NoError(t, err)
	assert.Len(t, m.Metrics.BestParams, 2)
	assert.Contains(t, []interface{}{0, 3}, m.Metrics.BestParams["max_depth"])
	assert.Greater(t, m.Metrics.CVScore, 0.5)
	assert.Equal(t, m.Metrics.BestParams["n_estimators"], m.Classifier.GetParams()["n_estimators"],
		"refit model should use the best parameters")
}

func TestTrainRejects(t *testing.T) {
	proc, p := processed(t)
	m, _ := newTestModel(proc)
	if _, err := m.Train(p, Kind("KNN"), nil); !errors.IsInputError(err) {
		t.Errorf("unsupported kind: %v", err)
	}
	noTarget := *p
	noTarget.Target = nil
	if _, err := m.Train(&noTarget, RandomForest, nil); !errors.IsInputError(err) {
		t.Errorf("missing target: %v", err)
	}
	if m.IsTrained() {
		t.Error("failed training must not leave a model")
	}
}

func TestNoModel(t *testing.T) {
	m, _ := newTestModel(nil)
	X := mat.NewDense(1, 4, nil)
	if _, err := m.Predict(X); !errors.Is(err, errors.ErrNoModel) {
		t.Errorf("Predict: %v", err)
	}
	if _, err := m.PredictProba(X); !errors.Is(err, errors.ErrNoModel) {
		t.Errorf("PredictProba: %v", err)
	}
	if _, err := m.PredictRecord(map[string]any{"Age": 50.0}); !errors.Is(err, errors.ErrNoModel) {
		t.Errorf("PredictRecord: %v", err)
	}
	if err := m.Save(filepath.Join(t.TempDir(), "m.gob")); !errors.Is(err, errors.ErrNoModel) {
		t.Errorf("Save: %v", err)
	}
	if _, err := m.GeneratePredictionGraphs(&HeldOut{}, t.TempDir()); !errors.Is(err, errors.ErrNoModel) {
		t.Errorf("GeneratePredictionGraphs: %v", err)
	}
}

func TestPredictRecord(t *testing.T) {
	proc, p := processed(t)
	m, _ := newTestModel(proc)
	if _, err := m.Train(p, RandomForest, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		age  float64
		want string
	}{
		{72, "Stroke"},
		{35, "No Stroke"},
	}
	for _, tt := range tests {
		got, err := m.PredictRecord(map[string]any{
			"Age":                   tt.age,
			"Gender":                "Female",
			"Hypertension":          "No",
			"Average Glucose Level": 100.0,
		})
		if err != nil {
			t.Fatalf("PredictRecord: %v", err)
		}
		if got.Label != tt.want {
			t.Errorf("age %v: %s, want %s", tt.age, got.Label, tt.want)
		}
		if got.Probability < 0.5 || got.Probabilities[tt.want] != got.Probability {
			t.Errorf("age %v: probability %v of %v", tt.age, got.Probability, got.Probabilities)
		}
	}

	// 欠損値は学習時の値で補完される
	if _, err := m.PredictRecord(map[string]any{"Age": 60.0, "Gender": "Male", "Hypertension": nil, "Average Glucose Level": ""}); err != nil {
		t.Errorf("missing values: %v", err)
	}
	if _, err := m.PredictRecord(map[string]any{"Age": 60.0, "Gender": "Other", "Hypertension": "No", "Average Glucose Level": 90.0}); !errors.IsInputError(err) {
		t.Errorf("unseen category: %v", err)
	}
	if _, err := m.PredictRecord(map[string]any{"Age": 60.0}); !errors.IsInputError(err) {
		t.Errorf("missing columns: %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	proc, p := processed(t)
	path := filepath.Join(t.TempDir(), "model", "stroke_model.gob")
	record := map[string]any{"Age": 66.0, "Gender": "Male", "Hypertension": "Yes", "Average Glucose Level": 150.0}

	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			m, _ := newTestModel(proc)
			if _, err := m.Train(p, kind, nil); err != nil {
				t.Fatal(err)
			}
			want, err := m.PredictRecord(record)
			if err != nil {
				t.Fatal(err)
			}
			if err := m.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}

			// 新しいインスタンスはファイルだけから復元する
			loaded, _ := newTestModel(nil)
			if err := loaded.Load(path); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Kind != kind || loaded.Metrics.Accuracy != m.Metrics.Accuracy {
				t.Errorf("loaded %s with accuracy %v", loaded.Kind, loaded.Metrics.Accuracy)
			}
			got, err := loaded.PredictRecord(record)
			if err != nil {
				t.Fatalf("PredictRecord after Load: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("after Load %+v, before %+v", got, want)
			}
		})
	}

	m, _ := newTestModel(nil)
	if err := m.Load(filepath.Join(t.TempDir(), "absent.gob")); !errors.Is(err, errors.ErrModelFileNotFound) {
		t.Errorf("missing file: %v", err)
	}
}

func TestGeneratePredictionGraphs(t *testing.T) {
	proc, p := processed(t)
	m, _ := newTestModel(proc)
	held, err := m.Train(p, GradientBoosting, nil)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	stale := filepath.Join(dir, graphs.ArtifactName(graphs.PrefixROC))
	if err := os.WriteFile(stale, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := m.GeneratePredictionGraphs(held, dir)
	if err != nil {
		t.Fatalf("GeneratePredictionGraphs: %v", err)
	}
	prefixes := map[string]string{
		GraphConfusionMatrix: graphs.PrefixConfusionMatrix,
		GraphROCCurve:        graphs.PrefixROC,
	}
	for key, prefix := range prefixes {
		name := out[key]
		if !strings.HasPrefix(name, prefix) {
			t.Errorf("%s = %q", key, name)
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s: %v", key, err)
		}
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("previous ROC chart should be removed")
	}
}
