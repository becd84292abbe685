package predictor

import (
	"encoding/gob"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/metrics"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
	"github.com/YuminosukeSato/strokeguard/preprocessing"
	"github.com/YuminosukeSato/strokeguard/sklearn/ensemble"
	"github.com/YuminosukeSato/strokeguard/sklearn/model_selection"
	"github.com/YuminosukeSato/strokeguard/sklearn/svm"
)

func init() {
	// Bundle.Classifier はインターフェースなので具象型を登録する
	gob.Register(&ensemble.RandomForestClassifier{})
	gob.Register(&ensemble.GradientBoostingClassifier{})
	gob.Register(&svm.SVC{})
}

// Defaults of the training procedure.
const (
	DefaultTestSize    = 0.2
	DefaultRandomState = 42
	DefaultCVFolds     = 5
)

// Metrics summarizes a training run on the held-out partition.
type Metrics struct {
	Kind       Kind                   `json:"model_type"`
	Accuracy   float64                `json:"accuracy"`
	AUC        float64                `json:"auc"`
	LogLoss    float64                `json:"log_loss"`
	Report     *metrics.Report        `json:"report"`
	BestParams map[string]interface{} `json:"best_params,omitempty"`
	CVScore    float64                `json:"cv_score,omitempty"`
	TrainSize  int                    `json:"train_size"`
	TestSize   int                    `json:"test_size"`
	DurationMs int64                  `json:"duration_ms"`
}

// HeldOut is the test partition of the last training run.
type HeldOut struct {
	X *mat.Dense
	Y []float64
}

// Prediction is the result for one record.
type Prediction struct {
	Label         string             `json:"prediction"`
	Code          int                `json:"label_code"`
	Probability   float64            `json:"probability"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Bundle is the on-disk form of a trained Model.
type Bundle struct {
	Kind       Kind
	Classifier model.Classifier
	Processor  *preprocessing.Processor
	Features   []string
	Target     string
	Classes    []string
	Metrics    *Metrics
	CreatedAt  time.Time
}

// Model wraps a classifier together with the processor that produced its
// training features.
type Model struct {
	Kind       Kind
	Classifier model.Classifier
	Processor  *preprocessing.Processor
	Features   []string
	Target     string
	Classes    []string // class names indexed by class code
	Metrics    *Metrics
	CreatedAt  time.Time

	TestSize    float64
	RandomState int64
	CVFolds     int
	NJobs       int

	logger log.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithTestSize sets the held-out fraction.
func WithTestSize(f float64) Option { return func(m *Model) { m.TestSize = f } }

// WithRandomState seeds the split and the classifiers.
func WithRandomState(seed int64) Option { return func(m *Model) { m.RandomState = seed } }

// WithCVFolds sets the number of grid search folds.
func WithCVFolds(k int) Option { return func(m *Model) { m.CVFolds = k } }

// WithNJobs bounds grid search concurrency.
func WithNJobs(n int) Option { return func(m *Model) { m.NJobs = n } }

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option { return func(m *Model) { m.logger = l } }

// New returns an untrained Model. processor is the fitted processor whose
// output Train receives; it may be nil when only matrices are used.
func New(processor *preprocessing.Processor, opts ...Option) *Model {
	m := &Model{
		Processor:   processor,
		TestSize:    DefaultTestSize,
		RandomState: DefaultRandomState,
		CVFolds:     DefaultCVFolds,
		logger:      log.GetLoggerWithName("predictor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsTrained reports whether a classifier is available.
func (m *Model) IsTrained() bool {
	return m.Classifier != nil && m.Classifier.IsFitted()
}

// Train splits p into train and test partitions, fits a classifier of kind
// on the train partition and evaluates it on the test partition. A non-empty
// grid is searched with stratified k-fold cross-validation first. The split
// depends only on the number of rows and RandomState.
func (m *Model) Train(p *preprocessing.Processed, kind Kind, grid model_selection.ParamGrid) (*HeldOut, error) {
	start := time.Now()
	logger := m.logger.With(log.ModelKindKey, string(kind), log.OperationKey, log.OperationFit)

	if p == nil || p.Data == nil {
		return nil, errors.Wrap(errors.ErrNoData, "Model.Train")
	}
	if p.Target == nil {
		return nil, errors.NewValueError("Model.Train", "processed table has no target column")
	}
	clf, err := kind.newClassifier(m.RandomState)
	if err != nil {
		return nil, err
	}

	X := p.Features()
	n, _ := X.Dims()
	y := mat.NewDense(n, 1, append([]float64(nil), p.Target...))

	split, err := model_selection.TrainTestSplit(n, m.TestSize, m.RandomState)
	if err != nil {
		return nil, err
	}
	xTrain, yTrain := model_selection.Rows(X, split.TrainIndices), model_selection.Rows(y, split.TrainIndices)
	xTest := model_selection.Rows(X, split.TestIndices)
	yTest := model_selection.Values(p.Target, split.TestIndices)
	logger.Info("Training model",
		log.TrainSizeKey, len(split.TrainIndices),
		log.TestSizeKey, len(split.TestIndices),
		log.FeaturesKey, len(p.FeatureNames()),
		log.RandomSeedKey, m.RandomState,
	)

	result := &Metrics{Kind: kind, TrainSize: len(split.TrainIndices), TestSize: len(split.TestIndices)}
	if len(grid) > 0 {
		gs := model_selection.NewGridSearchCV(clf, grid)
		gs.CV = model_selection.NewStratifiedKFold(m.CVFolds, false, 0)
		gs.NJobs = m.NJobs
		if err := gs.Fit(xTrain, yTrain); err != nil {
			return nil, errors.Wrap(err, "grid search")
		}
		clf = gs.BestEstimator
		result.BestParams = gs.BestParams
		result.CVScore = gs.BestScore
	} else if err := clf.Fit(xTrain, yTrain); err != nil {
		return nil, err
	}

	m.Kind = kind
	m.Classifier = clf
	m.Features = p.FeatureNames()
	m.Target = p.TargetColumn
	m.Classes = m.classNames(clf.Classes())
	m.CreatedAt = time.Now()

	if err := m.evaluate(result, xTest, yTest); err != nil {
		return nil, err
	}
	result.DurationMs = time.Since(start).Milliseconds()
	m.Metrics = result

	logger.Info("Model trained",
		log.AccuracyKey, result.Accuracy,
		log.AUCKey, result.AUC,
		log.LogLossKey, result.LogLoss,
		log.HyperParamsKey, result.BestParams,
		log.DurationMsKey, result.DurationMs,
	)
	logger.Info("Classification report", log.ReportKey, result.Report.String())
	return &HeldOut{X: xTest, Y: yTest}, nil
}

// evaluate fills the held-out scores of result.
func (m *Model) evaluate(result *Metrics, X *mat.Dense, y []float64) error {
	pred, err := m.Predict(X)
	if err != nil {
		return err
	}
	yTrue := mat.NewVecDense(len(y), append([]float64(nil), y...))
	yPred := mat.NewVecDense(len(pred), pred)

	if result.Accuracy, err = metrics.Accuracy(yTrue, yPred); err != nil {
		return err
	}
	if result.Report, err = metrics.ClassificationReport(yTrue, yPred, m.Classifier.Classes(), m.Classes); err != nil {
		return err
	}
	if yBin, score, err := m.positiveScores(X, y); err == nil {
		// テスト側に片方のクラスしか無い場合は AUC を出さない
		if auc, err := metrics.AUC(yBin, score); err == nil {
			result.AUC = auc
		}
		if loss, err := metrics.BinaryLogLoss(yBin, score); err == nil {
			result.LogLoss = loss
		}
	}
	return nil
}

// positiveScores returns y as 0/1 against the last class code and the
// predicted probability of that class.
func (m *Model) positiveScores(X mat.Matrix, y []float64) (*mat.VecDense, *mat.VecDense, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, nil, err
	}
	classes := m.Classifier.Classes()
	pos := len(classes) - 1
	yBin := mat.NewVecDense(len(y), nil)
	for i, v := range y {
		if int(v) == classes[pos] {
			yBin.SetVec(i, 1)
		}
	}
	return yBin, mat.NewVecDense(len(y), mat.Col(nil, pos, proba)), nil
}

func (m *Model) classNames(codes []int) []string {
	var enc *preprocessing.LabelEncoder
	if m.Processor != nil {
		enc = m.Processor.TargetEncoder()
	}
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = strconv.Itoa(c)
		if enc != nil {
			if name, err := enc.InverseTransform(c); err == nil {
				names[i] = name
			}
		}
	}
	return names
}

// Predict returns the predicted class code of every row of X.
func (m *Model) Predict(X mat.Matrix) ([]float64, error) {
	if m.Classifier == nil {
		return nil, errors.ErrNoModel
	}
	pred, err := m.Classifier.Predict(X)
	if err != nil {
		return nil, err
	}
	return mat.Col(nil, 0, pred), nil
}

// PredictProba returns one probability column per class code.
func (m *Model) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if m.Classifier == nil {
		return nil, errors.ErrNoModel
	}
	proba, err := m.Classifier.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(proba), nil
}

// PredictRecord preprocesses a single record with the persisted processor
// and classifies it. Missing feature values are imputed the same way as in
// training; an unseen category is a validation error.
func (m *Model) PredictRecord(record map[string]any) (*Prediction, error) {
	if m.Classifier == nil || m.Processor == nil {
		return nil, errors.ErrNoModel
	}
	t, err := dataset.FromRecord(record, dataset.Schema{Numeric: m.Processor.Numeric})
	if err != nil {
		return nil, err
	}
	processed, err := m.Processor.Transform(t)
	if err != nil {
		return nil, err
	}
	X := processed.Features()

	pred, err := m.Predict(X)
	if err != nil {
		return nil, err
	}
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}

	code := int(pred[0])
	out := &Prediction{Code: code, Label: strconv.Itoa(code), Probabilities: make(map[string]float64, len(m.Classes))}
	for j, c := range m.Classifier.Classes() {
		name := m.Classes[j]
		out.Probabilities[name] = proba.At(0, j)
		if c == code {
			out.Label = name
			out.Probability = proba.At(0, j)
		}
	}
	m.logger.Info("Predicted record",
		log.OperationKey, log.OperationPredict,
		log.PhaseKey, log.PhaseInference,
		"prediction", out.Label,
	)
	return out, nil
}

// Save writes the model bundle to path, replacing any previous file.
func (m *Model) Save(path string) error {
	if m.Classifier == nil {
		return errors.ErrNoModel
	}
	b := Bundle{
		Kind:       m.Kind,
		Classifier: m.Classifier,
		Processor:  m.Processor,
		Features:   m.Features,
		Target:     m.Target,
		Classes:    m.Classes,
		Metrics:    m.Metrics,
		CreatedAt:  m.CreatedAt,
	}
	if err := model.SaveModel(&b, path); err != nil {
		return err
	}
	m.logger.Info("Model saved", log.PathKey, path, log.ModelKindKey, string(m.Kind))
	return nil
}

// Load replaces the model with the bundle stored at path. A missing file
// yields ErrModelFileNotFound.
func (m *Model) Load(path string) error {
	var b Bundle
	if err := model.LoadModel(&b, path); err != nil {
		return err
	}
	if b.Classifier == nil {
		return errors.NewModelError("Model.Load", "bundle", errors.ErrNoModel)
	}
	m.Kind = b.Kind
	m.Classifier = b.Classifier
	m.Processor = b.Processor
	m.Features = b.Features
	m.Target = b.Target
	m.Classes = b.Classes
	m.Metrics = b.Metrics
	m.CreatedAt = b.CreatedAt
	m.logger.Info("Model loaded", log.PathKey, path, log.ModelKindKey, string(m.Kind))
	return nil
}
