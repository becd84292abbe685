package predictor

import (
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/graphs"
	"github.com/YuminosukeSato/strokeguard/metrics"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
)

// Keys of the map returned by GeneratePredictionGraphs.
const (
	GraphConfusionMatrix = "confusion_matrix"
	GraphROCCurve        = "roc_curve"
)

// GeneratePredictionGraphs renders the confusion matrix and the ROC curve
// of the model on heldOut into dir and returns the file names keyed by
// GraphConfusionMatrix and GraphROCCurve. Files from earlier runs with the
// cm_ and roc_ prefixes are deleted first.
//
// The ROC curve scores the last class code against the rest.
func (m *Model) GeneratePredictionGraphs(heldOut *HeldOut, dir string) (map[string]string, error) {
	if m.Classifier == nil {
		return nil, errors.ErrNoModel
	}
	if heldOut == nil || heldOut.X == nil || len(heldOut.Y) == 0 {
		return nil, errors.Wrap(errors.ErrNoData, "GeneratePredictionGraphs")
	}
	logger := m.logger.With(log.OperationKey, log.OperationScore, log.PhaseKey, log.PhaseValidation)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create chart directory")
	}
	gen := graphs.NewGenerator(dir)
	gen.Logger = logger
	if _, err := gen.Cleanup(graphs.PrefixConfusionMatrix, graphs.PrefixROC); err != nil {
		return nil, err
	}

	pred, err := m.Predict(heldOut.X)
	if err != nil {
		return nil, err
	}
	yTrue := mat.NewVecDense(len(heldOut.Y), append([]float64(nil), heldOut.Y...))
	cm, err := metrics.ConfusionMatrix(yTrue, mat.NewVecDense(len(pred), pred), m.Classifier.Classes())
	if err != nil {
		return nil, err
	}

	yBin, score, err := m.positiveScores(heldOut.X, heldOut.Y)
	if err != nil {
		return nil, err
	}
	roc, err := metrics.ROCCurve(yBin, score)
	if err != nil {
		return nil, err
	}
	auc, err := metrics.AUC(yBin, score)
	if err != nil {
		return nil, err
	}

	out := map[string]string{
		GraphConfusionMatrix: graphs.ArtifactName(graphs.PrefixConfusionMatrix),
		GraphROCCurve:        graphs.ArtifactName(graphs.PrefixROC),
	}
	err = errors.SafeExecute("graphs.confusion_matrix", func() error {
		return graphs.ConfusionMatrixChart(cm, m.Classes, filepath.Join(dir, out[GraphConfusionMatrix]))
	})
	if err != nil {
		return nil, err
	}
	err = errors.SafeExecute("graphs.roc_curve", func() error {
		return graphs.ROCChart(roc.FPR, roc.TPR, auc, filepath.Join(dir, out[GraphROCCurve]))
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Generated evaluation charts",
		log.ArtifactKey, out,
		log.AUCKey, auc,
	)
	return out, nil
}
