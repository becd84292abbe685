// Package predictor trains, evaluates, persists and applies the stroke
// diagnosis classifier.
//
// A Model couples a fitted preprocessing.Processor with one of the
// supported classifiers, so the encoders and scaling statistics learned at
// training time are the ones applied at prediction time.
package predictor

import (
	"strings"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/sklearn/ensemble"
	"github.com/YuminosukeSato/strokeguard/sklearn/svm"
)

// Kind names a supported classifier.
type Kind string

// Supported kinds.
const (
	RandomForest     Kind = "RandomForest"
	SVM              Kind = "SVM"
	GradientBoosting Kind = "GradientBoosting"
)

// Kinds lists the supported kinds in display order.
var Kinds = []Kind{RandomForest, SVM, GradientBoosting}

func kindNames() []string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = string(k)
	}
	return names
}

// ParseKind resolves a kind name, ignoring case. "SupportVectorMachine" is
// accepted for SVM.
func ParseKind(s string) (Kind, error) {
	name := strings.TrimSpace(s)
	if strings.EqualFold(name, "SupportVectorMachine") {
		return SVM, nil
	}
	for _, k := range Kinds {
		if strings.EqualFold(name, string(k)) {
			return k, nil
		}
	}
	return "", errors.NewUnsupportedModelError(s, kindNames())
}

// newClassifier returns an unfitted classifier of kind k seeded with seed.
func (k Kind) newClassifier(seed int64) (model.Classifier, error) {
	switch k {
	case RandomForest:
		return ensemble.NewRandomForestClassifier(ensemble.WithForestRandomState(seed)), nil
	case SVM:
		return svm.NewSVC(svm.WithProbability(true)), nil
	case GradientBoosting:
		return ensemble.NewGradientBoostingClassifier(ensemble.WithBoostingRandomState(seed)), nil
	default:
		return nil, errors.NewUnsupportedModelError(string(k), kindNames())
	}
}
