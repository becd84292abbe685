// Package pipeline runs the configured preprocessing and training steps on
// an uploaded table.
package pipeline

import (
	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/internal/config"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
	"github.com/YuminosukeSato/strokeguard/predictor"
	"github.com/YuminosukeSato/strokeguard/preprocessing"
	"github.com/YuminosukeSato/strokeguard/sklearn/model_selection"
)

// Train selects the configured columns of t, fits a new processor on them
// and trains a model of kind. The returned HeldOut is the test partition.
func Train(cfg *config.Config, t *dataset.Table, kind predictor.Kind, grid model_selection.ParamGrid) (*predictor.Model, *predictor.HeldOut, error) {
	if err := dataset.RequireColumns(t, cfg.Columns()...); err != nil {
		return nil, nil, err
	}
	selected, err := t.Select(cfg.Columns())
	if err != nil {
		return nil, nil, err
	}

	proc := preprocessing.NewProcessor(preprocessing.WithTargetClasses(cfg.TargetClasses))
	processed, err := proc.Process(selected, cfg.TargetColumn)
	if err != nil {
		return nil, nil, err
	}

	m := predictor.New(proc,
		predictor.WithTestSize(cfg.TestSize),
		predictor.WithRandomState(cfg.RandomState),
		predictor.WithCVFolds(cfg.CVFolds),
	)
	heldOut, err := m.Train(processed, kind, grid)
	if err != nil {
		return nil, nil, err
	}
	log.GetLoggerWithName("pipeline").Debug("Pipeline finished",
		log.ModelKindKey, string(kind),
		log.FeaturesKey, len(m.Features),
	)
	return m, heldOut, nil
}
