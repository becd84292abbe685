package model_selection

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/core/parallel"
	"github.com/YuminosukeSato/strokeguard/metrics"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
)

// ParamGrid maps a parameter name to the values to try.
type ParamGrid map[string][]interface{}

// Candidates returns the cartesian product of the grid. Names are visited
// in sorted order and values in the given order, so the sequence is stable.
func (g ParamGrid) Candidates() []map[string]interface{} {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []map[string]interface{}{{}}
	for _, name := range names {
		var next []map[string]interface{}
		for _, base := range out {
			for _, v := range g[name] {
				c := make(map[string]interface{}, len(base)+1)
				for k, bv := range base {
					c[k] = bv
				}
				c[name] = v
				next = append(next, c)
			}
		}
		out = next
	}
	return out
}

// CandidateResult is the cross-validated score of one parameter set.
type CandidateResult struct {
	Params     map[string]interface{} `json:"params"`
	FoldScores []float64              `json:"fold_scores"`
	MeanScore  float64                `json:"mean_score"`
	StdScore   float64                `json:"std_score"`
}

// GridSearchCV scores every grid candidate by mean cross-validated
// accuracy and refits the best one on all data passed to Fit.
type GridSearchCV struct {
	Estimator model.Classifier
	Grid      ParamGrid
	CV        Splitter
	NJobs     int // candidates evaluated concurrently, <= 0 means one per CPU

	BestParams    map[string]interface{}
	BestScore     float64
	BestIndex     int
	BestEstimator model.Classifier
	Results       []CandidateResult
}

// NewGridSearchCV creates a search with stratified 5-fold splitting.
func NewGridSearchCV(estimator model.Classifier, grid ParamGrid) *GridSearchCV {
	return &GridSearchCV{
		Estimator: estimator,
		Grid:      grid,
		CV:        NewStratifiedKFold(5, false, 0),
	}
}

// Fit evaluates all candidates. Ties on the mean score go to the earlier
// candidate.
func (gs *GridSearchCV) Fit(X, y mat.Matrix) error {
	start := time.Now()
	logger := log.GetLoggerWithName("model_selection").With(log.OperationKey, log.OperationFit)

	candidates := gs.Grid.Candidates()
	// 全候補のパラメータを先に検証する
	for _, params := range candidates {
		if err := gs.Estimator.Clone().SetParams(params); err != nil {
			return err
		}
	}

	folds, err := gs.CV.Split(X, y)
	if err != nil {
		return err
	}

	results := make([]CandidateResult, len(candidates))
	err = parallel.ForEach(len(candidates), gs.NJobs, func(c int) error {
		scores := make([]float64, len(folds))
		for f, fold := range folds {
			est := gs.Estimator.Clone()
			if err := est.SetParams(candidates[c]); err != nil {
				return err
			}
			if err := est.Fit(Rows(X, fold.TrainIndices), Rows(y, fold.TrainIndices)); err != nil {
				return errors.Wrapf(err, "candidate %d fold %d", c, f)
			}
			pred, err := est.Predict(Rows(X, fold.TestIndices))
			if err != nil {
				return err
			}
			yTest := Rows(y, fold.TestIndices)
			n, _ := yTest.Dims()
			scores[f], err = metrics.Accuracy(
				mat.NewVecDense(n, mat.Col(nil, 0, yTest)),
				mat.NewVecDense(n, mat.Col(nil, 0, pred)),
			)
			if err != nil {
				return err
			}
		}
		results[c] = CandidateResult{Params: candidates[c], FoldScores: scores}
		results[c].MeanScore, results[c].StdScore = stat.PopMeanStdDev(scores, nil)
		return nil
	})
	if err != nil {
		return err
	}

	gs.Results = results
	gs.BestIndex = 0
	for c := range results {
		if results[c].MeanScore > results[gs.BestIndex].MeanScore {
			gs.BestIndex = c
		}
		logger.Debug("Scored candidate",
			log.HyperParamsKey, results[c].Params,
			log.CVScoreKey, results[c].MeanScore,
		)
	}
	gs.BestParams = results[gs.BestIndex].Params
	gs.BestScore = results[gs.BestIndex].MeanScore

	best := gs.Estimator.Clone()
	if err := best.SetParams(gs.BestParams); err != nil {
		return err
	}
	if err := best.Fit(X, y); err != nil {
		return err
	}
	gs.BestEstimator = best

	logger.Info("Grid search completed",
		log.CandidatesKey, len(candidates),
		log.FoldsKey, len(folds),
		log.HyperParamsKey, gs.BestParams,
		log.CVScoreKey, gs.BestScore,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}
