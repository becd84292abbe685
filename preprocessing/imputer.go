package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// Imputation strategies.
const (
	StrategyMean         = "mean"
	StrategyMostFrequent = "most_frequent"
)

// Imputer stores one fill value per column: the mean of the observed values
// for numeric columns, the most frequent value for categorical columns.
type Imputer struct {
	Means map[string]float64
	Modes map[string]string
}

// NewImputer returns an empty Imputer.
func NewImputer() *Imputer {
	return &Imputer{
		Means: make(map[string]float64),
		Modes: make(map[string]string),
	}
}

// FitNumeric learns the mean of the non-NaN entries of values.
func (im *Imputer) FitNumeric(col string, values []float64) error {
	observed := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			observed = append(observed, v)
		}
	}
	if len(observed) == 0 {
		return errors.NewValidationError(col, "column has no observed values", len(values))
	}
	im.Means[col] = stat.Mean(observed, nil)
	return nil
}

// FitCategorical learns the most frequent non-missing value. Ties go to the
// value encountered first.
func (im *Imputer) FitCategorical(col string, values []string, missing []bool) error {
	counts := make(map[string]int)
	var order []string
	for i, v := range values {
		if missing[i] {
			continue
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	if len(order) == 0 {
		return errors.NewValidationError(col, "column has no observed values", len(values))
	}

	mode := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[mode] {
			mode = v
		}
	}
	im.Modes[col] = mode
	return nil
}

// FillNumeric returns a copy of values with NaN replaced by the fitted mean
// and the number of replaced entries.
func (im *Imputer) FillNumeric(col string, values []float64) ([]float64, int, error) {
	fill, ok := im.Means[col]
	if !ok {
		return nil, 0, errors.NewNotFittedError("Imputer", "FillNumeric("+col+")")
	}
	out := make([]float64, len(values))
	n := 0
	for i, v := range values {
		if math.IsNaN(v) {
			v = fill
			n++
		}
		out[i] = v
	}
	return out, n, nil
}

// FillCategorical returns a copy of values with missing entries replaced by
// the fitted mode and the number of replaced entries.
func (im *Imputer) FillCategorical(col string, values []string, missing []bool) ([]string, int, error) {
	fill, ok := im.Modes[col]
	if !ok {
		return nil, 0, errors.NewNotFittedError("Imputer", "FillCategorical("+col+")")
	}
	out := make([]string, len(values))
	n := 0
	for i, v := range values {
		if missing[i] {
			v = fill
			n++
		}
		out[i] = v
	}
	return out, n, nil
}
