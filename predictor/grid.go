package predictor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/sklearn/model_selection"
)

// MaxCandidates bounds the size of a hyperparameter grid.
const MaxCandidates = 256

type paramType int

const (
	intParam paramType = iota
	floatParam
	stringParam
	boolParam
	gammaParam // a choice string or a positive float
)

// paramRule describes the accepted values of one hyperparameter.
type paramRule struct {
	typ     paramType
	min     float64
	max     float64
	openMin bool // min itself is excluded
	choices []string
	// noneAs is the value used for null or None, e.g. max_depth: None
	// means unlimited. nil rejects them.
	noneAs interface{}
}

var (
	criteria    = []string{"gini", "entropy"}
	maxFeatures = []string{"sqrt", "log2", "all"}
	kernels     = []string{"rbf", "linear", "poly", "sigmoid"}
	gammaModes  = []string{"scale", "auto"}
)

// schemas lists the tunable hyperparameters of each kind.
var schemas = map[Kind]map[string]paramRule{
	RandomForest: {
		"n_estimators":      {typ: intParam, min: 1, max: 1000},
		"criterion":         {typ: stringParam, choices: criteria},
		"max_depth":         {typ: intParam, min: 0, max: 100, noneAs: 0},
		"min_samples_split": {typ: intParam, min: 2, max: 1000},
		"min_samples_leaf":  {typ: intParam, min: 1, max: 1000},
		"max_features":      {typ: stringParam, choices: maxFeatures},
		"bootstrap":         {typ: boolParam},
	},
	SVM: {
		"C":      {typ: floatParam, min: 0, max: 1e6, openMin: true},
		"kernel": {typ: stringParam, choices: kernels},
		"gamma":  {typ: gammaParam, min: 0, max: 1e6, openMin: true, choices: gammaModes},
		"degree": {typ: intParam, min: 1, max: 10},
		"coef0":  {typ: floatParam, min: -1e3, max: 1e3},
		"tol":    {typ: floatParam, min: 0, max: 1, openMin: true},
	},
	GradientBoosting: {
		"n_estimators":      {typ: intParam, min: 1, max: 1000},
		"learning_rate":     {typ: floatParam, min: 0, max: 1, openMin: true},
		"max_depth":         {typ: intParam, min: 1, max: 32},
		"min_samples_split": {typ: intParam, min: 2, max: 1000},
		"min_samples_leaf":  {typ: intParam, min: 1, max: 1000},
		"subsample":         {typ: floatParam, min: 0, max: 1, openMin: true},
		"reg_lambda":        {typ: floatParam, min: 0, max: 1e3},
	},
}

// TunableParams returns the sorted hyperparameter names accepted for k.
func TunableParams(k Kind) []string {
	names := make([]string, 0, len(schemas[k]))
	for name := range schemas[k] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseGrid reads a mapping of hyperparameter name to candidate values for
// kind k. The text may be JSON or YAML, including flow style such as
// {'n_estimators': [50, 100]}. A scalar value is a one-element list. Blank
// text yields a nil grid. For RandomForest, max_depth accepts null or None
// ({'max_depth': [None, 10]}) meaning unlimited, stored as 0.
//
// Every name must be tunable for k and every value must have the declared
// type and range; the text is only ever decoded as data.
func ParseGrid(k Kind, text string) (model_selection.ParamGrid, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	schema, ok := schemas[k]
	if !ok {
		return nil, errors.NewUnsupportedModelError(string(k), kindNames())
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, errors.NewValidationError("params", "must be a mapping of name to values: "+err.Error(), text)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	grid := make(model_selection.ParamGrid, len(raw))
	candidates := 1
	for name, v := range raw {
		rule, ok := schema[name]
		if !ok {
			return nil, errors.NewValidationError(name,
				fmt.Sprintf("not tunable for %s (allowed: %s)", k, strings.Join(TunableParams(k), ", ")), v)
		}
		values, ok := v.([]interface{})
		if !ok {
			values = []interface{}{v}
		}
		if len(values) == 0 {
			return nil, errors.NewValidationError(name, "needs at least one value", v)
		}
		for i, value := range values {
			normalized, err := rule.normalize(name, value)
			if err != nil {
				return nil, err
			}
			values[i] = normalized
		}
		grid[name] = values
		candidates *= len(values)
		if candidates > MaxCandidates {
			return nil, errors.NewValidationError("params",
				fmt.Sprintf("grid has more than %d candidates", MaxCandidates), raw)
		}
	}
	return grid, nil
}

// normalize converts a decoded value to the Go type the estimator expects
// and checks its range.
func (s paramRule) normalize(name string, v interface{}) (interface{}, error) {
	if isNone(v) {
		if s.noneAs == nil {
			return nil, errors.NewValidationError(name, "does not accept None", v)
		}
		return s.noneAs, nil
	}
	switch s.typ {
	case intParam:
		n, err := model.ParamInt(name, v)
		if err != nil {
			return nil, err
		}
		return n, s.checkRange(name, float64(n))
	case floatParam:
		f, err := model.ParamFloat(name, v)
		if err != nil {
			return nil, err
		}
		return f, s.checkRange(name, f)
	case stringParam:
		str, err := model.ParamString(name, v)
		if err != nil {
			return nil, err
		}
		return str, s.checkChoice(name, str)
	case boolParam:
		return model.ParamBool(name, v)
	case gammaParam:
		if str, ok := v.(string); ok {
			return str, s.checkChoice(name, str)
		}
		f, err := model.ParamFloat(name, v)
		if err != nil {
			return nil, err
		}
		return f, s.checkRange(name, f)
	}
	return nil, errors.Newf("unknown parameter type %d", s.typ)
}

// isNone reports whether v is YAML null or a Python-style None.
func isNone(v interface{}) bool {
	if v == nil {
		return true
	}
	str, ok := v.(string)
	return ok && (str == "None" || str == "none")
}

func (s paramRule) checkRange(name string, f float64) error {
	if math.IsNaN(f) || f > s.max || f < s.min || (s.openMin && f == s.min) {
		lo := "["
		if s.openMin {
			lo = "("
		}
		return errors.NewValidationError(name, fmt.Sprintf("must be in %s%g, %g]", lo, s.min, s.max), f)
	}
	return nil
}

func (s paramRule) checkChoice(name, v string) error {
	for _, c := range s.choices {
		if v == c {
			return nil
		}
	}
	return errors.NewValidationError(name, "must be one of "+strings.Join(s.choices, ", "), v)
}
