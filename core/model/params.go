package model

import (
	"math"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// Hyperparameter values arrive from Go callers as int/float64/string/bool
// and from JSON or YAML decoders as float64 or int. These helpers coerce
// them to the type a field needs and reject everything else.

// ParamInt converts v to an int. Floats are accepted when integral.
func ParamInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return int(x), nil
		}
	}
	return 0, errors.NewValidationError(name, "must be an integer", v)
}

// ParamFloat converts v to a float64.
func ParamFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			return x, nil
		}
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, errors.NewValidationError(name, "must be a number", v)
}

// ParamString asserts that v is a string.
func ParamString(name string, v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.NewValidationError(name, "must be a string", v)
}

// ParamBool asserts that v is a bool.
func ParamBool(name string, v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, errors.NewValidationError(name, "must be a boolean", v)
}

// UnknownParam is the error returned by SetParams for an unsupported key.
func UnknownParam(estimator, name string, v interface{}) error {
	return errors.NewValidationError(name, "unknown parameter for "+estimator, v)
}
