package preprocessing

import (
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// LabelEncoder maps the categories of one column to integer codes 0..k-1.
//
// Codes are assigned in first-seen order. Preset fixes the order up front
// and freezes the category set, so that for example the positive class of a
// binary target is always code 1. The fitted mapping is persisted with the
// model and reused unchanged at prediction time.
type LabelEncoder struct {
	// Column is used in error messages.
	Column string

	// Classes holds the categories; the code of Classes[i] is i.
	Classes []string

	// Frozen rejects categories that are not already in Classes during Fit.
	Frozen bool
}

// NewLabelEncoder returns an empty encoder for column.
func NewLabelEncoder(column string) *LabelEncoder {
	return &LabelEncoder{Column: column}
}

// Preset fixes the categories and their codes.
func (e *LabelEncoder) Preset(categories []string) *LabelEncoder {
	e.Classes = append([]string(nil), categories...)
	e.Frozen = true
	return e
}

// Code returns the code of category, or -1.
func (e *LabelEncoder) Code(category string) int {
	for i, c := range e.Classes {
		if c == category {
			return i
		}
	}
	return -1
}

// Fit learns the categories of values. On a frozen encoder it only checks
// that every value is known.
func (e *LabelEncoder) Fit(values []string) error {
	if !e.Frozen {
		e.Classes = e.Classes[:0]
	}
	for _, v := range values {
		if e.Code(v) >= 0 {
			continue
		}
		if e.Frozen {
			return errors.NewValidationError(e.Column, "unknown category (expected one of the configured classes)", v)
		}
		e.Classes = append(e.Classes, v)
	}
	return nil
}

// Transform maps values to codes. A category not seen during Fit is a
// ValidationError.
func (e *LabelEncoder) Transform(values []string) ([]float64, error) {
	if len(e.Classes) == 0 {
		return nil, errors.NewNotFittedError("LabelEncoder", "Transform")
	}
	out := make([]float64, len(values))
	for i, v := range values {
		code := e.Code(v)
		if code < 0 {
			return nil, errors.NewValidationError(e.Column, "category not seen during training", v)
		}
		out[i] = float64(code)
	}
	return out, nil
}

// FitTransform は Fit と Transform を続けて実行する
func (e *LabelEncoder) FitTransform(values []string) ([]float64, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.Transform(values)
}

// InverseTransform returns the category of code.
func (e *LabelEncoder) InverseTransform(code int) (string, error) {
	if code < 0 || code >= len(e.Classes) {
		return "", errors.NewValidationError(e.Column, "code out of range", code)
	}
	return e.Classes[code], nil
}
