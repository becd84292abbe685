// Package dataset loads tabular patient records into memory.
//
// A Table wraps a gota DataFrame. Columns are typed once at load time:
// integer and float columns are numeric, everything else is categorical.
// Missing cells are kept as NaN elements so that later stages can decide how
// to fill them.
package dataset

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
)

// MissingValues are the raw cell contents treated as missing.
var MissingValues = []string{"", "NA", "NaN", "<nil>"}

// Schema carries the typing hints applied while loading.
type Schema struct {
	// Numeric columns are always parsed as float. Cells that cannot be
	// parsed become missing values.
	Numeric []string
}

func (s Schema) isNumeric(col string) bool {
	for _, c := range s.Numeric {
		if c == col {
			return true
		}
	}
	return false
}

// Table is an immutable in-memory record table.
type Table struct {
	df dataframe.DataFrame
}

// Load reads a CSV with a header row from r.
func Load(r io.Reader, schema Schema) (*Table, error) {
	types := make(map[string]series.Type, len(schema.Numeric))
	for _, c := range schema.Numeric {
		types[c] = series.Float
	}

	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.NaNValues(MissingValues),
		dataframe.WithTypes(types),
	)
	if df.Err != nil {
		return nil, errors.NewValueError("dataset.Load", fmt.Sprintf("cannot parse CSV: %v", df.Err))
	}
	if df.Nrow() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "dataset.Load")
	}

	t := &Table{df: df}
	log.GetLoggerWithName("dataset").Debug("Loaded table",
		log.SamplesKey, t.Nrow(),
		log.ColumnsKey, t.Names(),
	)
	return t, nil
}

// LoadFile opens path and calls Load.
func LoadFile(path string, schema Schema) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return Load(f, schema)
}

// FromDataFrame wraps an existing DataFrame.
func FromDataFrame(df dataframe.DataFrame) (*Table, error) {
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "dataset.FromDataFrame")
	}
	return &Table{df: df}, nil
}

// FromRecord builds a one-row table from feature values, as submitted by a
// form or a JSON body. Numbers become numeric columns; strings become
// categorical columns unless the schema declares them numeric. Empty strings
// and nil are missing.
func FromRecord(record map[string]any, schema Schema) (*Table, error) {
	if len(record) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "dataset.FromRecord")
	}

	names := make([]string, 0, len(record))
	for k := range record {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := make([]series.Series, 0, len(names))
	for _, name := range names {
		s, err := recordSeries(name, record[name], schema.isNumeric(name))
		if err != nil {
			return nil, err
		}
		cols = append(cols, s)
	}
	return FromDataFrame(dataframe.New(cols...))
}

func recordSeries(name string, v any, numeric bool) (series.Series, error) {
	switch x := v.(type) {
	case nil:
		if numeric {
			return series.New([]float64{math.NaN()}, series.Float, name), nil
		}
		return series.New([]string{"NaN"}, series.String, name), nil
	case float64:
		return series.New([]float64{x}, series.Float, name), nil
	case float32:
		return series.New([]float64{float64(x)}, series.Float, name), nil
	case int:
		return series.New([]float64{float64(x)}, series.Float, name), nil
	case int64:
		return series.New([]float64{float64(x)}, series.Float, name), nil
	case bool:
		return series.New([]string{strconv.FormatBool(x)}, series.String, name), nil
	case string:
		if numeric {
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				f = math.NaN()
			}
			return series.New([]float64{f}, series.Float, name), nil
		}
		if isMissing(x) {
			x = "NaN"
		}
		return series.New([]string{x}, series.String, name), nil
	default:
		return series.Series{}, errors.NewValidationError(name, "unsupported value type", fmt.Sprintf("%T", v))
	}
}

func isMissing(s string) bool {
	for _, m := range MissingValues {
		if s == m {
			return true
		}
	}
	return false
}

// DataFrame returns the underlying gota DataFrame.
func (t *Table) DataFrame() dataframe.DataFrame { return t.df }

// Names returns the column names in file order.
func (t *Table) Names() []string { return t.df.Names() }

// Nrow returns the number of records.
func (t *Table) Nrow() int { return t.df.Nrow() }

// Has reports whether col exists.
func (t *Table) Has(col string) bool {
	for _, n := range t.df.Names() {
		if n == col {
			return true
		}
	}
	return false
}

// IsNumeric reports whether col was typed as int or float.
func (t *Table) IsNumeric(col string) bool {
	if !t.Has(col) {
		return false
	}
	switch t.df.Col(col).Type() {
	case series.Float, series.Int:
		return true
	default:
		return false
	}
}

// Float returns col as floats. Missing or unparsable cells are NaN.
func (t *Table) Float(col string) ([]float64, error) {
	if !t.Has(col) {
		return nil, errors.NewMissingColumnsError([]string{col})
	}
	return t.df.Col(col).Float(), nil
}

// Strings returns col as text. Numeric values are formatted without
// trailing zeros; missing cells are "".
func (t *Table) Strings(col string) ([]string, error) {
	if !t.Has(col) {
		return nil, errors.NewMissingColumnsError([]string{col})
	}
	s := t.df.Col(col)
	nan := s.IsNaN()
	out := make([]string, s.Len())
	if t.IsNumeric(col) {
		for i, v := range s.Float() {
			if !nan[i] {
				out[i] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		return out, nil
	}
	for i, v := range s.Records() {
		if !nan[i] {
			out[i] = v
		}
	}
	return out, nil
}

// Missing returns a mask of missing cells in col.
func (t *Table) Missing(col string) ([]bool, error) {
	if !t.Has(col) {
		return nil, errors.NewMissingColumnsError([]string{col})
	}
	return t.df.Col(col).IsNaN(), nil
}

// Select returns a table with only cols, in that order. Every absent column
// is reported in a single MissingColumnsError.
func (t *Table) Select(cols []string) (*Table, error) {
	if err := RequireColumns(t, cols...); err != nil {
		return nil, err
	}
	df := t.df.Select(cols)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "dataset.Select")
	}
	return &Table{df: df}, nil
}

// Subset returns the rows at the given indexes, in that order.
func (t *Table) Subset(rows []int) (*Table, error) {
	df := t.df.Subset(rows)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "dataset.Subset")
	}
	return &Table{df: df}, nil
}

// Head returns the header and up to n rows rendered as text.
func (t *Table) Head(n int) (header []string, rows [][]string) {
	records := t.df.Records()
	if len(records) == 0 {
		return nil, nil
	}
	header = records[0]
	body := records[1:]
	if n < len(body) {
		body = body[:n]
	}
	return header, body
}

// RequireColumns fails with a MissingColumnsError naming every column of
// cols that t lacks.
func RequireColumns(t *Table, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return errors.NewMissingColumnsError(missing)
	}
	return nil
}
