package preprocessing

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/core/model"
	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
)

// Processed is the numeric form of a table.
type Processed struct {
	// Columns names the columns of Data, in table order.
	Columns []string

	// Data holds one row per record.
	Data *mat.Dense

	// TargetColumn is "" when the table had no target.
	TargetColumn string

	// Target holds the encoded target, nil when there is none.
	Target []float64
}

// FeatureNames returns Columns without the target.
func (p *Processed) FeatureNames() []string {
	names := make([]string, 0, len(p.Columns))
	for _, c := range p.Columns {
		if c != p.TargetColumn {
			names = append(names, c)
		}
	}
	return names
}

// Features returns Data without the target column.
func (p *Processed) Features() *mat.Dense {
	r, _ := p.Data.Dims()
	names := p.FeatureNames()
	out := mat.NewDense(r, len(names), nil)
	j := 0
	for k, c := range p.Columns {
		if c == p.TargetColumn {
			continue
		}
		for i := 0; i < r; i++ {
			out.Set(i, j, p.Data.At(i, k))
		}
		j++
	}
	return out
}

// Processor runs missing-value imputation, categorical encoding and numeric
// scaling, in that order. Process fits every stage on the given table;
// Transform applies the fitted stages to new records.
//
// Encoded categorical columns keep their integer codes. Only columns that
// were numeric in the training table are scaled, and never the target.
type Processor struct {
	Columns       []string
	Target        string
	Numeric       []string
	Categorical   []string
	Imputer       *Imputer
	Encoders      map[string]*LabelEncoder
	Scaler        *StandardScaler
	TargetClasses []string

	State *model.StateManager
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithTargetClasses fixes the codes of a categorical target: classes[i] is
// encoded as i and any other label is rejected.
func WithTargetClasses(classes []string) ProcessorOption {
	return func(p *Processor) {
		p.TargetClasses = append([]string(nil), classes...)
	}
}

// NewProcessor returns an unfitted Processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{
		Imputer:  NewImputer(),
		Encoders: make(map[string]*LabelEncoder),
		Scaler:   NewStandardScaler(true, true),
		State:    model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsFitted reports whether Process has completed.
func (p *Processor) IsFitted() bool { return p.State.IsFitted() }

// TargetEncoder returns the encoder of a categorical target, or nil.
func (p *Processor) TargetEncoder() *LabelEncoder {
	if p.Target == "" {
		return nil
	}
	return p.Encoders[p.Target]
}

// FeatureNames returns the fitted columns without the target.
func (p *Processor) FeatureNames() []string {
	names := make([]string, 0, len(p.Columns))
	for _, c := range p.Columns {
		if c != p.Target {
			names = append(names, c)
		}
	}
	return names
}

// Process fits all stages on t and returns the transformed table. target
// may be "" when t has no label column.
func (p *Processor) Process(t *dataset.Table, target string) (*Processed, error) {
	start := time.Now()
	logger := log.GetLoggerWithName("preprocessing").With(log.OperationKey, log.OperationFitTransform)

	if t == nil || t.Nrow() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "Processor.Process")
	}
	if target != "" {
		if err := dataset.RequireColumns(t, target); err != nil {
			return nil, err
		}
	}

	p.Columns = append([]string(nil), t.Names()...)
	p.Target = target
	p.Numeric = p.Numeric[:0]
	p.Categorical = p.Categorical[:0]
	p.Imputer = NewImputer()
	p.Encoders = make(map[string]*LabelEncoder)
	p.Scaler = NewStandardScaler(true, true)

	if len(p.FeatureNames()) == 0 {
		return nil, errors.NewValidationError("columns", "table has no feature columns", p.Columns)
	}

	for _, col := range p.Columns {
		if t.IsNumeric(col) {
			p.Numeric = append(p.Numeric, col)
		} else {
			p.Categorical = append(p.Categorical, col)
		}
	}

	// 1. 欠損値補完
	for _, col := range p.Numeric {
		values, _ := t.Float(col)
		if err := p.Imputer.FitNumeric(col, values); err != nil {
			return nil, err
		}
	}
	for _, col := range p.Categorical {
		values, _ := t.Strings(col)
		missing, _ := t.Missing(col)
		if err := p.Imputer.FitCategorical(col, values, missing); err != nil {
			return nil, err
		}
	}

	// 2. カテゴリ変数のエンコード
	for _, col := range p.Categorical {
		enc := NewLabelEncoder(col)
		if col == target && len(p.TargetClasses) > 0 {
			enc.Preset(p.TargetClasses)
		}
		values, _ := t.Strings(col)
		missing, _ := t.Missing(col)
		filled, _, err := p.Imputer.FillCategorical(col, values, missing)
		if err != nil {
			return nil, err
		}
		if err := enc.Fit(filled); err != nil {
			return nil, err
		}
		p.Encoders[col] = enc
		logger.Debug("Encoded categorical column",
			log.ColumnKey, col,
			log.CategoriesKey, len(enc.Classes),
		)
	}

	// 3. 数値列のスケーリング（ターゲット列は除く）
	if scaled := p.scaledColumns(); len(scaled) > 0 {
		X := mat.NewDense(t.Nrow(), len(scaled), nil)
		for j, col := range scaled {
			values, _ := t.Float(col)
			filled, _, err := p.Imputer.FillNumeric(col, values)
			if err != nil {
				return nil, err
			}
			X.SetCol(j, filled)
		}
		if err := p.Scaler.Fit(X); err != nil {
			return nil, err
		}
	}

	p.State.SetDimensions(len(p.FeatureNames()), t.Nrow())
	p.State.SetFitted()

	out, err := p.apply(t, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Preprocessing completed",
		log.SamplesKey, t.Nrow(),
		log.FeaturesKey, len(p.FeatureNames()),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Transform applies the fitted imputation values, encoders and scaling
// statistics to t. The target column is optional. Columns of t that were
// not seen during Process are ignored.
func (p *Processor) Transform(t *dataset.Table) (*Processed, error) {
	if err := p.State.RequireFitted("Processor", "Transform"); err != nil {
		return nil, err
	}
	if t == nil || t.Nrow() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "Processor.Transform")
	}
	if err := dataset.RequireColumns(t, p.FeatureNames()...); err != nil {
		return nil, err
	}
	logger := log.GetLoggerWithName("preprocessing").With(log.OperationKey, log.OperationTransform)
	return p.apply(t, logger)
}

func (p *Processor) scaledColumns() []string {
	cols := make([]string, 0, len(p.Numeric))
	for _, c := range p.Numeric {
		if c != p.Target {
			cols = append(cols, c)
		}
	}
	return cols
}

func (p *Processor) isCategorical(col string) bool {
	_, ok := p.Encoders[col]
	return ok
}

func (p *Processor) apply(t *dataset.Table, logger log.Logger) (*Processed, error) {
	columns := make([]string, 0, len(p.Columns))
	for _, col := range p.Columns {
		if col == p.Target && !t.Has(col) {
			continue
		}
		columns = append(columns, col)
	}

	n := t.Nrow()
	out := &Processed{
		Columns: columns,
		Data:    mat.NewDense(n, len(columns), nil),
	}
	if p.Target != "" && t.Has(p.Target) {
		out.TargetColumn = p.Target
	}

	for j, col := range columns {
		var (
			values []float64
			filled int
			err    error
		)
		if p.isCategorical(col) {
			var raw []string
			raw, err = t.Strings(col)
			if err != nil {
				return nil, err
			}
			missing, _ := t.Missing(col)
			var cats []string
			cats, filled, err = p.Imputer.FillCategorical(col, raw, missing)
			if err != nil {
				return nil, err
			}
			if filled > 0 {
				logger.Info("Filled missing values",
					log.ColumnKey, col,
					log.StrategyKey, StrategyMostFrequent,
					log.FillValueKey, p.Imputer.Modes[col],
					log.MissingKey, filled,
				)
			}
			values, err = p.Encoders[col].Transform(cats)
			if err != nil {
				return nil, err
			}
		} else {
			var raw []float64
			raw, err = t.Float(col)
			if err != nil {
				return nil, err
			}
			values, filled, err = p.Imputer.FillNumeric(col, raw)
			if err != nil {
				return nil, err
			}
			if filled > 0 {
				logger.Info("Filled missing values",
					log.ColumnKey, col,
					log.StrategyKey, StrategyMean,
					log.FillValueKey, p.Imputer.Means[col],
					log.MissingKey, filled,
				)
			}
		}
		out.Data.SetCol(j, values)
		if col == out.TargetColumn {
			out.Target = append([]float64(nil), values...)
		}
	}

	if err := p.scale(out); err != nil {
		return nil, err
	}
	return out, nil
}

// scale standardizes the numeric feature columns of out in place.
func (p *Processor) scale(out *Processed) error {
	scaled := p.scaledColumns()
	if len(scaled) == 0 {
		return nil
	}
	index := make(map[string]int, len(out.Columns))
	for j, c := range out.Columns {
		index[c] = j
	}

	n, _ := out.Data.Dims()
	X := mat.NewDense(n, len(scaled), nil)
	col := make([]float64, n)
	for k, c := range scaled {
		mat.Col(col, index[c], out.Data)
		X.SetCol(k, col)
	}
	Xs, err := p.Scaler.Transform(X)
	if err != nil {
		return err
	}
	for k, c := range scaled {
		mat.Col(col, k, Xs)
		out.Data.SetCol(index[c], col)
	}
	log.GetLoggerWithName("preprocessing").Debug("Scaled numeric columns", log.ColumnsKey, scaled)
	return nil
}
