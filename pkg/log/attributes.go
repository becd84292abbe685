// Package log defines standard attribute keys for strokeguard operations.
//
// Keys follow a dotted, hierarchical convention ("model.name",
// "data.samples") so log lines from the preprocessing pipeline, the model
// wrapper, the chart generator and the web layer can be filtered the same way.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the estimator type.
	// Examples: "RandomForestClassifier", "SVC", "StandardScaler"
	ModelNameKey = "model.name"

	// ModelKindKey is the user-facing model kind selected for training.
	// Examples: "RandomForest", "SVM", "GradientBoosting"
	ModelKindKey = "model.kind"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is emitting the entry.
	// Set automatically by GetLoggerWithName.
	ComponentKey = "component"

	// PhaseKey indicates the phase of the model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of rows being processed.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of feature columns.
	FeaturesKey = "data.features"

	// ColumnKey names the column an entry is about.
	ColumnKey = "data.column"

	// ColumnsKey lists several columns.
	ColumnsKey = "data.columns"

	// StrategyKey names the imputation strategy applied ("mean", "most_frequent").
	StrategyKey = "data.strategy"

	// FillValueKey records the value used to fill missing entries.
	FillValueKey = "data.fill_value"

	// MissingKey counts missing entries.
	MissingKey = "data.missing"

	// CategoriesKey counts distinct categories seen by an encoder.
	CategoriesKey = "data.categories"

	// TrainSizeKey and TestSizeKey record the split sizes.
	TrainSizeKey = "data.train_size"
	TestSizeKey  = "data.test_size"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records held-out accuracy, range [0.0, 1.0].
	AccuracyKey = "metrics.accuracy"

	// AUCKey records the area under the ROC curve.
	AUCKey = "metrics.auc"

	// LogLossKey records the binary log loss on held-out data.
	LogLossKey = "metrics.log_loss"

	// CVScoreKey records the mean cross-validated score of the best candidate.
	CVScoreKey = "metrics.cv_score"

	// ReportKey carries a rendered classification report.
	ReportKey = "metrics.report"

	// CandidatesKey counts grid-search candidates.
	CandidatesKey = "search.candidates"

	// FoldsKey counts cross-validation folds.
	FoldsKey = "search.folds"
)

// Hyperparameters and Configuration
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// PathKey records a filesystem path (model file, upload, config).
	PathKey = "file.path"
)

// Artifacts
const (
	// ArtifactKey names a generated chart file.
	ArtifactKey = "artifact.file"

	// ChartKey names the chart kind being rendered.
	ChartKey = "artifact.chart"
)

// HTTP
const (
	RouteKey     = "http.route"
	MethodKey    = "http.method"
	StatusKey    = "http.status"
	SessionIDKey = "http.session_id"
	ClientIPKey  = "http.client_ip"
)

// Error Context
const (
	// ErrorKey holds the error message of a failed operation.
	ErrorKey = "error"

	// StacktraceKey contains the stack recorded by cockroachdb/errors.
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
)
