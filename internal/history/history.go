// Package history records training runs in PostgreSQL. A nil *Store is a
// valid, disabled store: Record does nothing and List returns no runs.
package history

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
	"github.com/YuminosukeSato/strokeguard/predictor"
)

// DefaultListLimit is used by List when limit <= 0.
const DefaultListLimit = 50

// Run is one completed training run.
type Run struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	CreatedAt           time.Time `json:"created_at"`
	SessionID           string    `gorm:"size:36;index" json:"session_id"`
	ModelKind           string    `gorm:"size:32;not null" json:"model_type"`
	Accuracy            float64   `json:"accuracy"`
	AUC                 float64   `json:"auc"`
	CVScore             float64   `json:"cv_score"`
	Params              string    `gorm:"type:text" json:"params"`
	Report              string    `gorm:"type:text" json:"report"`
	ConfusionMatrixPath string    `gorm:"size:255" json:"confusion_matrix"`
	ROCCurvePath        string    `gorm:"size:255" json:"roc_curve"`
	TrainSize           int       `json:"train_size"`
	TestSize            int       `json:"test_size"`
}

// TableName implements gorm's tabler.
func (Run) TableName() string { return "training_runs" }

// NewRun builds a Run from training metrics and the evaluation chart names.
func NewRun(sessionID string, m *predictor.Metrics, charts map[string]string) (*Run, error) {
	if m == nil {
		return nil, errors.NewValueError("history.NewRun", "no metrics")
	}
	params, err := json.Marshal(m.BestParams)
	if err != nil {
		return nil, errors.Wrap(err, "encode params")
	}
	report, err := json.Marshal(m.Report)
	if err != nil {
		return nil, errors.Wrap(err, "encode report")
	}
	return &Run{
		SessionID:           sessionID,
		ModelKind:           string(m.Kind),
		Accuracy:            m.Accuracy,
		AUC:                 m.AUC,
		CVScore:             m.CVScore,
		Params:              string(params),
		Report:              string(report),
		ConfusionMatrixPath: charts[predictor.GraphConfusionMatrix],
		ROCCurvePath:        charts[predictor.GraphROCCurve],
		TrainSize:           m.TrainSize,
		TestSize:            m.TestSize,
	}, nil
}

// Store persists runs with gorm.
type Store struct {
	db     *gorm.DB
	logger log.Logger
}

// Open connects to the database named by dsn. An empty dsn disables
// history and returns a nil store.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, nil
	}
	logger := log.GetLoggerWithName("history")
	logger.Info("Connecting to database")

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get database instance")
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return New(db), nil
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, logger: log.GetLoggerWithName("history")}
}

// Migrate creates or updates the runs table.
func (s *Store) Migrate() error {
	if s == nil {
		return nil
	}
	if err := s.db.AutoMigrate(&Run{}); err != nil {
		return errors.Wrap(err, "migrate training_runs")
	}
	s.logger.Info("Database migration completed")
	return nil
}

// Record inserts run and sets its ID and CreatedAt.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if s == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return errors.Wrap(err, "record training run")
	}
	s.logger.Info("Recorded training run",
		log.ModelKindKey, run.ModelKind,
		log.AccuracyKey, run.Accuracy,
		log.SessionIDKey, run.SessionID,
	)
	return nil
}

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if s == nil {
		return []Run{}, nil
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var runs []Run
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, errors.Wrap(err, "list training runs")
	}
	return runs, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
