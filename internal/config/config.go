// Package config loads the service configuration from defaults, an optional
// YAML file and STROKEGUARD_* environment variables.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

// EnvPrefix is the prefix of environment overrides, e.g. STROKEGUARD_ADDR.
const EnvPrefix = "STROKEGUARD"

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "strokeguard.yaml"

// Config is the service configuration.
type Config struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	UploadDir string `mapstructure:"upload_dir" yaml:"upload_dir"`
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
	ModelPath string `mapstructure:"model_path" yaml:"model_path"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	SelectedColumns []string `mapstructure:"selected_columns" yaml:"selected_columns"`
	TargetColumn    string   `mapstructure:"target_column" yaml:"target_column"`
	TargetClasses   []string `mapstructure:"target_classes" yaml:"target_classes"`
	NumericColumns  []string `mapstructure:"numeric_columns" yaml:"numeric_columns"`

	TestSize    float64 `mapstructure:"test_size" yaml:"test_size"`
	RandomState int64   `mapstructure:"random_state" yaml:"random_state"`
	CVFolds     int     `mapstructure:"cv_folds" yaml:"cv_folds"`

	MaxUploadMB int      `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	DatabaseDSN string   `mapstructure:"database_dsn" yaml:"database_dsn"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// FeatureColumns are the record fields the classifier is trained on.
var FeatureColumns = []string{
	"Age",
	"Gender",
	"Hypertension",
	"Average Glucose Level",
	"Smoking Status",
	"Heart Disease",
	"Alcohol Intake",
	"Physical Activity",
	"Stress Levels",
	"Family History of Stroke",
	"Dietary Habits",
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// デフォルト値だけなら失敗しない
	_ = v.Unmarshal(&c)
	return &c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("upload_dir", "app/uploads")
	v.SetDefault("static_dir", "app/static")
	v.SetDefault("model_path", "app/model/stroke_model.gob")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("selected_columns", FeatureColumns)
	v.SetDefault("target_column", "Diagnosis")
	v.SetDefault("target_classes", []string{"No Stroke", "Stroke"})
	v.SetDefault("numeric_columns", []string{"Age", "Average Glucose Level", "Stress Levels"})
	v.SetDefault("test_size", 0.2)
	v.SetDefault("random_state", 42)
	v.SetDefault("cv_folds", 5)
	v.SetDefault("max_upload_mb", 32)
	v.SetDefault("database_dsn", "")
	v.SetDefault("cors_origins", []string{"*"})
}

// Load reads the configuration. Precedence: environment > config file >
// defaults. An explicit cfgFile must exist; the default file is optional.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", cfgFile)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("strokeguard")
		v.SetConfigType("yaml")
		// optional read
		_ = v.ReadInConfig()
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the training pipeline cannot run with.
func (c *Config) Validate() error {
	if c.TestSize <= 0 || c.TestSize >= 1 {
		return errors.NewValidationError("test_size", "must be in (0, 1)", c.TestSize)
	}
	if c.CVFolds < 2 {
		return errors.NewValidationError("cv_folds", "must be >= 2", c.CVFolds)
	}
	if len(c.SelectedColumns) == 0 {
		return errors.NewValidationError("selected_columns", "must not be empty", c.SelectedColumns)
	}
	if c.TargetColumn == "" {
		return errors.NewValidationError("target_column", "must not be empty", c.TargetColumn)
	}
	for _, col := range c.SelectedColumns {
		if col == c.TargetColumn {
			return errors.NewValidationError("selected_columns", "must not contain the target column", col)
		}
	}
	if c.MaxUploadMB < 1 {
		return errors.NewValidationError("max_upload_mb", "must be >= 1", c.MaxUploadMB)
	}
	return nil
}

// Columns returns the selected feature columns followed by the target.
func (c *Config) Columns() []string {
	return append(append([]string(nil), c.SelectedColumns...), c.TargetColumn)
}

// Save writes c as YAML to path, creating parent directories.
func Save(c *Config, path string) error {
	if path == "" {
		path = DefaultFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "mkdir config dir")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal yaml")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, "write config")
	}
	return nil
}
