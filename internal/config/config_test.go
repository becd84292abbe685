package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Addr != ":8080" || c.TargetColumn != "Diagnosis" || c.TestSize != 0.2 || c.RandomState != 42 || c.CVFolds != 5 {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if !reflect.DeepEqual(c.SelectedColumns, FeatureColumns) {
		t.Errorf("selected columns = %v", c.SelectedColumns)
	}
	if !reflect.DeepEqual(c.TargetClasses, []string{"No Stroke", "Stroke"}) {
		t.Errorf("target classes = %v", c.TargetClasses)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should be valid: %v", err)
	}
	if cols := c.Columns(); cols[len(cols)-1] != "Diagnosis" || len(cols) != len(FeatureColumns)+1 {
		t.Errorf("columns = %v", cols)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strokeguard.yaml")
	body := "addr: \":9090\"\ncv_folds: 3\nmodel_path: /tmp/m.gob\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STROKEGUARD_CV_FOLDS", "4")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Addr != ":9090" || c.ModelPath != "/tmp/m.gob" {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.CVFolds != 4 {
		t.Errorf("env should win over the file, cv_folds = %d", c.CVFolds)
	}
	if c.StaticDir != "app/static" {
		t.Errorf("default not kept: %q", c.StaticDir)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("explicit missing file should fail")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("test_size: 1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.IsInputError(err) {
		t.Errorf("invalid test_size: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"test_size zero", func(c *Config) { c.TestSize = 0 }},
		{"test_size one", func(c *Config) { c.TestSize = 1 }},
		{"one fold", func(c *Config) { c.CVFolds = 1 }},
		{"no columns", func(c *Config) { c.SelectedColumns = nil }},
		{"no target", func(c *Config) { c.TargetColumn = "" }},
		{"target selected", func(c *Config) { c.SelectedColumns = append(c.SelectedColumns, c.TargetColumn) }},
		{"no upload size", func(c *Config) { c.MaxUploadMB = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			if err := c.Validate(); !errors.IsInputError(err) {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "strokeguard.yaml")
	c := Default()
	c.Addr = ":7000"
	c.DatabaseDSN = "postgres://localhost/strokeguard"
	if err := Save(c, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, c) {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, c)
	}
}
