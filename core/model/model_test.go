package model

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

type savedModel struct {
	Name    string
	Weights []float64
	State   *StateManager
}

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	if s.IsFitted() {
		t.Fatal("new state should not be fitted")
	}

	err := s.RequireFitted("SVC", "Predict")
	var notFitted *errors.NotFittedError
	if !errors.As(err, &notFitted) {
		t.Fatalf("expected NotFittedError, got %v", err)
	}

	s.SetDimensions(11, 80)
	s.SetFitted()
	if err := s.RequireFitted("SVC", "Predict"); err != nil {
		t.Errorf("unexpected error after SetFitted: %v", err)
	}

	if err := s.CheckFeatures("Predict", mat.NewDense(2, 11, nil)); err != nil {
		t.Errorf("CheckFeatures with matching width: %v", err)
	}
	err = s.CheckFeatures("Predict", mat.NewDense(2, 10, nil))
	var dim *errors.DimensionError
	if !errors.As(err, &dim) || dim.Expected != 11 || dim.Got != 10 {
		t.Errorf("expected DimensionError 11/10, got %v", err)
	}

	s.Reset()
	if s.IsFitted() {
		t.Error("Reset should clear fitted state")
	}
	if f, n := s.GetDimensions(); f != 0 || n != 0 {
		t.Errorf("Reset should clear dimensions, got %d/%d", f, n)
	}

	var nilState *StateManager
	if nilState.IsFitted() {
		t.Error("nil state must report not fitted")
	}
}

func TestSaveLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "model.gob")

	state := NewStateManager()
	state.SetDimensions(3, 10)
	state.SetFitted()
	want := savedModel{Name: "forest", Weights: []float64{0.5, 1.5}, State: state}

	if err := SaveModel(&want, path); err != nil {
		t.Fatalf("SaveModel: %v", err)
	}

	var got savedModel
	if err := LoadModel(&got, path); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if got.Name != want.Name || len(got.Weights) != 2 || got.Weights[1] != 1.5 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.State.IsFitted() {
		t.Error("fitted state lost in round trip")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestSaveModelOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")

	if err := SaveModel(&savedModel{Name: "first"}, path); err != nil {
		t.Fatal(err)
	}
	if err := SaveModel(&savedModel{Name: "second"}, path); err != nil {
		t.Fatal(err)
	}

	var got savedModel
	if err := LoadModel(&got, path); err != nil {
		t.Fatal(err)
	}
	if got.Name != "second" {
		t.Errorf("expected whole-file overwrite, got %q", got.Name)
	}
}

func TestLoadModelMissingFile(t *testing.T) {
	var got savedModel
	err := LoadModel(&got, filepath.Join(t.TempDir(), "absent.gob"))
	if !errors.Is(err, errors.ErrModelFileNotFound) {
		t.Errorf("expected ErrModelFileNotFound, got %v", err)
	}
}

func TestDecodeModelCorrupt(t *testing.T) {
	var got savedModel
	if err := decodeModel(&got, bytes.NewBufferString("not gob")); err == nil {
		t.Error("expected decode error")
	}
}
