package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestRecover(t *testing.T) {
	render := func(fail bool, prior error) (err error) {
		defer Recover(&err, "graphs.ageDistribution")
		err = prior
		if fail {
			var bins []float64
			_ = bins[3] // index out of range
		}
		return err
	}

	if err := render(false, nil); err != nil {
		t.Fatalf("no panic: %v", err)
	}

	err := render(true, nil)
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("want *PanicError, got %T (%v)", err, err)
	}
	if pe.Operation != "graphs.ageDistribution" || pe.StackTrace == "" {
		t.Errorf("panic error = %+v", pe)
	}
	if !strings.HasPrefix(pe.Error(), "panic in graphs.ageDistribution: runtime error: index out of range") {
		t.Errorf("Error() = %q", pe.Error())
	}
	if !strings.Contains(pe.String(), "Stack trace:") {
		t.Error("String() should include the stack")
	}

	// 既存のエラーはパニックと一緒に残る
	err = render(true, ErrEmptyData)
	if !errors.Is(err, ErrEmptyData) || !strings.Contains(err.Error(), "panic in graphs.ageDistribution") {
		t.Errorf("err = %v", err)
	}
}

func TestRecoverPanicValues(t *testing.T) {
	sentinel := New("plot: no data")
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"string", "empty histogram", "panic in op: empty histogram"},
		{"int", 42, "panic in op: 42"},
		{"error", sentinel, "panic in op: plot: no data"},
		{"nil slice", []string(nil), "panic in op: []"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SafeExecute("op", func() error { panic(tt.value) })
			if err == nil || err.Error() != tt.want {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}

	// error のパニック値は Unwrap で辿れる
	err := SafeExecute("op", func() error { panic(sentinel) })
	if !errors.Is(err, sentinel) {
		t.Error("panic value should be reachable with errors.Is")
	}
}

func TestSafeExecute(t *testing.T) {
	if err := SafeExecute("save", func() error { return nil }); err != nil {
		t.Errorf("success: %v", err)
	}
	if err := SafeExecute("save", func() error { return ErrNoModel }); !errors.Is(err, ErrNoModel) {
		t.Errorf("returned error lost: %v", err)
	}
}

func TestSafeCall(t *testing.T) {
	name, err := SafeCall("chart", func() (string, error) { return "graph_1.png", nil })
	if err != nil || name != "graph_1.png" {
		t.Errorf("SafeCall = %q, %v", name, err)
	}

	name, err = SafeCall("chart", func() (string, error) { panic("bad palette") })
	var pe *PanicError
	if !errors.As(err, &pe) || name != "" {
		t.Errorf("SafeCall panic = %q, %v", name, err)
	}
}
