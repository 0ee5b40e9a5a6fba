// Package activations provides unit tests for activation functions.
package activations

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
)

// TestReLU tests ReLU activation.
func TestReLU(t *testing.T) {
	relu := ReLU{}

	tests := []struct {
		input    float64
		expected float64
	}{
		{-1.0, 0.0},
		{0.0, 0.0},
		{1.0, 1.0},
		{2.5, 2.5},
		{-0.1, 0.0},
	}

	for _, tt := range tests {
		output := relu.Activate(tt.input)
		if math.Abs(output-tt.expected) > 1e-12 {
			t.Errorf("ReLU(%v) = %v, want %v", tt.input, output, tt.expected)
		}
	}
}

// TestSigmoid tests Sigmoid activation.
func TestSigmoid(t *testing.T) {
	sigmoid := Sigmoid{}

	tests := []struct {
		input    float64
		expected float64
	}{
		{0.0, 0.5},
		{1.0, 0.7310585786300049},
		{-1.0, 0.2689414213699951},
	}

	for _, tt := range tests {
		output := sigmoid.Activate(tt.input)
		if math.Abs(output-tt.expected) > 1e-12 {
			t.Errorf("Sigmoid(%v) = %v, want %v", tt.input, output, tt.expected)
		}
	}
}

// TestSmoothReLULargeInput checks that softplus does not overflow.
func TestSmoothReLULargeInput(t *testing.T) {
	s := SmoothReLU{}
	if got := s.Activate(1000); got != 1000 {
		t.Errorf("SmoothReLU(1000) = %v, want 1000", got)
	}
	if got := s.Activate(0); math.Abs(got-math.Ln2) > 1e-12 {
		t.Errorf("SmoothReLU(0) = %v, want ln 2", got)
	}
}

// TestDerivativesMatchFiniteDifferences checks every activation's
// derivative against a central difference away from kinks.
func TestDerivativesMatchFiniteDifferences(t *testing.T) {
	points := []float64{-2.3, -0.7, 0.4, 1.9}
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}

	for typ := TypeSigmoid; typ <= TypeELU; typ++ {
		act := New(typ)
		for _, x := range points {
			want := fd.Derivative(act.Activate, x, settings)
			got := act.Derivative(x)
			if math.Abs(got-want) > 1e-6 {
				t.Errorf("%v derivative at %v = %v, want %v", typ, x, got, want)
			}
		}
	}
}

// TestParseType tests name parsing and round trips through String.
func TestParseType(t *testing.T) {
	for typ := TypeSigmoid; typ <= TypeELU; typ++ {
		got, err := ParseType(typ.String())
		if err != nil {
			t.Fatalf("ParseType(%q) error = %v", typ.String(), err)
		}
		if got != typ {
			t.Errorf("ParseType(%q) = %v, want %v", typ.String(), got, typ)
		}
	}

	if got, err := ParseType(" Linear "); err != nil || got != TypeID {
		t.Errorf("ParseType(linear) = %v, %v; want id", got, err)
	}
	if _, err := ParseType("softmax"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("ParseType(softmax) error = %v, want ErrUnknownType", err)
	}
}

// TestNewDefaultsToIdentity tests the fallback for the zero Type.
func TestNewDefaultsToIdentity(t *testing.T) {
	act := New(0)
	if _, ok := act.(Identity); !ok {
		t.Errorf("New(0) = %T, want Identity", act)
	}
}
