// Package opt provides comprehensive unit tests for optimizers.
package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
)

// matrices returns weights and gradient distributed over p.
func matrices(p *grid.Process, w, g *mat.Dense) (*dist.Matrix, *dist.Matrix) {
	r, c := w.Dims()
	dw, dg := dist.NewMatrix(p), dist.NewMatrix(p)
	dist.Zeros(dw, r, c)
	dist.Zeros(dg, r, c)
	dist.SetFromDense(dw, w)
	dist.SetFromDense(dg, g)
	return dw, dg
}

// TestSGDStep tests SGD step computation.
func TestSGDStep(t *testing.T) {
	p := grid.Local()
	w, g := matrices(p,
		mat.NewDense(1, 3, []float64{1.0, 2.0, 3.0}),
		mat.NewDense(1, 3, []float64{0.1, 0.2, 0.3}))

	sgd := NewSGD(p, 0.1, 0, false)
	sgd.Setup(3, 1)
	sgd.UpdateWeightBiasMatrix(g, w)

	// Expected: params - lr * gradients
	expected := []float64{0.99, 1.98, 2.97}
	for j, want := range expected {
		if got := w.GetLocal(0, j); math.Abs(got-want) > 1e-12 {
			t.Errorf("weights[%d] = %v, want %v", j, got, want)
		}
	}
}

// TestSGDMomentum tests that momentum accumulates velocity across steps.
func TestSGDMomentum(t *testing.T) {
	tests := []struct {
		nesterov bool
		want     float64
	}{
		// v1 = -0.1, w1 = 0.9; v2 = -0.19, w2 = 0.71
		{false, 0.71},
		// w1 = 1 + 0.9*(-0.1) - 0.1 = 0.81; w2 = 0.81 + 0.9*(-0.19) - 0.1 = 0.539
		{true, 0.539},
	}
	for _, tt := range tests {
		p := grid.Local()
		w, g := matrices(p, mat.NewDense(1, 1, []float64{1}), mat.NewDense(1, 1, []float64{1}))
		sgd := NewSGD(p, 0.1, 0.9, tt.nesterov)
		sgd.Setup(1, 1)
		sgd.UpdateWeightBiasMatrix(g, w)
		sgd.UpdateWeightBiasMatrix(g, w)
		if got := w.GetLocal(0, 0); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("nesterov=%v: weight = %v, want %v", tt.nesterov, got, tt.want)
		}
	}
}

// TestAdaptiveFirstStep tests that the adaptive optimizers move every
// weight by about the learning rate on their first step.
func TestAdaptiveFirstStep(t *testing.T) {
	const lr = 0.01
	p := grid.Local()
	tests := []struct {
		name string
		opt  Optimizer
		want float64 // magnitude of the first step
	}{
		{"adagrad", NewAdagrad(p, lr, 1e-8), lr},
		{"rmsprop", NewRMSprop(p, lr, 0.9, 1e-8), lr / math.Sqrt(0.1)},
		{"adam", NewAdam(p, lr), lr},
	}
	for _, tt := range tests {
		w, g := matrices(p,
			mat.NewDense(2, 2, []float64{1, 1, 1, 1}),
			mat.NewDense(2, 2, []float64{0.5, -2, 3, -0.25}))
		tt.opt.Setup(2, 2)
		tt.opt.UpdateWeightBiasMatrix(g, w)
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				step := math.Abs(w.GetLocal(i, j) - 1)
				if math.Abs(step-tt.want) > 1e-6 {
					t.Errorf("%s: step at (%d,%d) = %v, want %v", tt.name, i, j, step, tt.want)
				}
				if math.Signbit(w.GetLocal(i, j)-1) == math.Signbit(g.GetLocal(i, j)) {
					t.Errorf("%s: step at (%d,%d) does not oppose the gradient", tt.name, i, j)
				}
			}
		}
	}
}

// TestZeroGradientLeavesWeights checks that a zero gradient row, such as
// the augmentation row of a weight-bias gradient, is never moved.
func TestZeroGradientLeavesWeights(t *testing.T) {
	p := grid.Local()
	for _, name := range []string{"sgd", "adagrad", "rmsprop", "adam"} {
		factory, err := New(name, Config{LearningRate: 0.1, Momentum: 0.5})
		if err != nil {
			t.Fatalf("New(%q) error = %v", name, err)
		}
		o := factory(p)
		w, g := matrices(p, mat.NewDense(1, 2, []float64{0, 1}), mat.NewDense(1, 2, nil))
		o.Setup(2, 1)
		for step := 0; step < 3; step++ {
			o.UpdateWeightBiasMatrix(g, w)
		}
		if w.GetLocal(0, 0) != 0 || w.GetLocal(0, 1) != 1 {
			t.Errorf("%s moved weights under a zero gradient: %v", name, mat.Formatted(w.Local()))
		}
	}
}

// TestNewUnknown tests the factory error path.
func TestNewUnknown(t *testing.T) {
	if _, err := New("lbfgs", Config{}); !errors.Is(err, ErrUnknownOptimizer) {
		t.Errorf("New(lbfgs) error = %v, want ErrUnknownOptimizer", err)
	}
}

// TestAdamDistributedMatchesLocal runs Adam on a 2x2 grid and compares with
// the single-process result.
func TestAdamDistributedMatchesLocal(t *testing.T) {
	w0 := mat.NewDense(3, 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	g0 := mat.NewDense(3, 3, []float64{0.1, -0.2, 0.3, -0.4, 0.5, -0.6, 0.7, -0.8, 0.9})

	run := func(p *grid.Process) *mat.Dense {
		w, g := matrices(p, w0, g0)
		a := NewAdam(p, 0.05)
		a.Setup(3, 3)
		for i := 0; i < 4; i++ {
			a.UpdateWeightBiasMatrix(g, w)
		}
		return dist.Gather(w)
	}
	want := run(grid.Local())

	gr, _ := grid.New(2, 2)
	err := gr.Run(context.Background(), func(_ context.Context, p *grid.Process) error {
		if got := run(p); !mat.EqualApprox(got, want, 1e-12) {
			return fmt.Errorf("rank %d: got %v, want %v", p.Rank(), mat.Formatted(got), mat.Formatted(want))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// TestSchedulers tests the learning rate schedules over a Group.
func TestSchedulers(t *testing.T) {
	p := grid.Local()
	group := Group{NewSGD(p, 1, 0, false), NewAdam(p, 1)}

	step := NewStepLR(group, 2, 0.5)
	step.Step()
	if got := step.GetLR(); got != 1 {
		t.Errorf("StepLR after 1 step = %v, want 1", got)
	}
	step.Step()
	if got := group[1].LearningRate(); got != 0.5 {
		t.Errorf("StepLR after 2 steps = %v, want 0.5 on every member", got)
	}

	exp := NewExponentialLR(group, 0.1)
	exp.Step()
	if got := exp.GetLR(); math.Abs(got-0.05) > 1e-15 {
		t.Errorf("ExponentialLR = %v, want 0.05", got)
	}

	plateau := NewReduceLROnPlateau(group, 0.5, 2, 0, 0.02)
	for _, loss := range []float64{1, 1, 1, 1, 1, 1} {
		plateau.StepWithLoss(loss)
	}
	if got := plateau.GetLR(); got != 0.02 {
		t.Errorf("ReduceLROnPlateau = %v, want floor 0.02", got)
	}
}
