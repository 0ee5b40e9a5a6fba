// Package opt provides optimization algorithms for distributed weight matrices.
package opt

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
)

// ErrUnknownOptimizer is returned by New for unsupported optimizer names.
var ErrUnknownOptimizer = errors.New("unknown optimizer")

// Optimizer updates a weight matrix in place from its gradient.
type Optimizer interface {
	// Setup allocates any state for a height x width weight matrix.
	Setup(width, height int)

	// UpdateWeightBiasMatrix applies gradient to weights in place.
	UpdateWeightBiasMatrix(gradient, weights *dist.Matrix)

	LearningRate() float64
	SetLearningRate(lr float64)
}

// Config holds hyper-parameters shared by the optimizer constructors.
// Zero fields take the optimizer's default.
type Config struct {
	LearningRate float64
	Momentum     float64 // SGD
	Nesterov     bool    // SGD
	Decay        float64 // RMSprop cache decay
	Beta1        float64 // Adam
	Beta2        float64 // Adam
	Epsilon      float64 // Adagrad, RMSprop, Adam
}

// Factory creates one optimizer per layer; every layer needs its own state.
type Factory func(p *grid.Process) Optimizer

// New returns a factory for the named optimizer: "sgd", "adagrad",
// "rmsprop" or "adam".
func New(name string, cfg Config) (Factory, error) {
	eps := orDefault(cfg.Epsilon, 1e-8)
	switch strings.ToLower(name) {
	case "sgd":
		return func(p *grid.Process) Optimizer {
			return NewSGD(p, cfg.LearningRate, cfg.Momentum, cfg.Nesterov)
		}, nil
	case "adagrad":
		return func(p *grid.Process) Optimizer {
			return NewAdagrad(p, cfg.LearningRate, eps)
		}, nil
	case "rmsprop":
		return func(p *grid.Process) Optimizer {
			return NewRMSprop(p, cfg.LearningRate, orDefault(cfg.Decay, 0.9), eps)
		}, nil
	case "adam":
		return func(p *grid.Process) Optimizer {
			a := NewAdam(p, cfg.LearningRate)
			a.Beta1 = orDefault(cfg.Beta1, a.Beta1)
			a.Beta2 = orDefault(cfg.Beta2, a.Beta2)
			a.Epsilon = eps
			return a
		}, nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownOptimizer)
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// SGD (Stochastic Gradient Descent) optimizer with optional momentum.
type SGD struct {
	p        *grid.Process
	lr       float64
	momentum float64
	nesterov bool
	velocity *dist.Matrix
}

// NewSGD creates an SGD optimizer. A zero momentum gives plain SGD.
func NewSGD(p *grid.Process, lr, momentum float64, nesterov bool) *SGD {
	return &SGD{p: p, lr: lr, momentum: momentum, nesterov: nesterov}
}

// Setup allocates the velocity when momentum is used.
func (s *SGD) Setup(width, height int) {
	if s.momentum == 0 {
		return
	}
	s.velocity = dist.NewMatrix(s.p)
	dist.Zeros(s.velocity, height, width)
}

// UpdateWeightBiasMatrix computes weights -= lr * gradient, through the
// velocity when momentum is set.
func (s *SGD) UpdateWeightBiasMatrix(gradient, weights *dist.Matrix) {
	if s.momentum == 0 {
		dist.Axpy(-s.lr, gradient, weights)
		return
	}
	// v = mu*v - lr*g
	dist.Scale(s.momentum, s.velocity)
	dist.Axpy(-s.lr, gradient, s.velocity)
	if s.nesterov {
		dist.Axpy(s.momentum, s.velocity, weights)
		dist.Axpy(-s.lr, gradient, weights)
		return
	}
	dist.Axpy(1, s.velocity, weights)
}

func (s *SGD) LearningRate() float64      { return s.lr }
func (s *SGD) SetLearningRate(lr float64) { s.lr = lr }

// Adagrad scales each step by the accumulated squared gradients.
type Adagrad struct {
	p     *grid.Process
	lr    float64
	eps   float64
	cache *dist.Matrix
}

// NewAdagrad creates an Adagrad optimizer.
func NewAdagrad(p *grid.Process, lr, eps float64) *Adagrad {
	return &Adagrad{p: p, lr: lr, eps: eps}
}

func (a *Adagrad) Setup(width, height int) {
	a.cache = dist.NewMatrix(a.p)
	dist.Zeros(a.cache, height, width)
}

func (a *Adagrad) UpdateWeightBiasMatrix(gradient, weights *dist.Matrix) {
	eachLocal(gradient, weights, []*dist.Matrix{a.cache}, func(g float64, w *float64, state []*float64) {
		c := state[0]
		*c += g * g
		*w -= a.lr * g / (math.Sqrt(*c) + a.eps)
	})
}

func (a *Adagrad) LearningRate() float64      { return a.lr }
func (a *Adagrad) SetLearningRate(lr float64) { a.lr = lr }

// RMSprop scales each step by a decaying average of squared gradients.
type RMSprop struct {
	p     *grid.Process
	lr    float64
	decay float64
	eps   float64
	cache *dist.Matrix
}

// NewRMSprop creates an RMSprop optimizer.
func NewRMSprop(p *grid.Process, lr, decay, eps float64) *RMSprop {
	return &RMSprop{p: p, lr: lr, decay: decay, eps: eps}
}

func (r *RMSprop) Setup(width, height int) {
	r.cache = dist.NewMatrix(r.p)
	dist.Zeros(r.cache, height, width)
}

func (r *RMSprop) UpdateWeightBiasMatrix(gradient, weights *dist.Matrix) {
	eachLocal(gradient, weights, []*dist.Matrix{r.cache}, func(g float64, w *float64, state []*float64) {
		c := state[0]
		*c = r.decay**c + (1-r.decay)*g*g
		*w -= r.lr * g / (math.Sqrt(*c) + r.eps)
	})
}

func (r *RMSprop) LearningRate() float64      { return r.lr }
func (r *RMSprop) SetLearningRate(lr float64) { r.lr = lr }

// Adam optimizer for faster convergence.
type Adam struct {
	Beta1   float64 // Exponential decay rate for first moment
	Beta2   float64 // Exponential decay rate for second moment
	Epsilon float64 // Small constant for numerical stability

	p       *grid.Process
	lr      float64
	step    int
	moment1 *dist.Matrix
	moment2 *dist.Matrix
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(p *grid.Process, learningRate float64) *Adam {
	return &Adam{
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		p:       p,
		lr:      learningRate,
	}
}

func (a *Adam) Setup(width, height int) {
	a.moment1 = dist.NewMatrix(a.p)
	a.moment2 = dist.NewMatrix(a.p)
	dist.Zeros(a.moment1, height, width)
	dist.Zeros(a.moment2, height, width)
	a.step = 0
}

// UpdateWeightBiasMatrix applies one bias-corrected Adam step.
func (a *Adam) UpdateWeightBiasMatrix(gradient, weights *dist.Matrix) {
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))
	eachLocal(gradient, weights, []*dist.Matrix{a.moment1, a.moment2}, func(g float64, w *float64, state []*float64) {
		m, v := state[0], state[1]
		*m = a.Beta1**m + (1-a.Beta1)*g
		*v = a.Beta2**v + (1-a.Beta2)*g*g
		*w -= a.lr * (*m / c1) / (math.Sqrt(*v/c2) + a.Epsilon)
	})
}

func (a *Adam) LearningRate() float64      { return a.lr }
func (a *Adam) SetLearningRate(lr float64) { a.lr = lr }

// eachLocal calls fn for every local entry of gradient with pointers into
// the matching entries of weights and state. All matrices must share the
// same distribution, which holds for state allocated by Setup with the
// weight shape.
func eachLocal(gradient, weights *dist.Matrix, state []*dist.Matrix, fn func(g float64, w *float64, state []*float64)) {
	lh, lw := weights.LocalHeight(), weights.LocalWidth()
	for _, m := range append([]*dist.Matrix{gradient}, state...) {
		if m == nil || m.Height() != weights.Height() || m.Width() != weights.Width() ||
			m.LocalHeight() != lh || m.LocalWidth() != lw {
			panic(mat.ErrShape)
		}
	}
	if lh == 0 || lw == 0 {
		return
	}

	wl, gl := weights.Local(), gradient.Local()
	vals := make([]float64, len(state))
	ptrs := make([]*float64, len(state))
	for i := range ptrs {
		ptrs[i] = &vals[i]
	}
	for i := 0; i < lh; i++ {
		for j := 0; j < lw; j++ {
			for k, s := range state {
				vals[k] = s.GetLocal(i, j)
			}
			w := wl.At(i, j)
			fn(gl.At(i, j), &w, ptrs)
			wl.Set(i, j, w)
			for k, s := range state {
				s.SetLocal(i, j, vals[k])
			}
		}
	}
}
