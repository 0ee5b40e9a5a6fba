// Package layer provides distributed neural network layers.
//
// A layer with N neurons fed by P inputs works on bias-augmented buffers: the
// weight matrix is (N+1)x(P+1) with the bias in column P and an augmentation
// row N of zeros ending in a 1, and every activation-like buffer carries an
// extra row of ones. A product W·A_prev therefore applies the bias and keeps
// the ones row alive for the next layer.
package layer

import (
	"errors"
	"fmt"
	"time"

	"github.com/FlavioCFOliveira/gridneuron/internal/activations"
	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
)

var (
	ErrNotSetup     = errors.New("layer: not set up")
	ErrAlreadySetup = errors.New("layer: already set up")
	ErrShape        = errors.New("layer: shape mismatch")
	ErrBatchSize    = errors.New("layer: invalid mini-batch size")
)

// ExecutionMode selects what a step is used for. Only training steps update
// weights.
type ExecutionMode int

const (
	Training ExecutionMode = iota
	Validation
	Testing
)

func (m ExecutionMode) String() string {
	switch m {
	case Training:
		return "training"
	case Validation:
		return "validation"
	case Testing:
		return "testing"
	}
	return fmt.Sprintf("ExecutionMode(%d)", int(m))
}

// Layer is a neural network layer driven one mini-batch at a time.
type Layer interface {
	Setup(prevNeurons int) error
	ForwardProp(prevWeightNormSum float64) (float64, error)
	BackProp() error
	Update() (bool, error)

	// Activations is the forward output read by the next layer.
	Activations() *dist.Matrix
	// ErrorSignal is the backward output read by the previous layer.
	ErrorSignal() *dist.Matrix

	SetupFPInput(m *dist.Matrix) error
	SetupBPInput(m *dist.Matrix) error
}

// Config is the immutable description of a layer.
type Config struct {
	Index         int
	NumNeurons    int
	PrevNeurons   int // expected input count; 0 skips the check in Setup
	MiniBatchSize int
	Activation    activations.Type
	Init          WeightInit
	Seed          uint64
}

// propagator holds the four propagation hooks. Base supplies the
// nonlinearities; concrete layers supply the linear parts.
type propagator interface {
	fpLinearity()
	bpLinearity()
	fpNonlinearity()
	bpNonlinearity()
}

// Base owns the seven buffers of a layer and drives the propagation hooks.
type Base struct {
	cfg  Config
	p    *grid.Process
	act  activations.Activation
	prop propagator

	prevNeurons int
	ready       bool
	mode        ExecutionMode
	curMB       int
	effMB       int
	fpTime      time.Duration
	bpTime      time.Duration

	weights       *dist.Matrix // (N+1) x (P+1)
	weightsGrad   *dist.Matrix // (N+1) x (P+1)
	preacts       *dist.Matrix // (N+1) x B
	acts          *dist.Matrix // (N+1) x B
	errSignal     *dist.Matrix // (P+1) x B, sent to the previous layer
	prevActs      *dist.Matrix // (P+1) x B, local copy of the previous layer's activations
	prevErrSignal *dist.Matrix // (N+1) x B, local copy of the next layer's error signal

	// Views restricted to the current mini-batch.
	weightsV       *dist.Matrix
	weightsGradV   *dist.Matrix
	preactsV       *dist.Matrix
	actsV          *dist.Matrix
	errSignalV     *dist.Matrix
	prevActsV      *dist.Matrix
	prevErrSignalV *dist.Matrix

	// Borrowed from neighbouring layers; never resized here.
	fpInput *dist.Matrix
	bpInput *dist.Matrix
}

// NewBase returns a layer with no linear part. Concrete layers embed Base and
// install themselves with setPropagator.
func NewBase(p *grid.Process, cfg Config) *Base {
	b := &Base{}
	b.init(p, cfg)
	return b
}

func (b *Base) init(p *grid.Process, cfg Config) {
	b.cfg = cfg
	b.p = p
	b.act = activations.New(cfg.Activation)
	b.prop = b
	b.curMB = cfg.MiniBatchSize
	b.effMB = cfg.MiniBatchSize

	for _, m := range []**dist.Matrix{
		&b.weights, &b.weightsGrad, &b.preacts, &b.acts, &b.errSignal, &b.prevActs, &b.prevErrSignal,
		&b.weightsV, &b.weightsGradV, &b.preactsV, &b.actsV, &b.errSignalV, &b.prevActsV, &b.prevErrSignalV,
	} {
		*m = dist.NewMatrix(p)
	}
}

func (b *Base) setPropagator(p propagator) { b.prop = p }

// Setup allocates and zeroes the layer's buffers for prevNeurons inputs. It
// may be called once.
func (b *Base) Setup(prevNeurons int) error {
	if b.ready {
		return fmt.Errorf("layer %d: %w", b.cfg.Index, ErrAlreadySetup)
	}
	if b.cfg.NumNeurons <= 0 || prevNeurons < 0 {
		return fmt.Errorf("layer %d: %d neurons fed by %d: %w", b.cfg.Index, b.cfg.NumNeurons, prevNeurons, ErrShape)
	}
	if b.cfg.PrevNeurons != 0 && b.cfg.PrevNeurons != prevNeurons {
		return fmt.Errorf("layer %d: expected %d inputs, got %d: %w", b.cfg.Index, b.cfg.PrevNeurons, prevNeurons, ErrShape)
	}
	if b.cfg.MiniBatchSize <= 0 {
		return fmt.Errorf("layer %d: mini-batch size %d: %w", b.cfg.Index, b.cfg.MiniBatchSize, ErrBatchSize)
	}
	n, mb := b.cfg.NumNeurons, b.cfg.MiniBatchSize
	if err := checkShape(b.fpInput, prevNeurons+1, mb, "forward input"); err != nil {
		return fmt.Errorf("layer %d: %w", b.cfg.Index, err)
	}
	if err := checkShape(b.bpInput, n+1, mb, "backward input"); err != nil {
		return fmt.Errorf("layer %d: %w", b.cfg.Index, err)
	}

	b.prevNeurons = prevNeurons
	dist.Zeros(b.weights, n+1, prevNeurons+1)
	dist.Zeros(b.weightsGrad, n+1, prevNeurons+1)
	dist.Zeros(b.preacts, n+1, mb)
	dist.Zeros(b.acts, n+1, mb)
	dist.Zeros(b.errSignal, prevNeurons+1, mb)
	dist.Zeros(b.prevActs, prevNeurons+1, mb)
	dist.Zeros(b.prevErrSignal, n+1, mb)

	// The ones row feeds the bias column of W.
	for i := 0; i < b.prevActs.LocalHeight(); i++ {
		if b.prevActs.GlobalRow(i) != prevNeurons {
			continue
		}
		for j := 0; j < b.prevActs.LocalWidth(); j++ {
			b.prevActs.SetLocal(i, j, 1)
		}
	}

	b.bindViews(mb)
	b.ready = true
	return nil
}

func checkShape(m *dist.Matrix, height, width int, what string) error {
	if m == nil || (m.Height() == height && m.Width() == width) {
		return nil
	}
	return fmt.Errorf("%s is %dx%d, want %dx%d: %w", what, m.Height(), m.Width(), height, width, ErrShape)
}

// bindViews points every view at the first cols columns of its buffer. The
// weight views always cover the whole matrix.
func (b *Base) bindViews(cols int) {
	b.weightsV.ViewOf(b.weights, dist.All, dist.All)
	b.weightsGradV.ViewOf(b.weightsGrad, dist.All, dist.All)
	batch := dist.IR(0, cols)
	b.preactsV.ViewOf(b.preacts, dist.All, batch)
	b.actsV.ViewOf(b.acts, dist.All, batch)
	b.errSignalV.ViewOf(b.errSignal, dist.All, batch)
	b.prevActsV.ViewOf(b.prevActs, dist.All, batch)
	b.prevErrSignalV.ViewOf(b.prevErrSignal, dist.All, batch)
}

// SetupFPInput links the activations of the previous layer. They are copied
// into this layer at the start of every forward pass.
func (b *Base) SetupFPInput(m *dist.Matrix) error {
	if b.ready {
		if err := checkShape(m, b.prevNeurons+1, b.cfg.MiniBatchSize, "forward input"); err != nil {
			return fmt.Errorf("layer %d: %w", b.cfg.Index, err)
		}
	}
	b.fpInput = m
	return nil
}

// SetupBPInput links the error signal of the next layer. It is copied into
// this layer at the start of every backward pass.
func (b *Base) SetupBPInput(m *dist.Matrix) error {
	if b.ready {
		if err := checkShape(m, b.cfg.NumNeurons+1, b.cfg.MiniBatchSize, "backward input"); err != nil {
			return fmt.Errorf("layer %d: %w", b.cfg.Index, err)
		}
	}
	b.bpInput = m
	return nil
}

// ForwardProp runs the forward pass over the current mini-batch and returns
// prevWeightNormSum unchanged, as no regularizer contributes to it.
func (b *Base) ForwardProp(prevWeightNormSum float64) (float64, error) {
	if !b.ready {
		return 0, fmt.Errorf("layer %d: %w", b.cfg.Index, ErrNotSetup)
	}
	start := time.Now()
	b.bindViews(b.curMB)
	if b.fpInput != nil {
		dist.Copy(b.fpInput, b.prevActs)
	}
	b.prop.fpLinearity()
	b.prop.fpNonlinearity()
	b.fpTime += time.Since(start)
	return prevWeightNormSum, nil
}

// BackProp runs the backward pass over the current mini-batch.
func (b *Base) BackProp() error {
	if !b.ready {
		return fmt.Errorf("layer %d: %w", b.cfg.Index, ErrNotSetup)
	}
	start := time.Now()
	b.bindViews(b.curMB)
	if b.bpInput != nil {
		dist.Copy(b.bpInput, b.prevErrSignal)
	}
	b.prop.bpNonlinearity()
	b.prop.bpLinearity()
	b.bpTime += time.Since(start)
	return nil
}

// Update reports false: a layer without weights has nothing to update.
func (b *Base) Update() (bool, error) { return false, nil }

func (b *Base) fpLinearity() {}
func (b *Base) bpLinearity() {}

// fpNonlinearity applies the activation to the neuron rows of the current
// batch. The ones row is left as propagated.
func (b *Base) fpNonlinearity() {
	a := b.actsV
	n := b.cfg.NumNeurons
	for i := 0; i < a.LocalHeight(); i++ {
		if a.GlobalRow(i) >= n {
			continue
		}
		for j := 0; j < a.LocalWidth(); j++ {
			a.SetLocal(i, j, b.act.Activate(a.GetLocal(i, j)))
		}
	}
}

// bpNonlinearity scales the incoming error signal by f'(Z) on the neuron rows
// and zeroes the ones row, which does not depend on the weights.
func (b *Base) bpNonlinearity() {
	e, z := b.prevErrSignalV, b.preactsV
	n := b.cfg.NumNeurons
	for i := 0; i < e.LocalHeight(); i++ {
		bias := e.GlobalRow(i) >= n
		for j := 0; j < e.LocalWidth(); j++ {
			if bias {
				e.SetLocal(i, j, 0)
				continue
			}
			e.SetLocal(i, j, e.GetLocal(i, j)*b.act.Derivative(z.GetLocal(i, j)))
		}
	}
}

// Index returns the layer's position in its network.
func (b *Base) Index() int { return b.cfg.Index }

// Config returns the configuration the layer was built with.
func (b *Base) Config() Config { return b.cfg }

// Process returns the process this layer instance runs on.
func (b *Base) Process() *grid.Process { return b.p }

func (b *Base) NumNeurons() int  { return b.cfg.NumNeurons }
func (b *Base) PrevNeurons() int { return b.prevNeurons }

func (b *Base) Weights() *dist.Matrix         { return b.weights }
func (b *Base) WeightsGradient() *dist.Matrix { return b.weightsGrad }
func (b *Base) Preactivations() *dist.Matrix  { return b.preacts }
func (b *Base) Activations() *dist.Matrix     { return b.acts }
func (b *Base) ErrorSignal() *dist.Matrix     { return b.errSignal }

// PrevActivations is the layer's input buffer. The first layer of a network
// has no forward input and is fed by writing rows [0, P) of this matrix.
func (b *Base) PrevActivations() *dist.Matrix { return b.prevActs }

// PrevErrorSignal is the incoming error signal buffer. The last layer of a
// network is fed by writing it, usually with a loss residual.
func (b *Base) PrevErrorSignal() *dist.Matrix { return b.prevErrSignal }

func (b *Base) ExecutionMode() ExecutionMode     { return b.mode }
func (b *Base) SetExecutionMode(m ExecutionMode) { b.mode = m }

// MiniBatchSize returns the configured mini-batch size B.
func (b *Base) MiniBatchSize() int { return b.cfg.MiniBatchSize }

// CurrentMiniBatchSize returns the number of valid columns in this step.
func (b *Base) CurrentMiniBatchSize() int { return b.curMB }

// SetCurrentMiniBatchSize sets the number of valid columns for the next
// steps, between 1 and the configured size.
func (b *Base) SetCurrentMiniBatchSize(n int) error {
	if n < 1 || n > b.cfg.MiniBatchSize {
		return fmt.Errorf("layer %d: %d of %d columns: %w", b.cfg.Index, n, b.cfg.MiniBatchSize, ErrBatchSize)
	}
	b.curMB = n
	return nil
}

// EffectiveMiniBatchSize returns the number of samples contributing to one
// update, which scales the weight gradient.
func (b *Base) EffectiveMiniBatchSize() int { return b.effMB }

func (b *Base) SetEffectiveMiniBatchSize(n int) error {
	if n < 1 {
		return fmt.Errorf("layer %d: effective size %d: %w", b.cfg.Index, n, ErrBatchSize)
	}
	b.effMB = n
	return nil
}

// ResetCounters zeroes the propagation timers.
func (b *Base) ResetCounters() {
	b.fpTime = 0
	b.bpTime = 0
}

func (b *Base) FPTime() time.Duration { return b.fpTime }
func (b *Base) BPTime() time.Duration { return b.bpTime }
