package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
	"github.com/FlavioCFOliveira/gridneuron/internal/opt"
)

// FullyConnected is a dense layer: Z = W·A_prev, A = f(Z).
//
// Each of the first N rows of W holds one neuron's input weights followed by
// its bias. Row N is zero except for W(N, P) = 1, which copies the ones row
// of A_prev into the ones row of Z.
type FullyConnected struct {
	Base
	optimizer opt.Optimizer
}

// NewFullyConnected creates a dense layer. optimizer may be nil for a layer
// that is never trained.
func NewFullyConnected(p *grid.Process, cfg Config, optimizer opt.Optimizer) *FullyConnected {
	fc := &FullyConnected{optimizer: optimizer}
	fc.init(p, cfg)
	fc.setPropagator(fc)
	return fc
}

// Setup allocates the layer's buffers, prepares the optimizer state and
// initializes the weights.
func (fc *FullyConnected) Setup(prevNeurons int) error {
	if err := fc.Base.Setup(prevNeurons); err != nil {
		return err
	}
	n, p := fc.cfg.NumNeurons, prevNeurons
	if fc.optimizer != nil {
		fc.optimizer.Setup(p+1, n+1)
	}

	dist.Zero(fc.weights)
	fc.weights.Set(n, p, 1)
	block := dist.View(fc.weights, dist.IR(0, n), dist.IR(0, p))
	fillWeights(block, fc.cfg.Init, rankSource(fc.cfg.Seed, fc.p.Rank()))
	return nil
}

// Optimizer returns the layer's optimizer, or nil.
func (fc *FullyConnected) Optimizer() opt.Optimizer { return fc.optimizer }

// fpLinearity multiplies over the configured batch width; columns past the
// current batch are computed but never read.
func (fc *FullyConnected) fpLinearity() {
	dist.Gemm(false, false, 1, fc.weights, fc.prevActs, 0, fc.preacts)
	dist.Copy(fc.preacts, fc.acts)
}

// bpLinearity works on the current batch only, so stale tail columns never
// reach the gradient.
func (fc *FullyConnected) bpLinearity() {
	dist.Gemm(true, false, 1, fc.weightsV, fc.prevErrSignalV, 0, fc.errSignalV)
	dist.Gemm(false, true, 1/float64(fc.effMB), fc.prevErrSignalV, fc.prevActsV, 0, fc.weightsGradV)
}

// Update applies the weight gradient in training mode. It reports false
// when the layer has no optimizer.
func (fc *FullyConnected) Update() (bool, error) {
	if !fc.ready {
		return false, fmt.Errorf("layer %d: %w", fc.cfg.Index, ErrNotSetup)
	}
	if fc.optimizer == nil {
		return false, nil
	}
	if fc.mode == Training {
		fc.optimizer.UpdateWeightBiasMatrix(fc.weightsGrad, fc.weights)
	}
	return true, nil
}

// ComputeCost returns the mean over columns of the 2-norm of each column of
// deltas. It is collective.
func (fc *FullyConnected) ComputeCost(deltas *dist.Matrix) float64 {
	norms := dist.ColumnTwoNorms(deltas)
	total := norms.DistComm().AllReduceSum(norms.LocalSum())
	if norms.Height() == 0 {
		return 0
	}
	return total / float64(norms.Height())
}

// WeightsL2NormSquared returns the squared Frobenius norm of W, augmentation
// row included. It is collective.
func (fc *FullyConnected) WeightsL2NormSquared() float64 {
	n := dist.Nrm2(fc.weights)
	return n * n
}
