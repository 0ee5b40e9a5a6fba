package layer

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
)

// leakTolerance is the largest change a weight perturbation may cause in an
// activation row other than its own.
const leakTolerance = 1e-12

// GradientCheck summarizes a comparison of the analytic weight gradient with
// central finite differences.
type GradientCheck struct {
	// Ratio is ||a - n|| / ||a + n|| over all weights, 0 when both are zero.
	Ratio float64
	// MaxAbsDiff is the largest entrywise |a - n|.
	MaxAbsDiff float64
	// Leaks counts the weights whose perturbation changed an activation row
	// other than the weight's own row.
	Leaks int
}

// CheckGradient verifies the weight gradient of the layer on its current
// input and upstream error signal G, read from the linked backward input
// when there is one. Run it before BackProp, which scales G in place. The
// objective is
//
//	J(W) = (1/eff) Σ_{i<N, j<b} G(i,j)·f((W·A_prev)(i,j))
//
// whose gradient is exactly what BackProp writes to the weight gradient.
// Leaks are reported to w, which may be nil. The layer's weight gradient and
// incoming error signal are restored before returning. It is collective.
func (fc *FullyConnected) CheckGradient(epsilon float64, w io.Writer) (GradientCheck, error) {
	if !fc.ready {
		return GradientCheck{}, fmt.Errorf("layer %d: %w", fc.cfg.Index, ErrNotSetup)
	}
	if w == nil {
		w = io.Discard
	}
	if fc.bpInput != nil {
		dist.Copy(fc.bpInput, fc.prevErrSignal)
	}
	upstream := clone(fc.prevErrSignal)
	savedGrad := clone(fc.weightsGrad)
	defer func() {
		dist.Copy(upstream, fc.prevErrSignal)
		dist.Copy(savedGrad, fc.weightsGrad)
	}()

	if _, err := fc.ForwardProp(0); err != nil {
		return GradientCheck{}, err
	}
	if err := fc.BackProp(); err != nil {
		return GradientCheck{}, err
	}
	analytic := dist.Gather(fc.weightsGrad)
	baseline := clone(fc.acts)

	scratch := clone(fc.weights)
	z := dist.NewMatrix(fc.p)
	dist.Zeros(z, fc.preacts.Height(), fc.preacts.Width())
	n, b := fc.cfg.NumNeurons, fc.curMB
	scale := 1 / float64(fc.effMB)
	world := fc.p.World()
	settings := &fd.Settings{Formula: fd.Central, Step: epsilon}

	rows, cols := fc.weights.Height(), fc.weights.Width()
	numeric := mat.NewDense(rows, cols, nil)
	var res GradientCheck
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			leaked := false
			objective := func(x float64) float64 {
				scratch.Set(r, c, x)
				dist.Gemm(false, false, 1, scratch, fc.prevActs, 0, z)
				var sum float64
				for li := 0; li < z.LocalHeight(); li++ {
					gi := z.GlobalRow(li)
					for lj := 0; lj < z.LocalWidth(); lj++ {
						if z.GlobalCol(lj) >= b {
							continue
						}
						a := z.GetLocal(li, lj)
						if gi < n {
							a = fc.act.Activate(a)
							sum += upstream.GetLocal(li, lj) * a
						}
						if gi != r && math.Abs(a-baseline.GetLocal(li, lj)) > leakTolerance {
							leaked = true
						}
					}
				}
				return scale * world.AllReduceSum(sum)
			}

			w0 := fc.weights.Get(r, c)
			numeric.Set(r, c, fd.Derivative(objective, w0, settings))
			scratch.Set(r, c, w0)

			var flag float64
			if leaked {
				flag = 1
			}
			if world.AllReduceSum(flag) > 0 {
				res.Leaks++
				if fc.p.Rank() == 0 {
					fmt.Fprintf(w, "layer %d: perturbing W(%d,%d) changed activations outside row %d\n", fc.cfg.Index, r, c, r)
				}
			}
		}
	}

	var diff, sum mat.Dense
	diff.Sub(analytic, numeric)
	sum.Add(analytic, numeric)
	res.MaxAbsDiff = floats.Norm(diff.RawMatrix().Data, math.Inf(1))
	if den := mat.Norm(&sum, 2); den > 0 {
		res.Ratio = mat.Norm(&diff, 2) / den
	}
	return res, nil
}

// clone returns a freshly allocated copy of m with the default alignment.
func clone(m *dist.Matrix) *dist.Matrix {
	c := dist.NewMatrix(m.Process())
	dist.Zeros(c, m.Height(), m.Width())
	dist.Copy(m, c)
	return c
}
