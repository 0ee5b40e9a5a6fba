// Package loss builds the error signal that seeds back propagation at the
// output layer.
//
// A loss compares predictions with targets column by column, one column per
// sample. The value returned by Forward is the mean over samples of the summed
// elementwise loss; Residual writes its gradient with respect to the
// predictions, unscaled by the batch size, which the layers apply themselves.
package loss

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
)

// ErrUnknownLoss is returned by New for unsupported loss names.
var ErrUnknownLoss = errors.New("unknown loss")

// Loss is an elementwise loss with derivative.
type Loss interface {
	// Forward returns the loss over rows [0, rows) of pred and target. It is
	// collective over the world communicator.
	Forward(pred, target *dist.Matrix, rows int) float64

	// Residual writes the loss gradient for rows [0, rows) into dst and zeroes
	// its remaining rows, so an augmented error signal keeps its bias row at
	// zero. pred, target and dst must have the same shape.
	Residual(dst, pred, target *dist.Matrix, rows int)

	Name() string
}

// New returns the named loss: "mse", "huber" or "l1". delta is used by Huber
// only; zero selects 1.
func New(name string, delta float64) (Loss, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mse":
		return MSE{}, nil
	case "huber":
		if delta == 0 {
			delta = 1
		}
		return Huber{Delta: delta}, nil
	case "l1":
		return L1{}, nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownLoss)
}

// MSE is the squared error loss ½(pred - target)².
type MSE struct{}

func (MSE) Forward(pred, target *dist.Matrix, rows int) float64 {
	return forward(pred, target, rows, func(d float64) float64 { return 0.5 * d * d })
}

func (MSE) Residual(dst, pred, target *dist.Matrix, rows int) {
	residual(dst, pred, target, rows, func(d float64) float64 { return d })
}

func (MSE) Name() string { return "mse" }

// Huber is quadratic for residuals up to Delta and linear beyond.
type Huber struct {
	Delta float64 // Threshold for quadratic/linear transition
}

// NewHuber creates a Huber loss.
func NewHuber(delta float64) Huber {
	return Huber{Delta: delta}
}

func (h Huber) Forward(pred, target *dist.Matrix, rows int) float64 {
	return forward(pred, target, rows, func(d float64) float64 {
		a := math.Abs(d)
		if a <= h.Delta {
			return 0.5 * d * d
		}
		return h.Delta * (a - 0.5*h.Delta)
	})
}

func (h Huber) Residual(dst, pred, target *dist.Matrix, rows int) {
	residual(dst, pred, target, rows, func(d float64) float64 {
		return math.Max(-h.Delta, math.Min(h.Delta, d))
	})
}

func (Huber) Name() string { return "huber" }

// L1 is the absolute error loss.
type L1 struct{}

func (L1) Forward(pred, target *dist.Matrix, rows int) float64 {
	return forward(pred, target, rows, math.Abs)
}

// Residual uses a zero subgradient where prediction and target agree.
func (L1) Residual(dst, pred, target *dist.Matrix, rows int) {
	residual(dst, pred, target, rows, func(d float64) float64 {
		switch {
		case d > 0:
			return 1
		case d < 0:
			return -1
		}
		return 0
	})
}

func (L1) Name() string { return "l1" }

// difference returns pred - target laid out like pred's local block. It may
// communicate when pred and target are distributed differently.
func difference(pred, target *dist.Matrix, rows int) *dist.Matrix {
	if pred.Height() != target.Height() || pred.Width() != target.Width() {
		panic(mat.ErrShape)
	}
	if rows < 0 || rows > pred.Height() {
		panic(mat.ErrIndexOutOfRange)
	}
	d := dist.NewMatrix(pred.Process())
	dist.Zeros(d, pred.Height(), pred.Width())
	dist.Copy(pred, d)
	dist.Axpy(-1, target, d)
	return d
}

func forward(pred, target *dist.Matrix, rows int, f func(float64) float64) float64 {
	d := difference(pred, target, rows)
	var sum float64
	for i := 0; i < d.LocalHeight(); i++ {
		if d.GlobalRow(i) >= rows {
			continue
		}
		for j := 0; j < d.LocalWidth(); j++ {
			sum += f(d.GetLocal(i, j))
		}
	}
	sum = pred.Process().World().AllReduceSum(sum)
	if pred.Width() == 0 {
		return 0
	}
	return sum / float64(pred.Width())
}

func residual(dst, pred, target *dist.Matrix, rows int, g func(float64) float64) {
	d := difference(pred, target, rows)
	dist.Copy(d, dst)
	for i := 0; i < dst.LocalHeight(); i++ {
		keep := dst.GlobalRow(i) < rows
		for j := 0; j < dst.LocalWidth(); j++ {
			if keep {
				dst.SetLocal(i, j, g(dst.GetLocal(i, j)))
			} else {
				dst.SetLocal(i, j, 0)
			}
		}
	}
}
