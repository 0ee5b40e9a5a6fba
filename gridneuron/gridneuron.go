// Package gridneuron exposes the distributed fully connected layer engine:
// process grids, distributed matrices, layers, optimizers and losses.
package gridneuron

import (
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/gridneuron/internal/activations"
	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
	"github.com/FlavioCFOliveira/gridneuron/internal/layer"
	"github.com/FlavioCFOliveira/gridneuron/internal/loss"
	"github.com/FlavioCFOliveira/gridneuron/internal/opt"
	"github.com/FlavioCFOliveira/gridneuron/internal/report"
)

// Re-export common types for easier access
type (
	Grid           = grid.Grid
	Process        = grid.Process
	Matrix         = dist.Matrix
	Layer          = layer.Layer
	FullyConnected = layer.FullyConnected
	LayerConfig    = layer.Config
	WeightInit     = layer.WeightInit
	ExecutionMode  = layer.ExecutionMode
	Activation     = activations.Type
	Optimizer      = opt.Optimizer
	OptimizerSpec  = opt.Config
	Loss           = loss.Loss
	Callback       = report.Callback
)

// Grids
func NewGrid(height, width int) (*Grid, error) {
	return grid.New(height, width)
}

// Local returns a process on a 1x1 grid for single-process use.
func Local() *Process {
	return grid.Local()
}

// Matrices
func NewMatrix(p *Process, height, width int) *Matrix {
	m := dist.NewMatrix(p)
	dist.Zeros(m, height, width)
	return m
}

// Layers
func NewFullyConnected(p *Process, cfg LayerConfig, optimizer Optimizer) *FullyConnected {
	return layer.NewFullyConnected(p, cfg, optimizer)
}

const (
	Training   = layer.Training
	Validation = layer.Validation
	Testing    = layer.Testing
)

const (
	InitZero          = layer.InitZero
	InitUniform       = layer.InitUniform
	InitNormal        = layer.InitNormal
	InitGlorotNormal  = layer.InitGlorotNormal
	InitGlorotUniform = layer.InitGlorotUniform
	InitHeNormal      = layer.InitHeNormal
	InitHeUniform     = layer.InitHeUniform
)

// Activations
const (
	Sigmoid    = activations.TypeSigmoid
	Tanh       = activations.TypeTanh
	ReLU       = activations.TypeReLU
	Identity   = activations.TypeID
	LeakyReLU  = activations.TypeLeakyReLU
	SmoothReLU = activations.TypeSmoothReLU
	ELU        = activations.TypeELU
)

// Optimizers

// NewOptimizer returns a factory for the named optimizer. Call it once per
// layer and process.
func NewOptimizer(name string, spec OptimizerSpec) (opt.Factory, error) {
	return opt.New(name, spec)
}

func Adam(p *Process, lr float64) Optimizer {
	return opt.NewAdam(p, lr)
}

func SGD(p *Process, lr, momentum float64) Optimizer {
	return opt.NewSGD(p, lr, momentum, false)
}

// Losses
var (
	MSE = loss.MSE{}
	L1  = loss.L1{}
)

func Huber(delta float64) Loss {
	return loss.NewHuber(delta)
}

// Callbacks
func Logger(w io.Writer, interval int) Callback {
	return report.NewLogger(w, interval)
}

func CSVLogger(filename string) Callback {
	return report.NewCSVLogger(filename, false)
}

func EarlyStopping(patience int, threshold float64) *report.EarlyStopping {
	return report.NewEarlyStopping(patience, threshold)
}

// Scatter sets every entry of m from the global matrix g. It does not
// communicate; every process must pass the same g.
func Scatter(m *Matrix, g mat.Matrix) {
	dist.SetFromDense(m, g)
}

// Gather returns the whole of m on every process. It is collective.
func Gather(m *Matrix) *mat.Dense {
	return dist.Gather(m)
}
