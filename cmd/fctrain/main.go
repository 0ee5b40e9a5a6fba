// Command fctrain trains a stack of fully connected layers on a synthetic
// regression task over a simulated process grid.
//
// Every grid cell runs as its own goroutine with its own copy of the layer
// stack; only rank 0 prints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/gridneuron/internal/activations"
	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
	"github.com/FlavioCFOliveira/gridneuron/internal/layer"
	"github.com/FlavioCFOliveira/gridneuron/internal/loss"
	"github.com/FlavioCFOliveira/gridneuron/internal/opt"
	"github.com/FlavioCFOliveira/gridneuron/internal/report"
)

type config struct {
	gridHeight, gridWidth int
	layers                []int
	inputs                int
	samples               int
	miniBatch             int
	epochs                int
	lr                    float64
	decay                 float64
	optimizer             string
	init                  layer.WeightInit
	activation            activations.Type
	loss                  string
	seed                  uint64
	patience              int
	interval              int
	csv                   string
	checkpoint            string
	gradcheck             bool
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("fctrain", flag.ContinueOnError)
	gridSpec := fs.String("grid", "2x2", "process grid as RxC")
	layerSpec := fs.String("layers", "8,4,1", "neurons per layer, output last")
	inputs := fs.Int("inputs", 3, "input features")
	samples := fs.Int("samples", 250, "training samples")
	mb := fs.Int("mb", 32, "mini-batch size")
	epochs := fs.Int("epochs", 50, "training epochs")
	lr := fs.Float64("lr", 0.01, "learning rate")
	decay := fs.Float64("decay", 1, "learning rate factor applied after every epoch")
	optimizer := fs.String("optimizer", "adam", "sgd, adagrad, rmsprop or adam")
	initName := fs.String("init", "glorot_uniform", "weight initialization")
	actName := fs.String("activation", "tanh", "hidden layer activation")
	lossName := fs.String("loss", "mse", "mse, huber or l1")
	seed := fs.Uint64("seed", 42, "random seed")
	patience := fs.Int("patience", 0, "stop after this many epochs without improvement, 0 disables")
	interval := fs.Int("interval", 10, "print every this many epochs")
	csvPath := fs.String("csv", "", "append per-epoch progress to this CSV file")
	checkpoint := fs.String("checkpoint", "", "save the trained weights into this directory")
	gradcheck := fs.Bool("gradcheck", false, "check every layer's gradient before training")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		inputs:     *inputs,
		samples:    *samples,
		miniBatch:  *mb,
		epochs:     *epochs,
		lr:         *lr,
		decay:      *decay,
		optimizer:  *optimizer,
		loss:       *lossName,
		seed:       *seed,
		patience:   *patience,
		interval:   *interval,
		csv:        *csvPath,
		checkpoint: *checkpoint,
		gradcheck:  *gradcheck,
	}
	var err error
	if cfg.gridHeight, cfg.gridWidth, err = parseGrid(*gridSpec); err != nil {
		return config{}, err
	}
	if cfg.layers, err = parseLayers(*layerSpec); err != nil {
		return config{}, err
	}
	if cfg.init, err = layer.ParseWeightInit(*initName); err != nil {
		return config{}, err
	}
	if cfg.activation, err = activations.ParseType(*actName); err != nil {
		return config{}, err
	}
	if cfg.inputs < 1 || cfg.samples < 1 || cfg.miniBatch < 1 || cfg.epochs < 0 {
		return config{}, errors.New("inputs, samples and mb must be positive")
	}
	return cfg, nil
}

func parseGrid(s string) (int, int, error) {
	r, c, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("grid %q: want RxC", s)
	}
	h, err := strconv.Atoi(r)
	if err != nil {
		return 0, 0, fmt.Errorf("grid %q: %w", s, err)
	}
	w, err := strconv.Atoi(c)
	if err != nil {
		return 0, 0, fmt.Errorf("grid %q: %w", s, err)
	}
	return h, w, nil
}

func parseLayers(s string) ([]int, error) {
	var sizes []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("layers %q: %w", s, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("layers %q: sizes must be positive", s)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

// dataset holds samples column-wise; it is shared read-only by every rank.
type dataset struct {
	x *mat.Dense // inputs x samples
	y *mat.Dense // outputs x samples
}

// synthesize draws inputs in [-1, 1] and targets y = tanh(T·x) for a fixed
// random T.
func synthesize(inputs, outputs, samples int, seed uint64) dataset {
	rnd := rand.New(rand.NewSource(seed))
	x := mat.NewDense(inputs, samples, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return 2*rnd.Float64() - 1 }, x)
	t := mat.NewDense(outputs, inputs, nil)
	t.Apply(func(_, _ int, _ float64) float64 { return rnd.NormFloat64() }, t)

	var y mat.Dense
	y.Mul(t, x)
	y.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, &y)
	return dataset{x: x, y: &y}
}

// batch returns columns [start, start+b) of src as a (rows+1) x mb matrix.
// The extra row is filled with extra; columns past b are zero.
func batch(src *mat.Dense, start, b, mb int, extra float64) *mat.Dense {
	rows, _ := src.Dims()
	out := mat.NewDense(rows+1, mb, nil)
	out.Slice(0, rows, 0, b).(*mat.Dense).Copy(src.Slice(0, rows, start, start+b))
	for j := 0; j < mb; j++ {
		out.Set(rows, j, extra)
	}
	return out
}

// result is what one training run reports.
type result struct {
	costs []float64 // mean residual norm per epoch
	loss  float64   // final training loss
	bytes int64     // checkpoint size
}

// trainer is one rank's view of the network.
type trainer struct {
	cfg    config
	p      *grid.Process
	out    io.Writer
	loss   loss.Loss
	layers []*layer.FullyConnected
	target *dist.Matrix
}

func newTrainer(p *grid.Process, cfg config, out io.Writer) (*trainer, error) {
	factory, err := opt.New(cfg.optimizer, opt.Config{LearningRate: cfg.lr, Momentum: 0.9})
	if err != nil {
		return nil, err
	}
	l, err := loss.New(cfg.loss, 0)
	if err != nil {
		return nil, err
	}
	tr := &trainer{cfg: cfg, p: p, out: out, loss: l}

	prev := cfg.inputs
	for i, n := range cfg.layers {
		act := cfg.activation
		if i == len(cfg.layers)-1 {
			act = activations.TypeID
		}
		fc := layer.NewFullyConnected(p, layer.Config{
			Index:         i + 1,
			NumNeurons:    n,
			PrevNeurons:   prev,
			MiniBatchSize: cfg.miniBatch,
			Activation:    act,
			Init:          cfg.init,
			Seed:          cfg.seed + uint64(i),
		}, factory(p))
		if i > 0 {
			below := tr.layers[i-1]
			if err := fc.SetupFPInput(below.Activations()); err != nil {
				return nil, err
			}
		}
		if err := fc.Setup(prev); err != nil {
			return nil, err
		}
		if i > 0 {
			if err := tr.layers[i-1].SetupBPInput(fc.ErrorSignal()); err != nil {
				return nil, err
			}
		}
		tr.layers = append(tr.layers, fc)
		prev = n
	}

	tr.target = dist.NewMatrix(p)
	dist.Zeros(tr.target, prev+1, cfg.miniBatch)
	return tr, nil
}

func (tr *trainer) top() *layer.FullyConnected { return tr.layers[len(tr.layers)-1] }

// load feeds columns [start, start+b) of data to the network.
func (tr *trainer) load(data dataset, start, b int) error {
	for _, l := range tr.layers {
		if err := l.SetCurrentMiniBatchSize(b); err != nil {
			return err
		}
		if err := l.SetEffectiveMiniBatchSize(b); err != nil {
			return err
		}
	}
	dist.SetFromDense(tr.layers[0].PrevActivations(), batch(data.x, start, b, tr.cfg.miniBatch, 1))
	dist.SetFromDense(tr.target, batch(data.y, start, b, tr.cfg.miniBatch, 0))
	return nil
}

func (tr *trainer) forward() error {
	for _, l := range tr.layers {
		if _, err := l.ForwardProp(0); err != nil {
			return err
		}
	}
	return nil
}

// residual seeds the top layer's error signal for the first b columns and
// returns the batch loss and the summed residual norms.
func (tr *trainer) residual(b int) (float64, float64) {
	top := tr.top()
	cols := dist.IR(0, b)
	pred := dist.View(top.Activations(), dist.All, cols)
	target := dist.View(tr.target, dist.All, cols)
	delta := dist.View(top.PrevErrorSignal(), dist.All, cols)
	tr.loss.Residual(delta, pred, target, top.NumNeurons())
	return tr.loss.Forward(pred, target, top.NumNeurons()), top.ComputeCost(delta) * float64(b)
}

func (tr *trainer) backward() error {
	for i := len(tr.layers) - 1; i >= 0; i-- {
		if err := tr.layers[i].BackProp(); err != nil {
			return err
		}
	}
	return nil
}

// checkGradients verifies every layer on the first mini-batch.
func (tr *trainer) checkGradients(data dataset) error {
	_, samples := data.x.Dims()
	b := min(tr.cfg.miniBatch, samples)
	if err := tr.load(data, 0, b); err != nil {
		return err
	}
	if err := tr.forward(); err != nil {
		return err
	}
	tr.residual(b)
	for i := len(tr.layers) - 1; i >= 0; i-- {
		l := tr.layers[i]
		res, err := l.CheckGradient(1e-4, tr.out)
		if err != nil {
			return err
		}
		fmt.Fprintf(tr.out, "Layer %d gradient check: ratio %.3e, max diff %.3e, leaks %d\n", l.Index(), res.Ratio, res.MaxAbsDiff, res.Leaks)
		if err := l.BackProp(); err != nil {
			return err
		}
	}
	return nil
}

func (tr *trainer) train(ctx context.Context, data dataset) (result, error) {
	var res result
	if tr.cfg.gradcheck {
		if err := tr.checkGradients(data); err != nil {
			return res, err
		}
	}

	group := make(opt.Group, len(tr.layers))
	timed := make([]report.Timed, len(tr.layers))
	for i, l := range tr.layers {
		group[i] = l.Optimizer()
		timed[i] = l
	}
	early := report.NewEarlyStopping(tr.cfg.patience, 1e-6)
	everyRank := report.List{report.NewSchedulerCallback(opt.NewExponentialLR(group, tr.cfg.decay)), early}
	var rankZero report.List
	var csvLog *report.CSVLogger
	if tr.p.Rank() == 0 {
		rankZero = append(rankZero, report.NewLogger(tr.out, tr.cfg.interval))
		if tr.cfg.csv != "" {
			csvLog = report.NewCSVLogger(tr.cfg.csv, true)
			rankZero = append(rankZero, csvLog)
		}
	}
	rankZero.OnTrainBegin()

	_, samples := data.x.Dims()
	for epoch := 1; epoch <= tr.cfg.epochs && !early.Stopped; epoch++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var lossSum, normSum float64
		for start := 0; start < samples; start += tr.cfg.miniBatch {
			b := min(tr.cfg.miniBatch, samples-start)
			if err := tr.load(data, start, b); err != nil {
				return res, err
			}
			if err := tr.forward(); err != nil {
				return res, err
			}
			l, norms := tr.residual(b)
			lossSum += l * float64(b)
			normSum += norms
			if err := tr.backward(); err != nil {
				return res, err
			}
			for _, fc := range tr.layers {
				if _, err := fc.Update(); err != nil {
					return res, err
				}
			}
		}
		cost := normSum / float64(samples)
		res.costs = append(res.costs, cost)
		res.loss = lossSum / float64(samples)

		e := report.Collect(epoch, cost, timed)
		everyRank.OnEpochEnd(e)
		rankZero.OnEpochEnd(e)
	}
	rankZero.OnTrainEnd()
	if csvLog != nil && csvLog.Err() != nil {
		return res, csvLog.Err()
	}
	fmt.Fprintf(tr.out, "Final training loss (%s): %.6f\n", tr.loss.Name(), res.loss)

	if tr.cfg.checkpoint != "" {
		if err := os.MkdirAll(tr.cfg.checkpoint, 0o755); err != nil {
			return res, err
		}
		for _, l := range tr.layers {
			n, err := l.SaveToCheckpointShared(tr.cfg.checkpoint)
			if err != nil {
				return res, err
			}
			res.bytes += n
		}
		fmt.Fprintf(tr.out, "Checkpoint: %d bytes in %s\n", res.bytes, tr.cfg.checkpoint)
	}
	return res, nil
}

// run trains on every rank of the configured grid and returns rank 0's
// result.
func run(ctx context.Context, cfg config, out io.Writer) (result, error) {
	g, err := grid.New(cfg.gridHeight, cfg.gridWidth)
	if err != nil {
		return result{}, err
	}
	data := synthesize(cfg.inputs, cfg.layers[len(cfg.layers)-1], cfg.samples, cfg.seed)
	fmt.Fprintf(out, "Training %v on a %v grid: %d samples, mini-batch %d\n", cfg.layers, g, cfg.samples, cfg.miniBatch)

	var res result
	err = g.Run(ctx, func(ctx context.Context, p *grid.Process) error {
		w := io.Discard
		if p.Rank() == 0 {
			w = out
		}
		tr, err := newTrainer(p, cfg, w)
		if err != nil {
			return err
		}
		r, err := tr.train(ctx, data)
		if p.Rank() == 0 {
			res = r
		}
		return err
	})
	return res, err
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fctrain: %v\n", err)
		os.Exit(1)
	}
}
