// Package report prints and records per-epoch training progress.
package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/FlavioCFOliveira/gridneuron/internal/opt"
)

// Timed is anything with propagation timers, such as a layer.
type Timed interface {
	FPTime() time.Duration
	BPTime() time.Duration
	ResetCounters()
}

// Epoch summarizes one epoch of training.
type Epoch struct {
	Index  int
	Cost   float64
	FPTime time.Duration
	BPTime time.Duration
}

// Collect sums the timers of layers into an Epoch and resets them.
func Collect(index int, cost float64, layers []Timed) Epoch {
	e := Epoch{Index: index, Cost: cost}
	for _, l := range layers {
		e.FPTime += l.FPTime()
		e.BPTime += l.BPTime()
		l.ResetCounters()
	}
	return e
}

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin()
	OnEpochEnd(e Epoch)
	OnTrainEnd()
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (BaseCallback) OnTrainBegin()      {}
func (BaseCallback) OnEpochEnd(e Epoch) {}
func (BaseCallback) OnTrainEnd()        {}

// List dispatches every event to each of its callbacks in order.
type List []Callback

func (l List) OnTrainBegin() {
	for _, c := range l {
		c.OnTrainBegin()
	}
}

func (l List) OnEpochEnd(e Epoch) {
	for _, c := range l {
		c.OnEpochEnd(e)
	}
}

func (l List) OnTrainEnd() {
	for _, c := range l {
		c.OnTrainEnd()
	}
}

// Logger logs training progress to W.
type Logger struct {
	BaseCallback
	W        io.Writer
	Interval int

	seconds []float64
}

// NewLogger creates a Logger printing every interval epochs.
func NewLogger(w io.Writer, interval int) *Logger {
	return &Logger{W: w, Interval: interval}
}

func (c *Logger) OnEpochEnd(e Epoch) {
	c.seconds = append(c.seconds, (e.FPTime + e.BPTime).Seconds())
	if c.Interval > 0 && e.Index%c.Interval == 0 {
		fmt.Fprintf(c.W, "Epoch %d: cost = %.6f (fp %v, bp %v)\n",
			e.Index, e.Cost, e.FPTime.Round(time.Microsecond), e.BPTime.Round(time.Microsecond))
	}
}

// OnTrainEnd prints the mean and spread of the per-epoch propagation time.
func (c *Logger) OnTrainEnd() {
	if len(c.seconds) == 0 {
		return
	}
	mean, std := stat.MeanStdDev(c.seconds, nil)
	if math.IsNaN(std) {
		std = 0
	}
	fmt.Fprintf(c.W, "%d epochs: propagation %.6fs ± %.6fs per epoch\n", len(c.seconds), mean, std)
}

// EarlyStopping stops training when the cost has stopped improving. Every
// rank sees the same reduced cost, so every rank stops at the same epoch.
type EarlyStopping struct {
	BaseCallback
	Patience  int
	Threshold float64

	bestCost     float64
	numBadEpochs int
	Stopped      bool
}

func NewEarlyStopping(patience int, threshold float64) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		Threshold: threshold,
		bestCost:  math.Inf(1),
	}
}

func (c *EarlyStopping) OnEpochEnd(e Epoch) {
	if e.Cost < c.bestCost-c.Threshold {
		c.bestCost = e.Cost
		c.numBadEpochs = 0
	} else {
		c.numBadEpochs++
	}
	if c.Patience > 0 && c.numBadEpochs >= c.Patience {
		c.Stopped = true
	}
}

// SchedulerCallback steps a learning rate scheduler at the end of each epoch.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

func (c *SchedulerCallback) OnEpochEnd(e Epoch) {
	c.scheduler.Step()
	c.scheduler.StepWithLoss(e.Cost)
}
