package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
	"github.com/FlavioCFOliveira/gridneuron/internal/opt"
)

type fakeLayer struct {
	fp, bp time.Duration
	resets int
}

func (f *fakeLayer) FPTime() time.Duration { return f.fp }
func (f *fakeLayer) BPTime() time.Duration { return f.bp }
func (f *fakeLayer) ResetCounters() {
	f.fp, f.bp = 0, 0
	f.resets++
}

func TestCollect(t *testing.T) {
	a := &fakeLayer{fp: time.Second, bp: 2 * time.Second}
	b := &fakeLayer{fp: 3 * time.Second, bp: 4 * time.Second}
	e := Collect(3, 0.5, []Timed{a, b})

	want := Epoch{Index: 3, Cost: 0.5, FPTime: 4 * time.Second, BPTime: 6 * time.Second}
	if e != want {
		t.Errorf("Collect = %+v, want %+v", e, want)
	}
	if a.resets != 1 || b.resets != 1 || a.fp != 0 || b.bp != 0 {
		t.Error("Collect did not reset the layer counters")
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, 2)
	for epoch := 1; epoch <= 4; epoch++ {
		l.OnEpochEnd(Epoch{Index: epoch, Cost: 1 / float64(epoch), FPTime: time.Millisecond})
	}
	l.OnTrainEnd()

	out := buf.String()
	if strings.Contains(out, "Epoch 1:") || strings.Contains(out, "Epoch 3:") {
		t.Errorf("Logger printed off-interval epochs:\n%s", out)
	}
	for _, want := range []string{"Epoch 2: cost = 0.500000", "Epoch 4: cost = 0.250000", "4 epochs: propagation 0.001000s"} {
		if !strings.Contains(out, want) {
			t.Errorf("Logger output missing %q:\n%s", want, out)
		}
	}
}

func TestCSVLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.csv")

	c := NewCSVLogger(path, false)
	c.OnTrainBegin()
	c.OnEpochEnd(Epoch{Index: 1, Cost: 0.25, FPTime: 1500 * time.Millisecond, BPTime: time.Second})
	c.OnTrainEnd()

	// Appending keeps the header single.
	c = NewCSVLogger(path, true)
	c.OnTrainBegin()
	c.OnEpochEnd(Epoch{Index: 2, Cost: 0.125})
	c.OnTrainEnd()
	if err := c.Err(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"epoch", "cost", "fp_seconds", "bp_seconds"},
		{"1", "0.25", "1.500000", "1.000000"},
		{"2", "0.125", "0.000000", "0.000000"},
	}
	if len(records) != len(want) {
		t.Fatalf("CSV has %d records, want %d: %v", len(records), len(want), records)
	}
	for i := range want {
		if strings.Join(records[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("record %d = %v, want %v", i, records[i], want[i])
		}
	}
}

func TestCSVLoggerOpenError(t *testing.T) {
	c := NewCSVLogger(filepath.Join(t.TempDir(), "missing", "progress.csv"), false)
	c.OnTrainBegin()
	c.OnEpochEnd(Epoch{Index: 1})
	c.OnTrainEnd()
	if c.Err() == nil {
		t.Error("Err() = nil, want open error")
	}
}

func TestEarlyStopping(t *testing.T) {
	es := NewEarlyStopping(2, 0.01)
	costs := []float64{1, 0.5, 0.495, 0.499}
	for i, cost := range costs {
		es.OnEpochEnd(Epoch{Index: i + 1, Cost: cost})
		if stopped := i == len(costs)-1; es.Stopped != stopped {
			t.Errorf("after epoch %d Stopped = %v, want %v", i+1, es.Stopped, stopped)
		}
	}
}

func TestListWithScheduler(t *testing.T) {
	sgd := opt.NewSGD(grid.Local(), 1, 0, false)
	es := NewEarlyStopping(1, 0)
	list := List{NewSchedulerCallback(opt.NewExponentialLR(sgd, 0.5)), es}

	list.OnTrainBegin()
	list.OnEpochEnd(Epoch{Index: 1, Cost: 1})
	list.OnEpochEnd(Epoch{Index: 2, Cost: 1})
	list.OnTrainEnd()

	if got := sgd.LearningRate(); got != 0.25 {
		t.Errorf("learning rate = %v, want 0.25", got)
	}
	if !es.Stopped {
		t.Error("EarlyStopping did not stop on a flat cost")
	}
}
