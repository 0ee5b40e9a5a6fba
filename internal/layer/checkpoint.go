package layer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
)

// errPeer marks a collective checkpoint step that failed on another rank.
var errPeer = errors.New("layer: checkpoint failed on another rank")

// owned lists the layer's buffers in file order.
func (b *Base) owned() []*dist.Matrix {
	return []*dist.Matrix{b.weights, b.weightsGrad, b.preacts, b.acts, b.errSignal, b.prevActs, b.prevErrSignal}
}

// SaveToFile writes this process's share of every buffer to w and returns
// the number of bytes written. Each rank writes its own stream.
func (b *Base) SaveToFile(w io.Writer) (int64, error) {
	if !b.ready {
		return 0, fmt.Errorf("layer %d: %w", b.cfg.Index, ErrNotSetup)
	}
	var total int64
	for _, m := range b.owned() {
		n, err := dist.WriteLocal(w, m)
		total += n
		if err != nil {
			return total, fmt.Errorf("layer %d: failed to save: %w", b.cfg.Index, err)
		}
	}
	return total, nil
}

// LoadFromFile reads buffers written by SaveToFile on the same grid shape.
func (b *Base) LoadFromFile(r io.Reader) (int64, error) {
	if !b.ready {
		return 0, fmt.Errorf("layer %d: %w", b.cfg.Index, ErrNotSetup)
	}
	var total int64
	for _, m := range b.owned() {
		n, err := dist.ReadLocal(r, m)
		total += n
		if err != nil {
			return total, fmt.Errorf("layer %d: failed to load: %w", b.cfg.Index, err)
		}
	}
	return total, nil
}

// checkpointPath returns the shared file of one buffer of the layer.
func (b *Base) checkpointPath(dir, name string) string {
	return filepath.Join(dir, fmt.Sprintf("L%d_%s.bin", b.cfg.Index, name))
}

type namedMatrix struct {
	name string
	m    *dist.Matrix
}

// shared lists the buffers kept in a shared checkpoint.
func (b *Base) shared() []namedMatrix {
	return []namedMatrix{{"weights", b.weights}, {"weights_gradient", b.weightsGrad}}
}

// SaveToCheckpointShared writes the whole weight and weight gradient
// matrices into dir from rank 0. It is collective and returns the bytes
// written on every rank.
func (b *Base) SaveToCheckpointShared(dir string) (int64, error) {
	if !b.ready {
		return 0, fmt.Errorf("layer %d: %w", b.cfg.Index, ErrNotSetup)
	}
	world := b.p.World()
	var total int64
	var err error
	for _, buf := range b.shared() {
		g := dist.Gather(buf.m)
		if b.p.Rank() == 0 && err == nil {
			var n int64
			n, err = writeFile(b.checkpointPath(dir, buf.name), g)
			total += n
		}
	}
	if err := agree(world.AllReduceSum(failed(err)), err); err != nil {
		return 0, fmt.Errorf("layer %d: failed to save checkpoint: %w", b.cfg.Index, err)
	}
	return int64(world.AllReduceSum(float64(total))), nil
}

// LoadFromCheckpointShared reads files written by SaveToCheckpointShared.
// Every rank reads the whole matrices and keeps its own entries, so the grid
// shape may differ from the one that saved them. It is collective.
func (b *Base) LoadFromCheckpointShared(dir string) (int64, error) {
	if !b.ready {
		return 0, fmt.Errorf("layer %d: %w", b.cfg.Index, ErrNotSetup)
	}
	world := b.p.World()
	var total int64
	for _, buf := range b.shared() {
		name, m := buf.name, buf.m
		g, n, err := readFile(b.checkpointPath(dir, name))
		total += n
		if err == nil {
			if r, c := g.Dims(); r != m.Height() || c != m.Width() {
				err = fmt.Errorf("%s is %dx%d, want %dx%d: %w", name, r, c, m.Height(), m.Width(), ErrShape)
			}
		}
		if err := agree(world.AllReduceSum(failed(err)), err); err != nil {
			return total, fmt.Errorf("layer %d: failed to load checkpoint: %w", b.cfg.Index, err)
		}
		dist.SetFromDense(m, g)
	}
	return total, nil
}

func writeFile(path string, g *mat.Dense) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(f)
	n, err := dist.WriteGlobal(bw, g)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func readFile(path string) (*mat.Dense, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return dist.ReadGlobal(bufio.NewReader(f))
}

func failed(err error) float64 {
	if err != nil {
		return 1
	}
	return 0
}

// agree turns a failure count summed over all ranks into an error on every
// rank: the local error where there is one, errPeer elsewhere.
func agree(failures float64, local error) error {
	if local != nil {
		return local
	}
	if failures > 0 {
		return errPeer
	}
	return nil
}
