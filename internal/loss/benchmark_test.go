// Package loss provides benchmarks for loss functions.
package loss

import (
	"testing"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
)

func randomMatrix(p *grid.Process, r, c int, seed uint64) *dist.Matrix {
	m := dist.NewMatrix(p)
	dist.Zeros(m, r, c)
	dist.GaussianFill(m, rand.NewSource(seed), 0, 1)
	return m
}

// BenchmarkResidual benchmarks the error signal of a 64-output layer over a
// mini-batch of 256 samples.
func BenchmarkResidual(b *testing.B) {
	p := grid.Local()
	pm, tm := randomMatrix(p, 65, 256, 1), randomMatrix(p, 65, 256, 2)
	dst := dist.NewMatrix(p)
	dist.Zeros(dst, 65, 256)

	for _, l := range []Loss{MSE{}, Huber{Delta: 1}, L1{}} {
		b.Run(l.Name(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				l.Residual(dst, pm, tm, 64)
			}
		})
	}
}

// BenchmarkForward benchmarks the loss value.
func BenchmarkForward(b *testing.B) {
	p := grid.Local()
	pm, tm := randomMatrix(p, 65, 256, 1), randomMatrix(p, 65, 256, 2)
	for i := 0; i < b.N; i++ {
		MSE{}.Forward(pm, tm, 64)
	}
}
