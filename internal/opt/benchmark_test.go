// Package opt provides benchmarks for optimizers.
package opt

import (
	"testing"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
)

// randomPair returns weights and gradient of shape n x n on one process.
func randomPair(n int) (*dist.Matrix, *dist.Matrix) {
	p := grid.Local()
	w, g := dist.NewMatrix(p), dist.NewMatrix(p)
	dist.Zeros(w, n, n)
	dist.Zeros(g, n, n)
	src := rand.NewSource(1)
	dist.UniformFill(w, src, 0, 1)
	dist.UniformFill(g, src, 0, 1)
	return w, g
}

func benchmarkOptimizer(b *testing.B, name string) {
	factory, err := New(name, Config{LearningRate: 0.01, Momentum: 0.9})
	if err != nil {
		b.Fatal(err)
	}
	w, g := randomPair(128)
	o := factory(grid.Local())
	o.Setup(128, 128)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o.UpdateWeightBiasMatrix(g, w)
	}
}

func BenchmarkSGD(b *testing.B)     { benchmarkOptimizer(b, "sgd") }
func BenchmarkAdagrad(b *testing.B) { benchmarkOptimizer(b, "adagrad") }
func BenchmarkRMSprop(b *testing.B) { benchmarkOptimizer(b, "rmsprop") }
func BenchmarkAdam(b *testing.B)    { benchmarkOptimizer(b, "adam") }
