// Package layer provides benchmarks for the fully connected layer.
package layer

import (
	"fmt"
	"testing"

	"github.com/FlavioCFOliveira/gridneuron/internal/activations"
	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
)

func benchmarkLayer(b *testing.B, size int) *FullyConnected {
	fc, err := newLayer(grid.Local(), size, size, 64, activations.TypeReLU, nil)
	if err != nil {
		b.Fatal(err)
	}
	newState(size, size, 64, 1).load(fc)
	return fc
}

func BenchmarkForwardProp(b *testing.B) {
	for _, size := range []int{32, 128, 512} {
		b.Run(fmt.Sprintf("%d", size), func(b *testing.B) {
			fc := benchmarkLayer(b, size)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := fc.ForwardProp(0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkBackProp(b *testing.B) {
	for _, size := range []int{32, 128, 512} {
		b.Run(fmt.Sprintf("%d", size), func(b *testing.B) {
			fc := benchmarkLayer(b, size)
			if _, err := fc.ForwardProp(0); err != nil {
				b.Fatal(err)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := fc.BackProp(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
