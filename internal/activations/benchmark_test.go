// Package activations provides benchmarks for activation functions.
package activations

import (
	"testing"

	"golang.org/x/exp/rand"
)

// fillRandom fills a slice with random values in [-2, 2).
func fillRandom(slice []float64) {
	rnd := rand.New(rand.NewSource(1))
	for i := range slice {
		slice[i] = 4*rnd.Float64() - 2
	}
}

// BenchmarkActivate benchmarks Activate for every activation type.
func BenchmarkActivate(b *testing.B) {
	inputs := make([]float64, 1000)
	fillRandom(inputs)

	for typ := TypeSigmoid; typ <= TypeELU; typ++ {
		act := New(typ)
		b.Run(typ.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				for _, x := range inputs {
					act.Activate(x)
				}
			}
		})
	}
}

// BenchmarkDerivative benchmarks Derivative for every activation type.
func BenchmarkDerivative(b *testing.B) {
	inputs := make([]float64, 1000)
	fillRandom(inputs)

	for typ := TypeSigmoid; typ <= TypeELU; typ++ {
		act := New(typ)
		b.Run(typ.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				for _, x := range inputs {
					act.Derivative(x)
				}
			}
		})
	}
}
