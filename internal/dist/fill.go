package dist

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// UniformFill draws every local entry of a from U[center-radius, center+radius].
func UniformFill(a *Matrix, src rand.Source, center, radius float64) {
	d := distuv.Uniform{Min: center - radius, Max: center + radius, Src: src}
	EntrywiseMap(a, func(float64) float64 { return d.Rand() })
}

// GaussianFill draws every local entry of a from N(mean, std²).
func GaussianFill(a *Matrix, src rand.Source, mean, std float64) {
	d := distuv.Normal{Mu: mean, Sigma: std, Src: src}
	EntrywiseMap(a, func(float64) float64 { return d.Rand() })
}
