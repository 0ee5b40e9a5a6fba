package layer

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/gridneuron/internal/dist"
)

// ErrUnknownInit is returned by ParseWeightInit for unsupported names.
var ErrUnknownInit = errors.New("layer: unknown weight initialization")

// WeightInit selects how the N x P weight block is drawn at Setup.
type WeightInit int

const (
	InitZero WeightInit = iota
	InitUniform
	InitNormal
	InitGlorotNormal
	InitGlorotUniform
	InitHeNormal
	InitHeUniform
)

var initNames = [...]string{
	InitZero:          "zero",
	InitUniform:       "uniform",
	InitNormal:        "normal",
	InitGlorotNormal:  "glorot_normal",
	InitGlorotUniform: "glorot_uniform",
	InitHeNormal:      "he_normal",
	InitHeUniform:     "he_uniform",
}

func (w WeightInit) String() string {
	if w >= 0 && int(w) < len(initNames) {
		return initNames[w]
	}
	return fmt.Sprintf("WeightInit(%d)", int(w))
}

// ParseWeightInit returns the policy with the given name.
func ParseWeightInit(s string) (WeightInit, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for w, n := range initNames {
		if n == name {
			return WeightInit(w), nil
		}
	}
	return InitZero, fmt.Errorf("%q: %w", s, ErrUnknownInit)
}

// fillWeights draws the entries of w, an n x p block, according to policy.
// Unknown policies leave the block at zero.
func fillWeights(w *dist.Matrix, policy WeightInit, src rand.Source) {
	n, p := float64(w.Height()), float64(w.Width())
	switch policy {
	case InitUniform:
		dist.UniformFill(w, src, 0, 1)
	case InitNormal:
		dist.GaussianFill(w, src, 0, 1)
	case InitGlorotNormal:
		dist.GaussianFill(w, src, 0, math.Sqrt(2/(p+n)))
	case InitGlorotUniform:
		dist.UniformFill(w, src, 0, math.Sqrt(3*2/(p+n)))
	case InitHeNormal:
		dist.GaussianFill(w, src, 0, math.Sqrt(1/p))
	case InitHeUniform:
		dist.UniformFill(w, src, 0, math.Sqrt(3/p))
	default:
		dist.Zero(w)
	}
}

// rankSource returns the random source of one process. Every rank draws its
// own entries from a distinct stream of the same seed.
func rankSource(seed uint64, rank int) rand.Source {
	return rand.NewSource(seed ^ uint64(rank+1)*0x9e3779b97f4a7c15)
}
