// Package activations provides elementwise activation functions.
package activations

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownType is returned when an activation name cannot be parsed.
var ErrUnknownType = errors.New("unknown activation type")

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) from the preactivation x
	Derivative(x float64) float64
}

// Type selects an activation function.
type Type int

const (
	TypeSigmoid Type = iota + 1
	TypeTanh
	TypeReLU
	TypeID
	TypeLeakyReLU
	TypeSmoothReLU
	TypeELU
)

var typeNames = map[Type]string{
	TypeSigmoid:    "sigmoid",
	TypeTanh:       "tanh",
	TypeReLU:       "relu",
	TypeID:         "id",
	TypeLeakyReLU:  "leaky_relu",
	TypeSmoothReLU: "smooth_relu",
	TypeELU:        "elu",
}

// String returns the lower-case name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses an activation name such as "relu" or "leaky_relu".
func ParseType(name string) (Type, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	if name == "identity" || name == "linear" {
		return TypeID, nil
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnknownType)
}

// New returns the activation for t. The zero Type and unknown values map to
// the identity.
func New(t Type) Activation {
	switch t {
	case TypeSigmoid:
		return Sigmoid{}
	case TypeTanh:
		return Tanh{}
	case TypeReLU:
		return ReLU{}
	case TypeLeakyReLU:
		return NewLeakyReLU(0.01)
	case TypeSmoothReLU:
		return SmoothReLU{}
	case TypeELU:
		return NewELU(1.0)
	default:
		return Identity{}
	}
}

// Identity passes values through unchanged.
type Identity struct{}

// Activate returns x
func (Identity) Activate(x float64) float64 { return x }

// Derivative returns 1
func (Identity) Derivative(float64) float64 { return 1 }

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Sigmoid activation function.
type Sigmoid struct{}

// sigmoid computes the sigmoid function
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float64) float64 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float64) float64 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

// LeakyReLU activation function to prevent dying neurons.
type LeakyReLU struct {
	Alpha float64 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given alpha value.
func NewLeakyReLU(alpha float64) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// Derivative returns 1 if x > 0, else alpha
func (l *LeakyReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

// SmoothReLU is the softplus function log(1 + e^x).
type SmoothReLU struct{}

// Activate computes log(1 + e^x) without overflowing for large x
func (SmoothReLU) Activate(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// Derivative computes sigmoid(x)
func (SmoothReLU) Derivative(x float64) float64 {
	return sigmoid(x)
}

// ELU activation function.
type ELU struct {
	Alpha float64
}

// NewELU creates an ELU with the given alpha value.
func NewELU(alpha float64) *ELU {
	return &ELU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*(e^x - 1)
func (e *ELU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return e.Alpha * math.Expm1(x)
}

// Derivative returns 1 if x > 0, else alpha*e^x
func (e *ELU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return e.Alpha * math.Exp(x)
}

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

// Derivative computes 1 - tanh(x)^2
func (t Tanh) Derivative(x float64) float64 {
	tanhX := math.Tanh(x)
	return 1 - tanhX*tanhX
}
