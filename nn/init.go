package nn

import (
	"github.com/chewxy/math32"
	rng "github.com/leesper/go_rng"
	"gorgonia.org/tensor"
)

// The parameter initializers draw from the same Gaussian source gorgonia
// uses for its own weight init. Reseed for reproducible draws.
var gauss = rng.NewGaussianGenerator(1337)

// SeedInit reseeds the parameter initializer.
func SeedInit(seed int64) { gauss = rng.NewGaussianGenerator(seed) }

// KaimingNormal draws weights from N(0, sqrt(2/fanIn)).
func KaimingNormal(fanIn int, shape ...int) *tensor.Dense {
	std := math32.Sqrt(2 / float32(fanIn))
	n := 1
	for _, s := range shape {
		n *= s
	}
	backing := make([]float32, n)
	for i := range backing {
		backing[i] = float32(gauss.Gaussian(0, float64(std)))
	}
	return NewBacked(backing, shape...)
}

// Ones returns a tensor filled with 1.
func Ones(shape ...int) *tensor.Dense {
	return tensor.Ones(Float, shape...)
}

// Zeros returns a tensor filled with 0.
func Zeros(shape ...int) *tensor.Dense {
	return New(shape...)
}
