package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// LayerNorm2d is the channel-wise normalization with a hand-derived
// backward pass. Forward caches the normalized activation and the
// per-pixel variance; Backward uses the closed form
//
//	gx = (g − y·mean_c(g·y) − mean_c(g)) / sqrt(v + eps), g = dy·γ
//
// which avoids re-deriving the normalization through generic autograd.
// Swap in ChanNorm (or TracedChanNorm) if gradient throughput does not
// matter.
type LayerNorm2d struct {
	Gamma, Beta *tensor.Dense // (C)
	Eps         float32

	c int

	// forward cache
	y *tensor.Dense // normalized, pre-affine
	v []float32     // per-pixel channel variance, len B·H·W
}

func NewLayerNorm2d(c int) *LayerNorm2d {
	return &LayerNorm2d{
		Gamma: Ones(c),
		Beta:  Zeros(c),
		Eps:   1e-6,
		c:     c,
	}
}

func (l *LayerNorm2d) Params() []*tensor.Dense { return []*tensor.Dense{l.Gamma, l.Beta} }

func (l *LayerNorm2d) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "layernorm2d")
	}
	if c != l.c {
		return nil, errors.Errorf("layernorm2d expects %d channels, got %d", l.c, c)
	}

	hw := h * w
	l.y = New(b, c, h, w)
	l.v = make([]float32, b*hw)
	out := New(b, c, h, w)
	xd, yd, od := Data(x), Data(l.y), Data(out)
	gd, bd := Data(l.Gamma), Data(l.Beta)
	cf := float32(c)
	for bi := 0; bi < b; bi++ {
		base := bi * c * hw
		for p := 0; p < hw; p++ {
			var sum float32
			for ci := 0; ci < c; ci++ {
				sum += xd[base+ci*hw+p]
			}
			mu := sum / cf
			var sq float32
			for ci := 0; ci < c; ci++ {
				d := xd[base+ci*hw+p] - mu
				sq += d * d
			}
			v := sq / cf
			l.v[bi*hw+p] = v
			inv := 1 / math32.Sqrt(v+l.Eps)
			for ci := 0; ci < c; ci++ {
				y := (xd[base+ci*hw+p] - mu) * inv
				yd[base+ci*hw+p] = y
				od[base+ci*hw+p] = y*gd[ci] + bd[ci]
			}
		}
	}
	return out, nil
}

// Backward consumes the upstream gradient and returns the gradients for
// the input and for the affine parameters. Forward must have run first.
func (l *LayerNorm2d) Backward(dy *tensor.Dense) (dx, dgamma, dbeta *tensor.Dense, err error) {
	if l.y == nil {
		return nil, nil, nil, errors.New("layernorm2d: Backward called before Forward")
	}
	if !dy.Shape().Eq(l.y.Shape()) {
		return nil, nil, nil, errors.Errorf("layernorm2d: gradient shape %v does not match cached activation %v", dy.Shape(), l.y.Shape())
	}

	b, c, h, w, _ := BCHW(dy)
	hw := h * w
	dx = New(b, c, h, w)
	dgamma = Zeros(c)
	dbeta = Zeros(c)
	dyd, yd, dxd := Data(dy), Data(l.y), Data(dx)
	gd := Data(l.Gamma)
	dgd, dbd := Data(dgamma), Data(dbeta)
	cf := float32(c)
	for bi := 0; bi < b; bi++ {
		base := bi * c * hw
		for p := 0; p < hw; p++ {
			var meanG, meanGY float32
			for ci := 0; ci < c; ci++ {
				g := dyd[base+ci*hw+p] * gd[ci]
				meanG += g
				meanGY += g * yd[base+ci*hw+p]
			}
			meanG /= cf
			meanGY /= cf
			inv := 1 / math32.Sqrt(l.v[bi*hw+p]+l.Eps)
			for ci := 0; ci < c; ci++ {
				g := dyd[base+ci*hw+p] * gd[ci]
				y := yd[base+ci*hw+p]
				dxd[base+ci*hw+p] = (g - y*meanGY - meanG) * inv
				dgd[ci] += dyd[base+ci*hw+p] * y
				dbd[ci] += dyd[base+ci*hw+p]
			}
		}
	}
	return dx, dgamma, dbeta, nil
}
