package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ChanNorm normalizes across the channel axis per spatial location:
// (x − μ) / (σ + eps) · g + b with μ, σ taken over channels only. This is
// the direct formulation; LayerNorm2d is the hand-differentiated one.
type ChanNorm struct {
	G, B *tensor.Dense // (1, C, 1, 1)
	Eps  float32

	c int
}

func NewChanNorm(c int) *ChanNorm {
	return &ChanNorm{
		G:   Ones(1, c, 1, 1),
		B:   Zeros(1, c, 1, 1),
		Eps: 1e-5,
		c:   c,
	}
}

func (l *ChanNorm) Params() []*tensor.Dense { return []*tensor.Dense{l.G, l.B} }

func (l *ChanNorm) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "channorm")
	}
	if c != l.c {
		return nil, errors.Errorf("channorm expects %d channels, got %d", l.c, c)
	}

	hw := h * w
	out := New(b, c, h, w)
	xd, od := Data(x), Data(out)
	gd, bd := Data(l.G), Data(l.B)
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
			sd := math32.Sqrt(sq / cf)
			inv := 1 / (sd + l.Eps)
			for ci := 0; ci < c; ci++ {
				od[base+ci*hw+p] = (xd[base+ci*hw+p]-mu)*inv*gd[ci] + bd[ci]
			}
		}
	}
	return out, nil
}
