package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// ReLU rectifies a feature map into a fresh tensor.
func ReLU(x *tensor.Dense) *tensor.Dense {
	out := clone(x)
	d := Data(out)
	for i, v := range d {
		if v < 0 {
			d[i] = 0
		}
	}
	return out
}

// SiLU applies the smooth self-gated activation x·σ(x).
func SiLU(x *tensor.Dense) *tensor.Dense {
	out := clone(x)
	d := Data(out)
	for i, v := range d {
		d[i] = v / (1 + math32.Exp(-v))
	}
	return out
}

// Sigmoid squashes a feature map into (0, 1).
func Sigmoid(x *tensor.Dense) *tensor.Dense {
	out := clone(x)
	d := Data(out)
	for i, v := range d {
		d[i] = 1 / (1 + math32.Exp(-v))
	}
	return out
}

// SimpleGate splits the channels into two halves and multiplies them
// elementwise, halving the channel count.
func SimpleGate(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "simple gate")
	}
	if c%2 != 0 {
		return nil, errors.Errorf("simple gate needs an even channel count, got %d", c)
	}

	half := c / 2
	hw := h * w
	out := New(b, half, h, w)
	xd, od := Data(x), Data(out)
	for bi := 0; bi < b; bi++ {
		fst := xd[bi*c*hw : bi*c*hw+half*hw]
		snd := xd[bi*c*hw+half*hw : (bi+1)*c*hw]
		dst := od[bi*half*hw : (bi+1)*half*hw]
		copy(dst, fst)
		vecf32.Mul(dst, snd)
	}
	return out, nil
}

// InverseSigmoid is the clamped logit, the inverse of a sigmoid gate.
type InverseSigmoid struct {
	VMin, VMax float32
	Eps        float32
}

// NewInverseSigmoid clamps to [-6, 6] with a 1e-6 guard against division
// by zero, matching the defaults of the restoration model.
func NewInverseSigmoid() *InverseSigmoid {
	return &InverseSigmoid{VMin: -6, VMax: 6, Eps: 1e-6}
}

func (l *InverseSigmoid) Params() []*tensor.Dense { return nil }

func (l *InverseSigmoid) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	out := clone(x)
	d := Data(out)
	for i, v := range d {
		lg := math32.Log(v / (1 - v + l.Eps))
		if lg < l.VMin {
			lg = l.VMin
		}
		if lg > l.VMax {
			lg = l.VMax
		}
		d[i] = lg
	}
	return out, nil
}
