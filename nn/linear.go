package nn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Linear computes y = xWᵀ + b over (batch, features) matrices. The
// weight is stored (out, in) so each output row is a contiguous dot.
type Linear struct {
	W *tensor.Dense
	B *tensor.Dense // nil when bias is disabled

	In, Out int
}

func NewLinear(in, out int, bias bool) *Linear {
	l := &Linear{
		W:   KaimingNormal(in, out, in),
		In:  in,
		Out: out,
	}
	if bias {
		l.B = Zeros(out)
	}
	return l
}

func (l *Linear) Params() []*tensor.Dense {
	if l.B == nil {
		return []*tensor.Dense{l.W}
	}
	return []*tensor.Dense{l.W, l.B}
}

func (l *Linear) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	s := x.Shape()
	if len(s) != 2 {
		return nil, errors.Errorf("linear expects a (batch, features) matrix, got shape %v", s)
	}
	if s[1] != l.In {
		return nil, errors.Errorf("linear expects %d input features, got %d", l.In, s[1])
	}

	b := s[0]
	out := New(b, l.Out)
	xd, od, wd := Data(x), Data(out), Data(l.W)
	var bias []float32
	if l.B != nil {
		bias = Data(l.B)
	}
	for bi := 0; bi < b; bi++ {
		row := xd[bi*l.In : (bi+1)*l.In]
		for o := 0; o < l.Out; o++ {
			wrow := wd[o*l.In : (o+1)*l.In]
			var acc float32
			for i, v := range row {
				acc += v * wrow[i]
			}
			if bias != nil {
				acc += bias[o]
			}
			od[bi*l.Out+o] = acc
		}
	}
	return out, nil
}
