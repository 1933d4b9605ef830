package nn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

type slicer struct {
	v   tensor.View
	err error
}

func (s *slicer) Slice(a *tensor.Dense, slices ...tensor.Slice) *tensor.Dense {
	if s.err != nil {
		return nil
	}
	if s.v, s.err = a.Slice(slices...); s.err != nil {
		s.err = errors.Wrapf(s.err, "Slicer failed") // get a stack trace
		return nil
	}
	return s.v.(*tensor.Dense)
}

type rs struct {
	start, end, step int
}

func (s rs) Start() int { return s.start }
func (s rs) End() int   { return s.end }
func (s rs) Step() int  { return s.step }

// sli creates a ranged slice. It takes an optional step param.
func sli(start, end int, opts ...int) rs {
	step := 1
	if len(opts) > 0 {
		step = opts[0]
	}
	return rs{
		start: start,
		end:   end,
		step:  step,
	}
}

// ChannelSlice copies channels [from, to) of a feature map into a fresh,
// contiguous feature map.
func ChannelSlice(x *tensor.Dense, from, to int) (*tensor.Dense, error) {
	_, c, _, _, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "channel slice")
	}
	if from < 0 || to > c || from >= to {
		return nil, errors.Errorf("channel slice [%d, %d) out of range for %d channels", from, to, c)
	}
	var s slicer
	view := s.Slice(x, nil, sli(from, to))
	if s.err != nil {
		return nil, s.err
	}
	return view.Materialize().(*tensor.Dense), nil
}

// ConcatChannels stitches feature maps of identical batch and spatial size
// together along the channel axis.
func ConcatChannels(parts ...*tensor.Dense) (*tensor.Dense, error) {
	if len(parts) == 0 {
		return nil, errors.New("concat of no feature maps")
	}
	b, _, h, w, err := BCHW(parts[0])
	if err != nil {
		return nil, errors.Wrap(err, "concat")
	}
	totalC := 0
	for i, p := range parts {
		pb, pc, ph, pw, err := BCHW(p)
		if err != nil {
			return nil, errors.Wrap(err, "concat")
		}
		if pb != b || ph != h || pw != w {
			return nil, errors.Errorf("concat part %d has shape %v, want batch %d and %dx%d", i, p.Shape(), b, h, w)
		}
		totalC += pc
	}

	out := New(b, totalC, h, w)
	od := Data(out)
	hw := h * w
	cOff := 0
	for _, p := range parts {
		pc := p.Shape()[1]
		pd := Data(p)
		for bi := 0; bi < b; bi++ {
			dst := od[(bi*totalC+cOff)*hw : (bi*totalC+cOff+pc)*hw]
			src := pd[bi*pc*hw : (bi+1)*pc*hw]
			copy(dst, src)
		}
		cOff += pc
	}
	return out, nil
}

// Add returns a + b elementwise. Shapes must match exactly.
func Add(a, b *tensor.Dense) (*tensor.Dense, error) {
	if !a.Shape().Eq(b.Shape()) {
		return nil, errors.Errorf("elementwise add of mismatched shapes %v and %v", a.Shape(), b.Shape())
	}
	out := clone(a)
	vecf32.Add(Data(out), Data(b))
	return out, nil
}

// AddInPlace accumulates b into a.
func AddInPlace(a, b *tensor.Dense) error {
	if !a.Shape().Eq(b.Shape()) {
		return errors.Errorf("elementwise add of mismatched shapes %v and %v", a.Shape(), b.Shape())
	}
	vecf32.Add(Data(a), Data(b))
	return nil
}

// Mul returns a ⊙ b elementwise.
func Mul(a, b *tensor.Dense) (*tensor.Dense, error) {
	if !a.Shape().Eq(b.Shape()) {
		return nil, errors.Errorf("elementwise mul of mismatched shapes %v and %v", a.Shape(), b.Shape())
	}
	out := clone(a)
	vecf32.Mul(Data(out), Data(b))
	return out, nil
}

// Scale multiplies a feature map by a scalar, in place.
func Scale(a *tensor.Dense, s float32) { vecf32.Scale(Data(a), s) }
