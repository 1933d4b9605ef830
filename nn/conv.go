package nn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ConvOpt carries the optional knobs of a convolution. Zero values mean
// stride 1, no padding, dilation 1, a single group, zero padding mode and
// no bias term.
type ConvOpt struct {
	Stride   int
	Padding  int
	Dilation int
	Groups   int
	Bias     bool
	Mode     PadMode
}

// Conv2d is a 2-D convolution over BCHW feature maps. Weights are laid
// out as (outC, inC/groups, k, k).
type Conv2d struct {
	W *tensor.Dense
	B *tensor.Dense // nil when the layer has no bias

	InC, OutC, Kernel                  int
	Stride, Padding, Dilation, Groups int
	Mode                              PadMode
}

// NewConv2d builds a convolution with Kaiming-normal weights.
func NewConv2d(inC, outC, kernel int, opt ConvOpt) (*Conv2d, error) {
	if opt.Stride == 0 {
		opt.Stride = 1
	}
	if opt.Dilation == 0 {
		opt.Dilation = 1
	}
	if opt.Groups == 0 {
		opt.Groups = 1
	}
	if inC < 1 || outC < 1 || kernel < 1 {
		return nil, errors.Errorf("conv2d needs positive channel and kernel sizes, got in=%d out=%d k=%d", inC, outC, kernel)
	}
	if inC%opt.Groups != 0 || outC%opt.Groups != 0 {
		return nil, errors.Errorf("conv2d channels (%d in, %d out) not divisible by %d groups", inC, outC, opt.Groups)
	}

	icg := inC / opt.Groups
	l := &Conv2d{
		W:        KaimingNormal(icg*kernel*kernel, outC, icg, kernel, kernel),
		InC:      inC,
		OutC:     outC,
		Kernel:   kernel,
		Stride:   opt.Stride,
		Padding:  opt.Padding,
		Dilation: opt.Dilation,
		Groups:   opt.Groups,
		Mode:     opt.Mode,
	}
	if opt.Bias {
		l.B = Zeros(outC)
	}
	return l, nil
}

// NewPointwise is a 1×1 convolution.
func NewPointwise(inC, outC int, bias bool) (*Conv2d, error) {
	return NewConv2d(inC, outC, 1, ConvOpt{Bias: bias})
}

// NewDepthwise is a per-channel k×k convolution with same-padding.
func NewDepthwise(c, kernel int, bias bool) (*Conv2d, error) {
	return NewConv2d(c, c, kernel, ConvOpt{Padding: kernel / 2, Groups: c, Bias: bias})
}

func (l *Conv2d) Params() []*tensor.Dense {
	if l.B == nil {
		return []*tensor.Dense{l.W}
	}
	return []*tensor.Dense{l.W, l.B}
}

func (l *Conv2d) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "conv2d")
	}
	if c != l.InC {
		return nil, errors.Errorf("conv2d expects %d input channels, got %d", l.InC, c)
	}

	src, pad := x, l.Padding
	if pad > 0 && l.Mode == PadReflect {
		if src, err = ReflectPad(x, pad); err != nil {
			return nil, errors.Wrap(err, "conv2d")
		}
		h += 2 * pad
		w += 2 * pad
		pad = 0
	}

	span := l.Dilation*(l.Kernel-1) + 1
	oh := (h+2*pad-span)/l.Stride + 1
	ow := (w+2*pad-span)/l.Stride + 1
	if oh < 1 || ow < 1 {
		return nil, errors.Errorf("conv2d kernel %d (dilation %d) does not fit a %dx%d input", l.Kernel, l.Dilation, h, w)
	}

	icg := l.InC / l.Groups
	ocg := l.OutC / l.Groups
	out := New(b, l.OutC, oh, ow)
	xd, od, wd := Data(src), Data(out), Data(l.W)

	var bias []float32
	if l.B != nil {
		bias = Data(l.B)
	}

	for bi := 0; bi < b; bi++ {
		for g := 0; g < l.Groups; g++ {
			for oc := g * ocg; oc < (g+1)*ocg; oc++ {
				dst := od[(bi*l.OutC+oc)*oh*ow:]
				for oy := 0; oy < oh; oy++ {
					for ox := 0; ox < ow; ox++ {
						var acc float32
						for ic := 0; ic < icg; ic++ {
							in := xd[(bi*c+g*icg+ic)*h*w:]
							wRow := wd[((oc*icg+ic)*l.Kernel)*l.Kernel:]
							for ky := 0; ky < l.Kernel; ky++ {
								sy := oy*l.Stride - pad + ky*l.Dilation
								if sy < 0 || sy >= h {
									continue
								}
								for kx := 0; kx < l.Kernel; kx++ {
									sx := ox*l.Stride - pad + kx*l.Dilation
									if sx < 0 || sx >= w {
										continue
									}
									acc += in[sy*w+sx] * wRow[ky*l.Kernel+kx]
								}
							}
						}
						if bias != nil {
							acc += bias[oc]
						}
						dst[oy*ow+ox] = acc
					}
				}
			}
		}
	}
	return out, nil
}
