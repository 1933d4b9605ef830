package block

import (
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// CBROpt carries the optional stride/dilation of a ConvBNReLU. Zero
// values mean stride 1, dilation 1.
type CBROpt struct {
	Stride   int
	Dilation int
}

// ConvBNReLU is the 3×3 convolution / batch norm / ReLU unit the
// encoder-decoder blocks are assembled from.
type ConvBNReLU struct {
	Conv *nn.Conv2d
	BN   *nn.BatchNorm2d
}

func NewConvBNReLU(inC, outC int, opt CBROpt) (*ConvBNReLU, error) {
	if opt.Stride == 0 {
		opt.Stride = 1
	}
	if opt.Dilation == 0 {
		opt.Dilation = 1
	}
	conv, err := nn.NewConv2d(inC, outC, 3, nn.ConvOpt{
		Stride:   opt.Stride,
		Padding:  opt.Dilation,
		Dilation: opt.Dilation,
		Bias:     true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "convbnrelu")
	}
	return &ConvBNReLU{Conv: conv, BN: nn.NewBatchNorm2d(outC)}, nil
}

func (l *ConvBNReLU) Params() []*tensor.Dense { return collectParams(l.Conv, l.BN) }
func (l *ConvBNReLU) SetTraining()            { setTraining(l.BN) }
func (l *ConvBNReLU) SetTesting()             { setTesting(l.BN) }
func (l *ConvBNReLU) Reset() error            { return resetOps(l.BN) }

func (l *ConvBNReLU) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := l.Conv.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "convbnrelu")
	}
	if out, err = l.BN.Forward(out); err != nil {
		return nil, errors.Wrap(err, "convbnrelu")
	}
	return nn.ReLU(out), nil
}

// RConvBNReLU adds a 1×1 identity-projection residual around the unit.
type RConvBNReLU struct {
	ExpandDim *nn.Conv2d
	Body      *ConvBNReLU
}

func NewRConvBNReLU(inC, outC int, opt CBROpt) (*RConvBNReLU, error) {
	expand, err := nn.NewPointwise(inC, outC, true)
	if err != nil {
		return nil, errors.Wrap(err, "rconvbnrelu")
	}
	body, err := NewConvBNReLU(inC, outC, opt)
	if err != nil {
		return nil, err
	}
	return &RConvBNReLU{ExpandDim: expand, Body: body}, nil
}

func (l *RConvBNReLU) Params() []*tensor.Dense { return collectParams(l.ExpandDim, l.Body) }
func (l *RConvBNReLU) SetTraining()            { l.Body.SetTraining() }
func (l *RConvBNReLU) SetTesting()             { l.Body.SetTesting() }
func (l *RConvBNReLU) Reset() error            { return l.Body.Reset() }

func (l *RConvBNReLU) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	skip, err := l.ExpandDim.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "rconvbnrelu")
	}
	out, err := l.Body.Forward(x)
	if err != nil {
		return nil, err
	}
	return nn.Add(skip, out)
}

// RDConvBNReLU factors the body into a pointwise then depthwise
// convolution, with the same identity-projection residual.
type RDConvBNReLU struct {
	ExpandDim *nn.Conv2d
	PConv     *nn.Conv2d
	DConv     *nn.Conv2d
	BN        *nn.BatchNorm2d
}

func NewRDConvBNReLU(inC, outC int, opt CBROpt) (*RDConvBNReLU, error) {
	if opt.Stride == 0 {
		opt.Stride = 1
	}
	if opt.Dilation == 0 {
		opt.Dilation = 1
	}
	expand, err := nn.NewPointwise(inC, outC, true)
	if err != nil {
		return nil, errors.Wrap(err, "rdconvbnrelu")
	}
	pconv, err := nn.NewConv2d(inC, outC, 1, nn.ConvOpt{Bias: true})
	if err != nil {
		return nil, errors.Wrap(err, "rdconvbnrelu")
	}
	dconv, err := nn.NewConv2d(outC, outC, 3, nn.ConvOpt{
		Stride:   opt.Stride,
		Padding:  opt.Dilation,
		Dilation: opt.Dilation,
		Groups:   outC,
		Bias:     true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "rdconvbnrelu")
	}
	return &RDConvBNReLU{
		ExpandDim: expand,
		PConv:     pconv,
		DConv:     dconv,
		BN:        nn.NewBatchNorm2d(outC),
	}, nil
}

func (l *RDConvBNReLU) Params() []*tensor.Dense {
	return collectParams(l.ExpandDim, l.PConv, l.DConv, l.BN)
}
func (l *RDConvBNReLU) SetTraining() { setTraining(l.BN) }
func (l *RDConvBNReLU) SetTesting()  { setTesting(l.BN) }
func (l *RDConvBNReLU) Reset() error { return resetOps(l.BN) }

func (l *RDConvBNReLU) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	skip, err := l.ExpandDim.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "rdconvbnrelu")
	}
	out, err := l.PConv.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "rdconvbnrelu")
	}
	if out, err = l.DConv.Forward(out); err != nil {
		return nil, errors.Wrap(err, "rdconvbnrelu")
	}
	if out, err = l.BN.Forward(out); err != nil {
		return nil, errors.Wrap(err, "rdconvbnrelu")
	}
	return nn.Add(skip, nn.ReLU(out))
}

// ConvBNReLUs chains depth units, the first mapping in→hidden and the
// last hidden→out.
type ConvBNReLUs struct {
	Stages []*ConvBNReLU
}

func NewConvBNReLUs(inC, hiddenC, outC, depth int) (*ConvBNReLUs, error) {
	if depth < 1 {
		return nil, errors.Errorf("conv chain needs depth >= 1, got %d", depth)
	}
	stages := make([]*ConvBNReLU, depth)
	for d := range stages {
		in, out := hiddenC, hiddenC
		if d == 0 {
			in = inC
		}
		if d == depth-1 {
			out = outC
		}
		var err error
		if stages[d], err = NewConvBNReLU(in, out, CBROpt{}); err != nil {
			return nil, err
		}
	}
	return &ConvBNReLUs{Stages: stages}, nil
}

func (l *ConvBNReLUs) Params() []*tensor.Dense {
	var retVal []*tensor.Dense
	for _, s := range l.Stages {
		retVal = append(retVal, s.Params()...)
	}
	return retVal
}

func (l *ConvBNReLUs) SetTraining() {
	for _, s := range l.Stages {
		s.SetTraining()
	}
}

func (l *ConvBNReLUs) SetTesting() {
	for _, s := range l.Stages {
		s.SetTesting()
	}
}

func (l *ConvBNReLUs) Reset() error {
	for _, s := range l.Stages {
		if err := s.Reset(); err != nil {
			return err
		}
	}
	return nil
}

func (l *ConvBNReLUs) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	for _, s := range l.Stages {
		if x, err = s.Forward(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}
