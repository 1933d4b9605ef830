package block

import (
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// UNetBlock is a symmetric encoder/decoder around a dilated bottleneck,
// wrapped in one global residual. Skip connections are additions, so
// encoder and decoder widths must match level by level; a mismatch is
// an error, not something the block papers over.
type UNetBlock struct {
	Level int

	Input  *ConvBNReLU
	Enc    []*ConvBNReLU
	Bottom *ConvBNReLU
	Dec    []*ConvBNReLU

	pool nn.MaxPool2
}

func NewUNetBlock(level, inC, hiddenC, outC int) (*UNetBlock, error) {
	if level < 1 {
		return nil, errors.Errorf("unet needs at least one level, got %d", level)
	}

	input, err := NewConvBNReLU(inC, outC, CBROpt{})
	if err != nil {
		return nil, errors.Wrap(err, "unet input")
	}
	u := &UNetBlock{
		Level: level,
		Input: input,
		Enc:   make([]*ConvBNReLU, level),
		Dec:   make([]*ConvBNReLU, level),
	}

	for l := 0; l < level; l++ {
		in := hiddenC
		if l == 0 {
			in = outC
		}
		if u.Enc[l], err = NewConvBNReLU(in, hiddenC, CBROpt{}); err != nil {
			return nil, errors.Wrapf(err, "unet encoder %d", l)
		}
	}

	if u.Bottom, err = NewConvBNReLU(hiddenC, hiddenC, CBROpt{Dilation: 2}); err != nil {
		return nil, errors.Wrap(err, "unet bottom")
	}

	for l := level - 1; l >= 0; l-- {
		out := hiddenC
		if l == 0 {
			out = outC
		}
		if u.Dec[l], err = NewConvBNReLU(hiddenC, out, CBROpt{}); err != nil {
			return nil, errors.Wrapf(err, "unet decoder %d", l)
		}
	}
	return u, nil
}

func (u *UNetBlock) Params() []*tensor.Dense {
	retVal := u.Input.Params()
	for _, e := range u.Enc {
		retVal = append(retVal, e.Params()...)
	}
	retVal = append(retVal, u.Bottom.Params()...)
	for _, d := range u.Dec {
		retVal = append(retVal, d.Params()...)
	}
	return retVal
}

func (u *UNetBlock) SetTraining() {
	u.Input.SetTraining()
	for _, e := range u.Enc {
		e.SetTraining()
	}
	u.Bottom.SetTraining()
	for _, d := range u.Dec {
		d.SetTraining()
	}
}

func (u *UNetBlock) SetTesting() {
	u.Input.SetTesting()
	for _, e := range u.Enc {
		e.SetTesting()
	}
	u.Bottom.SetTesting()
	for _, d := range u.Dec {
		d.SetTesting()
	}
}

func (u *UNetBlock) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	x, err := u.Input.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "unet")
	}
	global := x

	encoded := make([]*tensor.Dense, u.Level)
	for l := 0; l < u.Level; l++ {
		if x, err = u.Enc[l].Forward(x); err != nil {
			return nil, errors.Wrapf(err, "unet encoder %d", l)
		}
		encoded[l] = x
		if x, err = u.pool.Forward(x); err != nil {
			return nil, errors.Wrapf(err, "unet downsample %d", l)
		}
	}

	if x, err = u.Bottom.Forward(x); err != nil {
		return nil, errors.Wrap(err, "unet bottom")
	}

	for l := u.Level - 1; l >= 0; l-- {
		if x, err = nn.Upsample2x(x); err != nil {
			return nil, errors.Wrapf(err, "unet upsample %d", l)
		}
		fused, err := nn.Add(x, encoded[l])
		if err != nil {
			return nil, errors.Wrapf(err, "unet skip %d", l)
		}
		if x, err = u.Dec[l].Forward(fused); err != nil {
			return nil, errors.Wrapf(err, "unet decoder %d", l)
		}
	}

	return nn.Add(global, x)
}
