package block

import (
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

const stemIntermCh = 30

// InputConvBlock is the multi-frame stem: each input frame (3 color
// planes plus a noise map) is convolved in its own group before the
// frames are fused.
type InputConvBlock struct {
	Grouped *nn.Conv2d
	BN1     *nn.BatchNorm2d
	Fuse    *nn.Conv2d
	BN2     *nn.BatchNorm2d
}

func NewInputConvBlock(numInFrames, outC int) (*InputConvBlock, error) {
	if numInFrames < 1 {
		return nil, errors.Errorf("input stem needs at least one frame, got %d", numInFrames)
	}
	grouped, err := nn.NewConv2d(numInFrames*4, numInFrames*stemIntermCh, 3, nn.ConvOpt{
		Padding: 1,
		Groups:  numInFrames,
	})
	if err != nil {
		return nil, errors.Wrap(err, "input stem")
	}
	fuse, err := nn.NewConv2d(numInFrames*stemIntermCh, outC, 3, nn.ConvOpt{Padding: 1})
	if err != nil {
		return nil, errors.Wrap(err, "input stem")
	}
	return &InputConvBlock{
		Grouped: grouped,
		BN1:     nn.NewBatchNorm2d(numInFrames * stemIntermCh),
		Fuse:    fuse,
		BN2:     nn.NewBatchNorm2d(outC),
	}, nil
}

func (l *InputConvBlock) Params() []*tensor.Dense {
	return collectParams(l.Grouped, l.BN1, l.Fuse, l.BN2)
}
func (l *InputConvBlock) SetTraining() { setTraining(l.BN1, l.BN2) }
func (l *InputConvBlock) SetTesting()  { setTesting(l.BN1, l.BN2) }
func (l *InputConvBlock) Reset() error { return resetOps(l.BN1, l.BN2) }

func (l *InputConvBlock) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := l.Grouped.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "input stem")
	}
	if out, err = l.BN1.Forward(out); err != nil {
		return nil, errors.Wrap(err, "input stem")
	}
	out = nn.ReLU(out)
	if out, err = l.Fuse.Forward(out); err != nil {
		return nil, errors.Wrap(err, "input stem")
	}
	if out, err = l.BN2.Forward(out); err != nil {
		return nil, errors.Wrap(err, "input stem")
	}
	return nn.ReLU(out), nil
}

// OutputConvBlock maps the trunk features back to the output planes,
// leaving the final convolution unactivated.
type OutputConvBlock struct {
	Conv1 *nn.Conv2d
	BN    *nn.BatchNorm2d
	Conv2 *nn.Conv2d
}

func NewOutputConvBlock(inC, outC int) (*OutputConvBlock, error) {
	conv1, err := nn.NewConv2d(inC, inC, 3, nn.ConvOpt{Padding: 1})
	if err != nil {
		return nil, errors.Wrap(err, "output block")
	}
	conv2, err := nn.NewConv2d(inC, outC, 3, nn.ConvOpt{Padding: 1})
	if err != nil {
		return nil, errors.Wrap(err, "output block")
	}
	return &OutputConvBlock{Conv1: conv1, BN: nn.NewBatchNorm2d(inC), Conv2: conv2}, nil
}

func (l *OutputConvBlock) Params() []*tensor.Dense { return collectParams(l.Conv1, l.BN, l.Conv2) }
func (l *OutputConvBlock) SetTraining()            { setTraining(l.BN) }
func (l *OutputConvBlock) SetTesting()             { setTesting(l.BN) }
func (l *OutputConvBlock) Reset() error            { return resetOps(l.BN) }

func (l *OutputConvBlock) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := l.Conv1.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "output block")
	}
	if out, err = l.BN.Forward(out); err != nil {
		return nil, errors.Wrap(err, "output block")
	}
	out = nn.ReLU(out)
	return l.Conv2.Forward(out)
}

// ConvBlock is a conv stack with an optional stride-2 entry and an
// optional pixel-shuffle ×2 exit, for moving between scales.
type ConvBlock struct {
	Down   *nn.Conv2d
	DownBN *nn.BatchNorm2d
	Body   []*ConvBNReLU
	Up     *nn.Conv2d

	shuffle nn.PixelShuffle
}

func NewConvBlock(inC, hiddenC, outC, depth int, downsample, upsample bool) (*ConvBlock, error) {
	l := &ConvBlock{shuffle: nn.PixelShuffle{R: 2}}
	bodyIn := inC
	if downsample {
		down, err := nn.NewConv2d(inC, hiddenC, 3, nn.ConvOpt{Padding: 1, Stride: 2})
		if err != nil {
			return nil, errors.Wrap(err, "conv block down")
		}
		l.Down = down
		l.DownBN = nn.NewBatchNorm2d(hiddenC)
		bodyIn = hiddenC
	}

	l.Body = make([]*ConvBNReLU, depth)
	for d := range l.Body {
		in := hiddenC
		if d == 0 {
			in = bodyIn
		}
		var err error
		if l.Body[d], err = NewConvBNReLU(in, hiddenC, CBROpt{}); err != nil {
			return nil, err
		}
	}

	if upsample {
		up, err := nn.NewConv2d(hiddenC, 4*outC, 3, nn.ConvOpt{Padding: 1})
		if err != nil {
			return nil, errors.Wrap(err, "conv block up")
		}
		l.Up = up
	}
	return l, nil
}

func (l *ConvBlock) Params() []*tensor.Dense {
	var retVal []*tensor.Dense
	if l.Down != nil {
		retVal = append(retVal, collectParams(l.Down, l.DownBN)...)
	}
	for _, b := range l.Body {
		retVal = append(retVal, b.Params()...)
	}
	if l.Up != nil {
		retVal = append(retVal, l.Up.Params()...)
	}
	return retVal
}

func (l *ConvBlock) SetTraining() {
	if l.DownBN != nil {
		l.DownBN.SetTraining()
	}
	for _, b := range l.Body {
		b.SetTraining()
	}
}

func (l *ConvBlock) SetTesting() {
	if l.DownBN != nil {
		l.DownBN.SetTesting()
	}
	for _, b := range l.Body {
		b.SetTesting()
	}
}

func (l *ConvBlock) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	if l.Down != nil {
		if x, err = l.Down.Forward(x); err != nil {
			return nil, errors.Wrap(err, "conv block")
		}
		if x, err = l.DownBN.Forward(x); err != nil {
			return nil, errors.Wrap(err, "conv block")
		}
		x = nn.ReLU(x)
	}
	for _, b := range l.Body {
		if x, err = b.Forward(x); err != nil {
			return nil, err
		}
	}
	if l.Up != nil {
		if x, err = l.Up.Forward(x); err != nil {
			return nil, errors.Wrap(err, "conv block")
		}
		return l.shuffle.Forward(x)
	}
	return x, nil
}
