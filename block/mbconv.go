package block

import (
	"math"

	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// MBConvBlock is the mobile-inverted bottleneck: 1×1 expand, depthwise
// 3×3, squeeze-and-excite, 1×1 project, each conv batch-normalized. The
// residual connection applies only when input and output widths match.
type MBConvBlock struct {
	Expand  *nn.Conv2d
	BN1     *nn.BatchNorm2d
	Mid     *nn.Conv2d
	BN2     *nn.BatchNorm2d
	SE      *SELayer
	Project *nn.Conv2d
	BN3     *nn.BatchNorm2d

	identity bool
}

// NewMBConvBlock expands to round(inC · expandRatio) hidden channels
// with a depthwise middle convolution.
func NewMBConvBlock(inC, outC int, expandRatio float64) (*MBConvBlock, error) {
	return newMBConv(inC, outC, expandRatio, true)
}

// NewFusedMBConvBlock replaces the depthwise middle convolution with a
// full 3×3 one.
func NewFusedMBConvBlock(inC, outC int, expandRatio float64) (*MBConvBlock, error) {
	return newMBConv(inC, outC, expandRatio, false)
}

func newMBConv(inC, outC int, expandRatio float64, depthwise bool) (*MBConvBlock, error) {
	hidden := int(math.Round(float64(inC) * expandRatio))
	if hidden < 1 {
		return nil, errors.Errorf("mbconv expand ratio %v collapses %d channels", expandRatio, inC)
	}

	expand, err := nn.NewPointwise(inC, hidden, false)
	if err != nil {
		return nil, errors.Wrap(err, "mbconv expand")
	}
	var mid *nn.Conv2d
	if depthwise {
		mid, err = nn.NewDepthwise(hidden, 3, false)
	} else {
		mid, err = nn.NewConv2d(hidden, hidden, 3, nn.ConvOpt{Padding: 1})
	}
	if err != nil {
		return nil, errors.Wrap(err, "mbconv mid")
	}
	se, err := NewSELayer(hidden, 4)
	if err != nil {
		return nil, errors.Wrap(err, "mbconv se")
	}
	project, err := nn.NewPointwise(hidden, outC, false)
	if err != nil {
		return nil, errors.Wrap(err, "mbconv project")
	}

	return &MBConvBlock{
		Expand:   expand,
		BN1:      nn.NewBatchNorm2d(hidden),
		Mid:      mid,
		BN2:      nn.NewBatchNorm2d(hidden),
		SE:       se,
		Project:  project,
		BN3:      nn.NewBatchNorm2d(outC),
		identity: inC == outC,
	}, nil
}

func (l *MBConvBlock) Params() []*tensor.Dense {
	return collectParams(l.Expand, l.BN1, l.Mid, l.BN2, l.SE, l.Project, l.BN3)
}

func (l *MBConvBlock) SetTraining() { setTraining(l.BN1, l.BN2, l.BN3) }
func (l *MBConvBlock) SetTesting()  { setTesting(l.BN1, l.BN2, l.BN3) }
func (l *MBConvBlock) Reset() error { return resetOps(l.BN1, l.BN2, l.BN3) }

func (l *MBConvBlock) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := l.Expand.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "mbconv")
	}
	if out, err = l.BN1.Forward(out); err != nil {
		return nil, errors.Wrap(err, "mbconv")
	}
	out = nn.SiLU(out)
	if out, err = l.Mid.Forward(out); err != nil {
		return nil, errors.Wrap(err, "mbconv")
	}
	if out, err = l.BN2.Forward(out); err != nil {
		return nil, errors.Wrap(err, "mbconv")
	}
	out = nn.SiLU(out)
	if out, err = l.SE.Forward(out); err != nil {
		return nil, errors.Wrap(err, "mbconv")
	}
	if out, err = l.Project.Forward(out); err != nil {
		return nil, errors.Wrap(err, "mbconv")
	}
	if out, err = l.BN3.Forward(out); err != nil {
		return nil, errors.Wrap(err, "mbconv")
	}
	if !l.identity {
		return out, nil
	}
	return nn.Add(out, x)
}
