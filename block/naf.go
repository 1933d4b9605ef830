package block

import (
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// NAFBlock is the nonlinear-activation-free gated block: a gated
// convolution stage with simplified channel attention, then a gated
// feed-forward stage, each residual branch weighted by a learned
// per-channel scalar (Beta, Gamma) instead of a fixed coefficient.
type NAFBlock struct {
	Norm1 *nn.LayerNorm2d
	Conv1 *nn.Conv2d // 1×1, C → 2C
	Conv2 *nn.Conv2d // depthwise 3×3 on 2C
	SCA   *nn.Conv2d // 1×1 on the pooled map
	Conv3 *nn.Conv2d // 1×1, C → C
	Beta  *tensor.Dense

	Norm2 *nn.LayerNorm2d
	Conv4 *nn.Conv2d // 1×1, C → 2C
	Conv5 *nn.Conv2d // 1×1, C → C
	Gamma *tensor.Dense

	dim  int
	half bool
}

// NewNAFBlock builds the full two-stage block.
func NewNAFBlock(dim int) (*NAFBlock, error) { return newNAF(dim, false) }

// NewNAFBlockHalf keeps only the gated convolution stage.
func NewNAFBlockHalf(dim int) (*NAFBlock, error) { return newNAF(dim, true) }

func newNAF(dim int, half bool) (*NAFBlock, error) {
	conv1, err := nn.NewPointwise(dim, 2*dim, true)
	if err != nil {
		return nil, errors.Wrap(err, "naf conv1")
	}
	conv2, err := nn.NewDepthwise(2*dim, 3, true)
	if err != nil {
		return nil, errors.Wrap(err, "naf conv2")
	}
	sca, err := nn.NewPointwise(dim, dim, true)
	if err != nil {
		return nil, errors.Wrap(err, "naf sca")
	}
	conv3, err := nn.NewPointwise(dim, dim, true)
	if err != nil {
		return nil, errors.Wrap(err, "naf conv3")
	}

	l := &NAFBlock{
		Norm1: nn.NewLayerNorm2d(dim),
		Conv1: conv1,
		Conv2: conv2,
		SCA:   sca,
		Conv3: conv3,
		Beta:  nn.Zeros(1, dim, 1, 1),
		dim:   dim,
		half:  half,
	}
	if half {
		return l, nil
	}

	conv4, err := nn.NewPointwise(dim, 2*dim, true)
	if err != nil {
		return nil, errors.Wrap(err, "naf conv4")
	}
	conv5, err := nn.NewPointwise(dim, dim, true)
	if err != nil {
		return nil, errors.Wrap(err, "naf conv5")
	}
	l.Norm2 = nn.NewLayerNorm2d(dim)
	l.Conv4 = conv4
	l.Conv5 = conv5
	l.Gamma = nn.Zeros(1, dim, 1, 1)
	return l, nil
}

func (l *NAFBlock) Params() []*tensor.Dense {
	retVal := collectParams(l.Norm1, l.Conv1, l.Conv2, l.SCA, l.Conv3)
	retVal = append(retVal, l.Beta)
	if l.half {
		return retVal
	}
	retVal = append(retVal, collectParams(l.Norm2, l.Conv4, l.Conv5)...)
	return append(retVal, l.Gamma)
}

func (l *NAFBlock) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	_, c, _, _, err := nn.BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if c != l.dim {
		return nil, errors.Errorf("naf block expects %d channels, got %d", l.dim, c)
	}

	u, err := l.Norm1.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if u, err = l.Conv1.Forward(u); err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if u, err = l.Conv2.Forward(u); err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if u, err = nn.SimpleGate(u); err != nil {
		return nil, errors.Wrap(err, "naf")
	}

	// simplified channel attention: pooled 1×1 conv, no saturation
	pooled, err := nn.GlobalAvgPool(u)
	if err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	att, err := l.SCA.Forward(pooled)
	if err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if u, err = scaleChannels(u, nn.Data(att)); err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if u, err = l.Conv3.Forward(u); err != nil {
		return nil, errors.Wrap(err, "naf")
	}

	y, err := addWeighted(x, u, l.Beta)
	if err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if l.half {
		return y, nil
	}

	v, err := l.Norm2.Forward(y)
	if err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if v, err = l.Conv4.Forward(v); err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if v, err = nn.SimpleGate(v); err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	if v, err = l.Conv5.Forward(v); err != nil {
		return nil, errors.Wrap(err, "naf")
	}
	return addWeighted(y, v, l.Gamma)
}

// addWeighted computes x + u ⊙ weight with weight shaped (1, C, 1, 1).
func addWeighted(x, u, weight *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := nn.BCHW(x)
	if err != nil {
		return nil, err
	}
	if !x.Shape().Eq(u.Shape()) {
		return nil, errors.Errorf("weighted residual of mismatched shapes %v and %v", x.Shape(), u.Shape())
	}
	wd := nn.Data(weight)
	if len(wd) != c {
		return nil, errors.Errorf("residual weight has %d channels, want %d", len(wd), c)
	}

	hw := h * w
	out := x.Clone().(*tensor.Dense)
	od, ud := nn.Data(out), nn.Data(u)
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			off := (bi*c + ci) * hw
			g := wd[ci]
			for p := 0; p < hw; p++ {
				od[off+p] += g * ud[off+p]
			}
		}
	}
	return out, nil
}
