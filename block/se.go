package block

import (
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// SELayer is squeeze-and-excite: global average pool to a per-channel
// scalar, a two-layer bottleneck MLP, a sigmoid gate, and a channel-wise
// rescale of the input.
type SELayer struct {
	Squeeze *nn.Linear
	Excite  *nn.Linear

	dim int
}

func NewSELayer(dim, reduction int) (*SELayer, error) {
	if reduction < 1 || dim/reduction < 1 {
		return nil, errors.Errorf("se reduction %d too large for %d channels", reduction, dim)
	}
	return &SELayer{
		Squeeze: nn.NewLinear(dim, dim/reduction, true),
		Excite:  nn.NewLinear(dim/reduction, dim, true),
		dim:     dim,
	}, nil
}

func (l *SELayer) Params() []*tensor.Dense { return collectParams(l.Squeeze, l.Excite) }

func (l *SELayer) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, _, _, err := nn.BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "se")
	}
	if c != l.dim {
		return nil, errors.Errorf("se expects %d channels, got %d", l.dim, c)
	}

	pooled, err := nn.GlobalAvgPool(x)
	if err != nil {
		return nil, errors.Wrap(err, "se")
	}
	flat := nn.NewBacked(nn.Data(pooled), b, c)

	gate, err := l.Squeeze.Forward(flat)
	if err != nil {
		return nil, errors.Wrap(err, "se")
	}
	gate = nn.SiLU(gate)
	if gate, err = l.Excite.Forward(gate); err != nil {
		return nil, errors.Wrap(err, "se")
	}
	gate = nn.Sigmoid(gate)

	return scaleChannels(x, nn.Data(gate))
}

// scaleChannels multiplies every channel plane by its (batch, channel)
// scalar. The gate is laid out (B, C).
func scaleChannels(x *tensor.Dense, gate []float32) (*tensor.Dense, error) {
	b, c, h, w, err := nn.BCHW(x)
	if err != nil {
		return nil, err
	}
	if len(gate) != b*c {
		return nil, errors.Errorf("gate has %d entries, want %d", len(gate), b*c)
	}

	hw := h * w
	out := x.Clone().(*tensor.Dense)
	od := nn.Data(out)
	for bc := 0; bc < b*c; bc++ {
		plane := od[bc*hw : (bc+1)*hw]
		g := gate[bc]
		for i := range plane {
			plane[i] *= g
		}
	}
	return out, nil
}
