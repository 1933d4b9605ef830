package block

import (
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// FFN is the transformer feed-forward: channel norm, 1×1 expansion,
// SiLU self-gating, 1×1 projection, residual add.
type FFN struct {
	Norm *nn.ChanNorm
	Up   *nn.Conv2d
	Down *nn.Conv2d
}

func NewFFN(dim, mlpRatio int) (*FFN, error) {
	if mlpRatio < 1 {
		return nil, errors.Errorf("ffn needs a positive mlp ratio, got %d", mlpRatio)
	}
	up, err := nn.NewPointwise(dim, dim*mlpRatio, false)
	if err != nil {
		return nil, errors.Wrap(err, "ffn up")
	}
	down, err := nn.NewPointwise(dim*mlpRatio, dim, false)
	if err != nil {
		return nil, errors.Wrap(err, "ffn down")
	}
	return &FFN{Norm: nn.NewChanNorm(dim), Up: up, Down: down}, nil
}

func (l *FFN) Params() []*tensor.Dense { return collectParams(l.Norm, l.Up, l.Down) }

func (l *FFN) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := l.Norm.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "ffn")
	}
	if out, err = l.Up.Forward(out); err != nil {
		return nil, errors.Wrap(err, "ffn")
	}
	out = nn.SiLU(out)
	if out, err = l.Down.Forward(out); err != nil {
		return nil, errors.Wrap(err, "ffn")
	}
	return nn.Add(out, x)
}

// TransformerBlock pairs the channel-reduced attention with the FFN.
type TransformerBlock struct {
	Attn *DeconvHeadAttention
	FFN  *FFN
}

func NewTransformerBlock(dim, heads, r, mlpRatio int) (*TransformerBlock, error) {
	attn, err := NewDeconvHeadAttention(dim, heads, r)
	if err != nil {
		return nil, err
	}
	ffn, err := NewFFN(dim, mlpRatio)
	if err != nil {
		return nil, err
	}
	return &TransformerBlock{Attn: attn, FFN: ffn}, nil
}

func (l *TransformerBlock) Params() []*tensor.Dense { return collectParams(l.Attn, l.FFN) }

func (l *TransformerBlock) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	out, err := l.Attn.Forward(x)
	if err != nil {
		return nil, err
	}
	return l.FFN.Forward(out)
}
