package block

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// DeconvHeadAttention is channel-reduced multi-head attention enriched
// with a depthwise convolution. The input is channel-normalized, shrunk
// to dim/r, depthwise-convolved, split into heads, and attended along
// the per-pixel feature axis with L2-normalized queries and keys.
//
// Temperature is declared per head but deliberately not multiplied into
// the similarity, mirroring the trained model. Do not reintroduce it.
type DeconvHeadAttention struct {
	Norm *nn.ChanNorm
	QKV1 *nn.Conv2d // 1×1 to 3·dim/r
	QKV2 *nn.Conv2d // depthwise 3×3
	Out  *nn.Conv2d // 1×1 back to dim

	Temperature *tensor.Dense // (heads, 1, 1, 1), inactive

	Heads        int
	dim, reduced int
	headDim      int
}

func NewDeconvHeadAttention(dim, heads, r int) (*DeconvHeadAttention, error) {
	if dim < 1 || heads < 1 || r < 1 {
		return nil, errors.Errorf("attention needs positive dim/heads/r, got %d/%d/%d", dim, heads, r)
	}
	if dim%r != 0 {
		return nil, errors.Errorf("attention reduction %d does not divide dim %d", r, dim)
	}
	reduced := dim / r
	if reduced%heads != 0 {
		return nil, errors.Errorf("%d heads do not divide the reduced dim %d", heads, reduced)
	}

	qkv1, err := nn.NewPointwise(dim, 3*reduced, true)
	if err != nil {
		return nil, errors.Wrap(err, "attention qkv1")
	}
	qkv2, err := nn.NewDepthwise(3*reduced, 3, true)
	if err != nil {
		return nil, errors.Wrap(err, "attention qkv2")
	}
	out, err := nn.NewPointwise(reduced, dim, true)
	if err != nil {
		return nil, errors.Wrap(err, "attention out")
	}

	return &DeconvHeadAttention{
		Norm:        nn.NewChanNorm(dim),
		QKV1:        qkv1,
		QKV2:        qkv2,
		Out:         out,
		Temperature: nn.Ones(heads, 1, 1, 1),
		Heads:       heads,
		dim:         dim,
		reduced:     reduced,
		headDim:     reduced / heads,
	}, nil
}

func (l *DeconvHeadAttention) Params() []*tensor.Dense {
	retVal := collectParams(l.Norm, l.QKV1, l.QKV2, l.Out)
	return append(retVal, l.Temperature)
}

func (l *DeconvHeadAttention) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := nn.BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "attention")
	}
	if c != l.dim {
		return nil, errors.Errorf("attention expects %d channels, got %d", l.dim, c)
	}

	normed, err := l.Norm.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "attention")
	}
	qkv, err := l.QKV1.Forward(normed)
	if err != nil {
		return nil, errors.Wrap(err, "attention")
	}
	if qkv, err = l.QKV2.Forward(qkv); err != nil {
		return nil, errors.Wrap(err, "attention")
	}

	q, err := nn.ChannelSlice(qkv, 0, l.reduced)
	if err != nil {
		return nil, errors.Wrap(err, "attention")
	}
	k, err := nn.ChannelSlice(qkv, l.reduced, 2*l.reduced)
	if err != nil {
		return nil, errors.Wrap(err, "attention")
	}
	v, err := nn.ChannelSlice(qkv, 2*l.reduced, 3*l.reduced)
	if err != nil {
		return nil, errors.Wrap(err, "attention")
	}

	// (B, reduced, H, W) is already contiguous as (B, head, headDim, H·W)
	hw := h * w
	l2NormalizeRows(nn.Data(q), hw)
	l2NormalizeRows(nn.Data(k), hw)

	qd, kd, vd := nn.Data(q), nn.Data(k), nn.Data(v)
	agg := nn.New(b, l.reduced, h, w)
	ad := nn.Data(agg)
	attn := make([]float32, l.headDim*l.headDim)
	for bi := 0; bi < b; bi++ {
		for head := 0; head < l.Heads; head++ {
			base := (bi*l.reduced + head*l.headDim) * hw

			// similarity across the per-pixel feature axis; Temperature
			// would scale here but stays inactive
			for i := 0; i < l.headDim; i++ {
				qi := qd[base+i*hw : base+(i+1)*hw]
				for j := 0; j < l.headDim; j++ {
					kj := kd[base+j*hw : base+(j+1)*hw]
					var dot float32
					for p, qv := range qi {
						dot += qv * kj[p]
					}
					attn[i*l.headDim+j] = dot
				}
			}
			softmaxRows(attn, l.headDim)

			for i := 0; i < l.headDim; i++ {
				dst := ad[base+i*hw : base+(i+1)*hw]
				row := attn[i*l.headDim : (i+1)*l.headDim]
				for j, a := range row {
					vj := vd[base+j*hw : base+(j+1)*hw]
					for p, vv := range vj {
						dst[p] += a * vv
					}
				}
			}
		}
	}

	out, err := l.Out.Forward(agg)
	if err != nil {
		return nil, errors.Wrap(err, "attention")
	}
	return nn.Add(out, x)
}

// l2NormalizeRows scales each contiguous row of length n to unit L2 norm.
func l2NormalizeRows(data []float32, n int) {
	for off := 0; off < len(data); off += n {
		row := data[off : off+n]
		var sq float32
		for _, v := range row {
			sq += v * v
		}
		norm := math32.Sqrt(sq)
		if norm < 1e-12 {
			norm = 1e-12
		}
		inv := 1 / norm
		for i := range row {
			row[i] *= inv
		}
	}
}

// softmaxRows applies a numerically stable softmax to each row of an
// n×n matrix, in place.
func softmaxRows(m []float32, n int) {
	for off := 0; off < len(m); off += n {
		row := m[off : off+n]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float32
		for i, v := range row {
			e := math32.Exp(v - max)
			row[i] = e
			sum += e
		}
		inv := 1 / sum
		for i := range row {
			row[i] *= inv
		}
	}
}
