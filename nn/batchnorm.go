package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// BatchNorm2d normalizes each channel over the batch and spatial axes.
// During training the batch statistics are used directly and folded into
// the running estimates; during testing the running estimates are used.
type BatchNorm2d struct {
	Scale, Bias *tensor.Dense // learned, per channel

	runningMean, runningVar []float32
	momentum, eps           float32
	c                       int
	training                bool
}

// NewBatchNorm2d uses the same momentum and epsilon the networks were
// trained with (0.997, 1e-5).
func NewBatchNorm2d(c int) *BatchNorm2d {
	bn := &BatchNorm2d{
		Scale:    Ones(c),
		Bias:     Zeros(c),
		momentum: 0.997,
		eps:      1e-5,
		c:        c,
		training: true,
	}
	bn.Reset()
	return bn
}

func (bn *BatchNorm2d) Params() []*tensor.Dense { return []*tensor.Dense{bn.Scale, bn.Bias} }

func (bn *BatchNorm2d) SetTraining() { bn.training = true }
func (bn *BatchNorm2d) SetTesting()  { bn.training = false }

// Reset clears the running statistics back to mean 0, variance 1.
func (bn *BatchNorm2d) Reset() error {
	bn.runningMean = make([]float32, bn.c)
	bn.runningVar = make([]float32, bn.c)
	for i := range bn.runningVar {
		bn.runningVar[i] = 1
	}
	return nil
}

func (bn *BatchNorm2d) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "batchnorm")
	}
	if c != bn.c {
		return nil, errors.Errorf("batchnorm expects %d channels, got %d", bn.c, c)
	}

	hw := h * w
	n := float32(b * hw)
	xd := Data(x)

	mean, variance := bn.runningMean, bn.runningVar
	if bn.training {
		mean = make([]float32, c)
		variance = make([]float32, c)
		for ci := 0; ci < c; ci++ {
			var sum float32
			for bi := 0; bi < b; bi++ {
				plane := xd[(bi*c+ci)*hw : (bi*c+ci+1)*hw]
				for _, v := range plane {
					sum += v
				}
			}
			mu := sum / n
			var sq float32
			for bi := 0; bi < b; bi++ {
				plane := xd[(bi*c+ci)*hw : (bi*c+ci+1)*hw]
				for _, v := range plane {
					d := v - mu
					sq += d * d
				}
			}
			mean[ci] = mu
			variance[ci] = sq / n
		}
		for ci := 0; ci < c; ci++ {
			bn.runningMean[ci] = bn.momentum*bn.runningMean[ci] + (1-bn.momentum)*mean[ci]
			bn.runningVar[ci] = bn.momentum*bn.runningVar[ci] + (1-bn.momentum)*variance[ci]
		}
	}

	out := New(b, c, h, w)
	od := Data(out)
	sd, bd := Data(bn.Scale), Data(bn.Bias)
	for ci := 0; ci < c; ci++ {
		inv := 1 / math32.Sqrt(variance[ci]+bn.eps)
		g, be := sd[ci], bd[ci]
		mu := mean[ci]
		for bi := 0; bi < b; bi++ {
			src := xd[(bi*c+ci)*hw : (bi*c+ci+1)*hw]
			dst := od[(bi*c+ci)*hw : (bi*c+ci+1)*hw]
			for i, v := range src {
				dst[i] = (v-mu)*inv*g + be
			}
		}
	}
	return out, nil
}
