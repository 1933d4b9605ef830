// Package nn provides the primitive differentiable layers that the
// restoration blocks are composed from.
//
// Every layer consumes and produces feature maps: 4-D *tensor.Dense in
// (batch, channel, height, width) layout, backed by float32. Spatial
// layers assume the caller keeps height/width compatible with whatever
// striding or pooling the pipeline applies.
package nn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Float is the element type of every feature map.
var Float = tensor.Float32

// Layer is a differentiable tensor transform.
type Layer interface {
	Forward(x *tensor.Dense) (*tensor.Dense, error)
	Params() []*tensor.Dense
}

// BatchNormOp is implemented by layers that carry separate training and
// evaluation statistics.
type BatchNormOp interface {
	SetTraining()
	SetTesting()
	Reset() error
}

// New returns a zeroed feature map of the given shape.
func New(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.Of(Float))
}

// NewBacked wraps backing in a tensor without copying.
func NewBacked(backing []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

// Data exposes the raw backing slice of a feature map.
func Data(x *tensor.Dense) []float32 { return x.Data().([]float32) }

// BCHW destructures the shape of a 4-D feature map.
func BCHW(x *tensor.Dense) (b, c, h, w int, err error) {
	s := x.Shape()
	if len(s) != 4 {
		return 0, 0, 0, 0, errors.Errorf("expected a BCHW feature map, got shape %v", s)
	}
	return s[0], s[1], s[2], s[3], nil
}

func clone(x *tensor.Dense) *tensor.Dense { return x.Clone().(*tensor.Dense) }
