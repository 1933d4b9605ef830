// Package vidra composes differentiable image and video restoration
// layers into runnable models.
//
// The primitive layers live in nn, the assembled blocks in block, and
// the supporting transforms (Laplacian pyramid, Wiener filter, the
// streaming temporal-shift wrappers) in their own packages. This
// package ties them together: Pipeline chains named layers, and
// Restorer is the reference multi-band restoration model.
package vidra

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// Pipeline is an ordered chain of named layers. Layers that carry
// batch statistics are tracked so training and evaluation modes fan
// out in one call.
type Pipeline struct {
	names  []string
	layers []nn.Layer
	ops    []nn.BatchNormOp
}

func NewPipeline() *Pipeline { return &Pipeline{} }

// Add appends a layer under a unique name and returns the pipeline for
// chaining.
func (p *Pipeline) Add(name string, l nn.Layer) (*Pipeline, error) {
	for _, n := range p.names {
		if n == name {
			return nil, errors.Errorf("pipeline already has a layer named %q", name)
		}
	}
	p.names = append(p.names, name)
	p.layers = append(p.layers, l)
	if op, ok := l.(nn.BatchNormOp); ok {
		p.ops = append(p.ops, op)
	}
	return p, nil
}

func (p *Pipeline) Names() []string    { return p.names }
func (p *Pipeline) Layers() []nn.Layer { return p.layers }

func (p *Pipeline) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	for i, l := range p.layers {
		if x, err = l.Forward(x); err != nil {
			return nil, errors.Wrapf(err, "pipeline layer %q", p.names[i])
		}
	}
	return x, nil
}

func (p *Pipeline) Params() []*tensor.Dense {
	var retVal []*tensor.Dense
	for _, l := range p.layers {
		retVal = append(retVal, l.Params()...)
	}
	return retVal
}

func (p *Pipeline) SetTraining() {
	for _, op := range p.ops {
		op.SetTraining()
	}
}

func (p *Pipeline) SetTesting() {
	for _, op := range p.ops {
		op.SetTesting()
	}
}

func (p *Pipeline) Reset() error {
	for _, op := range p.ops {
		if err := op.Reset(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) GobEncode() ([]byte, error) {
	return encodeParams(p.Params())
}

// GobDecode loads parameter values into the already-constructed
// pipeline. The architecture must match the one that was encoded.
func (p *Pipeline) GobDecode(buf []byte) error {
	return decodeParams(buf, p.Params())
}

// encodeParams writes parameter tensors in model order.
func encodeParams(params []*tensor.Dense) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	for i, param := range params {
		if err := enc.Encode(param); err != nil {
			return nil, errors.Wrapf(err, "parameter %d", i)
		}
	}
	return buf.Bytes(), nil
}

// decodeParams reads parameter tensors in model order and copies them
// into the live parameters, which must already have the right shapes.
func decodeParams(p []byte, params []*tensor.Dense) error {
	dec := gob.NewDecoder(bytes.NewBuffer(p))
	for i, param := range params {
		v := new(tensor.Dense)
		if err := dec.Decode(v); err != nil {
			return errors.Wrapf(err, "parameter %d", i)
		}
		if !v.Shape().Eq(param.Shape()) {
			return errors.Errorf("parameter %d has shape %v, want %v", i, v.Shape(), param.Shape())
		}
		copy(nn.Data(param), nn.Data(v))
	}
	return nil
}
