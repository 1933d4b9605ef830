package nn

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ChanNormNode builds the direct channel-norm ((x−μ)/(σ+eps)·γ+β) as a
// gorgonia subgraph, so the gradient is traced by the graph instead of
// being hand-derived. gamma and beta must be (1, C, 1, 1) nodes.
func ChanNormNode(x, gamma, beta *G.Node, eps float32) (*G.Node, error) {
	sd, xc, err := chanMoments(x)
	if err != nil {
		return nil, err
	}
	if sd, err = G.Sqrt(sd); err != nil {
		return nil, errors.WithStack(err)
	}
	if sd, err = G.Add(sd, G.NewConstant(eps)); err != nil {
		return nil, errors.WithStack(err)
	}
	return affineNorm(xc, sd, gamma, beta)
}

// LayerNormNode builds the (x−μ)/sqrt(v+eps)·γ+β formulation, the graph
// twin of LayerNorm2d. Its traced gradient is what LayerNorm2d.Backward
// computes in closed form.
func LayerNormNode(x, gamma, beta *G.Node, eps float32) (*G.Node, error) {
	v, xc, err := chanMoments(x)
	if err != nil {
		return nil, err
	}
	if v, err = G.Add(v, G.NewConstant(eps)); err != nil {
		return nil, errors.WithStack(err)
	}
	if v, err = G.Sqrt(v); err != nil {
		return nil, errors.WithStack(err)
	}
	return affineNorm(xc, v, gamma, beta)
}

// chanMoments returns the per-pixel channel variance (B,1,H,W) and the
// centered input.
func chanMoments(x *G.Node) (v, xc *G.Node, err error) {
	s := x.Shape()
	if len(s) != 4 {
		return nil, nil, errors.Errorf("channel norm needs a BCHW node, got shape %v", s)
	}
	keep := tensor.Shape{s[0], 1, s[2], s[3]}

	mu, err := G.Mean(x, 1)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if mu, err = G.Reshape(mu, keep); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if xc, err = G.BroadcastSub(x, mu, nil, []byte{1}); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	sq, err := G.Square(xc)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if v, err = G.Mean(sq, 1); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if v, err = G.Reshape(v, keep); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return v, xc, nil
}

func affineNorm(xc, denom, gamma, beta *G.Node) (*G.Node, error) {
	y, err := G.BroadcastHadamardDiv(xc, denom, nil, []byte{1})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if y, err = G.BroadcastHadamardProd(y, gamma, nil, []byte{0, 2, 3}); err != nil {
		return nil, errors.WithStack(err)
	}
	if y, err = G.BroadcastAdd(y, beta, nil, []byte{0, 2, 3}); err != nil {
		return nil, errors.WithStack(err)
	}
	return y, nil
}

// TracedChanNorm owns a compiled graph for one input shape, following
// the same build-once-run-many pattern as a gorgonia inferencer.
type TracedChanNorm struct {
	g           *G.ExprGraph
	x           *G.Node
	gamma, beta *G.Node
	out         *G.Node
	outVal      G.Value
	vm          G.VM

	shape tensor.Shape
}

// NewTracedChanNorm compiles the direct channel norm for a fixed BCHW
// shape.
func NewTracedChanNorm(b, c, h, w int, eps float32) (*TracedChanNorm, error) {
	t := &TracedChanNorm{
		g:     G.NewGraph(),
		shape: tensor.Shape{b, c, h, w},
	}
	t.x = G.NewTensor(t.g, Float, 4, G.WithShape(b, c, h, w), G.WithName("x"))
	t.gamma = G.NewTensor(t.g, Float, 4, G.WithName("gamma"), G.WithValue(Ones(1, c, 1, 1)))
	t.beta = G.NewTensor(t.g, Float, 4, G.WithName("beta"), G.WithValue(Zeros(1, c, 1, 1)))

	var err error
	if t.out, err = ChanNormNode(t.x, t.gamma, t.beta, eps); err != nil {
		return nil, errors.Wrap(err, "traced channorm")
	}
	G.Read(t.out, &t.outVal)
	t.vm = G.NewTapeMachine(t.g)
	return t, nil
}

// Model returns the learnable nodes, for hooking up a solver.
func (t *TracedChanNorm) Model() G.Nodes { return G.Nodes{t.gamma, t.beta} }

func (t *TracedChanNorm) Params() []*tensor.Dense {
	return []*tensor.Dense{
		t.gamma.Value().(*tensor.Dense),
		t.beta.Value().(*tensor.Dense),
	}
}

func (t *TracedChanNorm) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	if !x.Shape().Eq(t.shape) {
		return nil, errors.Errorf("traced channorm compiled for shape %v, got %v", t.shape, x.Shape())
	}
	t.vm.Reset()
	if err := G.Let(t.x, x); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := t.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "traced channorm")
	}
	return t.outVal.(*tensor.Dense).Clone().(*tensor.Dense), nil
}

// Close releases the underlying virtual machine.
func (t *TracedChanNorm) Close() error { return t.vm.Close() }
