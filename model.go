package vidra

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/block"
	"github.com/vidra-ml/vidra/nn"
	"github.com/vidra-ml/vidra/pyramid"
	"gorgonia.org/tensor"
)

// Config configures the reference restoration model.
type Config struct {
	Channels int // image planes
	Width    int // trunk width
	Levels   int // pyramid levels

	TrunkDepth int // gated blocks on the low band
	BandDepth  int // conv stages per band-pass path

	Heads     int // attention heads
	Reduction int // attention channel reduction
	MLPRatio  int // feed-forward expansion
}

func DefaultConf(channels int) Config {
	return Config{
		Channels: channels,
		Width:    32,
		Levels:   2,

		TrunkDepth: 2,
		BandDepth:  2,

		Heads:     2,
		Reduction: 2,
		MLPRatio:  2,
	}
}

func (conf Config) IsValid() bool {
	return conf.Channels >= 1 &&
		conf.Levels >= 1 &&
		conf.TrunkDepth >= 1 &&
		conf.BandDepth >= 1 &&
		conf.Heads >= 1 &&
		conf.Reduction >= 1 &&
		conf.MLPRatio >= 1 &&
		conf.Width >= 8 &&
		conf.Width%(2*conf.Heads) == 0 &&
		conf.Width%conf.Reduction == 0
}

// Restorer is the reference model: the input is split into a Laplacian
// pyramid, the low-frequency residue runs through an attention and
// gated-convolution trunk, each band-pass level through a light conv
// path, and the bands are fused back into an image. Every path is
// residual, so a zero-weight model is close to an identity.
type Restorer struct {
	Config

	pyr   *pyramid.Pyramid
	Trunk *Pipeline
	Bands []*block.ConvBNReLUs
}

// pipeBuilder accumulates pipeline construction errors so the model
// assembly reads linearly.
type pipeBuilder struct {
	p   *Pipeline
	err error
}

func (b *pipeBuilder) add(name string, l nn.Layer, err error) {
	if b.err != nil {
		return
	}
	if err != nil {
		b.err = errors.Wrapf(err, "layer %q", name)
		return
	}
	if _, err := b.p.Add(name, l); err != nil {
		b.err = err
	}
}

// New builds a Restorer from the config.
func New(conf Config) (*Restorer, error) {
	if !conf.IsValid() {
		return nil, errors.Errorf("invalid config %+v", conf)
	}
	pyr, err := pyramid.New(conf.Levels)
	if err != nil {
		return nil, errors.Wrap(err, "restorer")
	}
	r := &Restorer{Config: conf, pyr: pyr}

	b := pipeBuilder{p: NewPipeline()}
	head, err := nn.NewConv2d(conf.Channels, conf.Width, 3, nn.ConvOpt{Padding: 1, Bias: true})
	b.add("head", head, err)
	attn, err := block.NewTransformerBlock(conf.Width, conf.Heads, conf.Reduction, conf.MLPRatio)
	b.add("attn", attn, err)
	for i := 0; i < conf.TrunkDepth; i++ {
		naf, err := block.NewNAFBlock(conf.Width)
		b.add(fmt.Sprintf("naf%d", i), naf, err)
	}
	tail, err := nn.NewConv2d(conf.Width, conf.Channels, 3, nn.ConvOpt{Padding: 1, Bias: true})
	b.add("tail", tail, err)
	if b.err != nil {
		return nil, errors.Wrap(b.err, "restorer trunk")
	}
	r.Trunk = b.p

	r.Bands = make([]*block.ConvBNReLUs, conf.Levels)
	for i := range r.Bands {
		if r.Bands[i], err = block.NewConvBNReLUs(conf.Channels, conf.Width, conf.Channels, conf.BandDepth); err != nil {
			return nil, errors.Wrapf(err, "restorer band %d", i)
		}
	}
	return r, nil
}

func (r *Restorer) Params() []*tensor.Dense {
	retVal := r.Trunk.Params()
	for _, band := range r.Bands {
		retVal = append(retVal, band.Params()...)
	}
	return retVal
}

func (r *Restorer) SetTraining() {
	r.Trunk.SetTraining()
	for _, band := range r.Bands {
		band.SetTraining()
	}
}

func (r *Restorer) SetTesting() {
	r.Trunk.SetTesting()
	for _, band := range r.Bands {
		band.SetTesting()
	}
}

func (r *Restorer) Reset() error {
	if err := r.Trunk.Reset(); err != nil {
		return err
	}
	for _, band := range r.Bands {
		if err := band.Reset(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Restorer) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	bands, err := r.pyr.Decompose(x)
	if err != nil {
		return nil, errors.Wrap(err, "restorer")
	}

	low := bands[len(bands)-1]
	restored, err := r.Trunk.Forward(low)
	if err != nil {
		return nil, errors.Wrap(err, "restorer trunk")
	}
	if bands[len(bands)-1], err = nn.Add(low, restored); err != nil {
		return nil, errors.Wrap(err, "restorer trunk")
	}

	for i, band := range r.Bands {
		refined, err := band.Forward(bands[i])
		if err != nil {
			return nil, errors.Wrapf(err, "restorer band %d", i)
		}
		if bands[i], err = nn.Add(bands[i], refined); err != nil {
			return nil, errors.Wrapf(err, "restorer band %d", i)
		}
	}
	return r.pyr.Reconstruct(bands)
}

func (r *Restorer) GobEncode() ([]byte, error) { return encodeParams(r.Params()) }

// GobDecode loads parameters into an already-constructed model with a
// matching configuration.
func (r *Restorer) GobDecode(p []byte) error { return decodeParams(p, r.Params()) }
