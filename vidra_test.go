package vidra

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

func randImg(b, c, h, w int) *tensor.Dense {
	return tensor.New(tensor.WithShape(b, c, h, w), tensor.WithBacking(tensor.Random(nn.Float, b*c*h*w)))
}

func simplePipeline(t *testing.T) *Pipeline {
	p := NewPipeline()
	conv, err := nn.NewPointwise(3, 8, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err = p.Add("lift", conv); err != nil {
		t.Fatalf("%+v", err)
	}
	proj, err := nn.NewPointwise(8, 3, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err = p.Add("proj", proj); err != nil {
		t.Fatalf("%+v", err)
	}
	return p
}

func TestPipelineForwardAndNames(t *testing.T) {
	assert := assert.New(t)
	p := simplePipeline(t)

	out, err := p.Forward(randImg(1, 3, 4, 4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]int{1, 3, 4, 4}, []int(out.Shape()))
	assert.Equal([]string{"lift", "proj"}, p.Names())
	assert.Len(p.Layers(), 2)
	assert.Len(p.Params(), 4)
}

func TestPipelineRejectsDuplicateName(t *testing.T) {
	p := simplePipeline(t)
	conv, err := nn.NewPointwise(3, 3, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := p.Add("lift", conv); err == nil {
		t.Error("duplicate layer name must be rejected")
	}
}

func TestPipelineGobRoundTrip(t *testing.T) {
	assert := assert.New(t)
	src := simplePipeline(t)
	dst := simplePipeline(t)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(src); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := gob.NewDecoder(&buf).Decode(dst); err != nil {
		t.Fatalf("%+v", err)
	}

	sp, dp := src.Params(), dst.Params()
	for i := range sp {
		assert.Equal(nn.Data(sp[i]), nn.Data(dp[i]), "parameter %d", i)
	}

	x := randImg(2, 3, 4, 4)
	a, err := src.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b, err := dst.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(nn.Data(a), nn.Data(b))
}

func TestDefaultConfIsValid(t *testing.T) {
	assert := assert.New(t)
	assert.True(DefaultConf(3).IsValid())

	conf := DefaultConf(3)
	conf.Width = 10 // not divisible by 2*Heads
	assert.False(conf.IsValid())

	conf = DefaultConf(3)
	conf.Levels = 0
	assert.False(conf.IsValid())

	if _, err := New(conf); err == nil {
		t.Error("invalid config must be rejected")
	}
}

func TestRestorerPreservesShape(t *testing.T) {
	assert := assert.New(t)
	conf := DefaultConf(3)
	conf.Width = 16
	conf.TrunkDepth = 1
	conf.BandDepth = 1
	r, err := New(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	r.SetTesting()

	for _, size := range [][2]int{{32, 32}, {17, 23}} {
		x := randImg(1, 3, size[0], size[1])
		out, err := r.Forward(x)
		if err != nil {
			t.Fatalf("%dx%d: %+v", size[0], size[1], err)
		}
		assert.Equal(x.Shape(), out.Shape(), "%dx%d", size[0], size[1])
	}
}

func TestRestorerEvalDeterminism(t *testing.T) {
	assert := assert.New(t)
	conf := DefaultConf(3)
	conf.Width = 16
	conf.TrunkDepth = 1
	conf.BandDepth = 1
	r, err := New(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	r.SetTesting()

	x := randImg(1, 3, 16, 16)
	a, err := r.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b, err := r.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(nn.Data(a), nn.Data(b))
}

func TestRestorerGobRoundTrip(t *testing.T) {
	assert := assert.New(t)
	conf := DefaultConf(3)
	conf.Width = 16
	conf.TrunkDepth = 1
	conf.BandDepth = 1

	src, err := New(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	dst, err := New(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(src); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := gob.NewDecoder(&buf).Decode(dst); err != nil {
		t.Fatalf("%+v", err)
	}

	src.SetTesting()
	dst.SetTesting()
	x := randImg(1, 3, 16, 16)
	a, err := src.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b, err := dst.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(nn.Data(a), nn.Data(b))
}

func TestRestorerGobRejectsShapeMismatch(t *testing.T) {
	conf := DefaultConf(3)
	conf.Width = 16
	conf.TrunkDepth = 1
	conf.BandDepth = 1
	src, err := New(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	conf.Width = 32
	dst, err := New(conf)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(src); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := gob.NewDecoder(&buf).Decode(dst); err == nil {
		t.Error("loading into a wider model must fail")
	}
}
