package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

func frame(c, h, w int, fill float32) *tensor.Dense {
	x := nn.New(1, c, h, w)
	d := nn.Data(x)
	for i := range d {
		d[i] = fill
	}
	return x
}

func randFrame(c, h, w int) *tensor.Dense {
	return tensor.New(tensor.WithShape(1, c, h, w), tensor.WithBacking(tensor.Random(nn.Float, c*h*w)))
}

func TestStreamSequenceProtocol(t *testing.T) {
	assert := assert.New(t)
	blk, err := NewStreamNAFBlockHalf(8)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	f0, f1, f2 := randFrame(8, 4, 4), randFrame(8, 4, 4), randFrame(8, 4, 4)

	out, err := blk.Step(f0, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Nil(out, "priming step must produce no output")

	for i, f := range []*tensor.Dense{f1, f2, nil} {
		out, err = blk.Step(f, false)
		if err != nil {
			t.Fatalf("step %d: %+v", i+1, err)
		}
		assert.NotNil(out, "step %d", i+1)
		assert.Equal(f0.Shape(), out.Shape(), "step %d", i+1)
	}
}

// A fresh gated block is an exact identity, so the wrapper's output is
// the composite itself and the channel stitching can be read off.
func TestStreamCompositeLayout(t *testing.T) {
	assert := assert.New(t)
	blk, err := NewStreamNAFBlockHalf(8) // fold = 1
	if err != nil {
		t.Fatalf("%+v", err)
	}
	h, w := 3, 3
	hw := h * w

	f0, f1 := randFrame(8, h, w), randFrame(8, h, w)
	if _, err = blk.Step(f0, false); err != nil {
		t.Fatalf("%+v", err)
	}
	out, err := blk.Step(f1, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	od, d0, d1 := nn.Data(out), nn.Data(f0), nn.Data(f1)
	// channel 0 comes from the incoming frame
	assert.Equal(d1[:hw], od[:hw])
	// channel 1 is the shift memory, still zero after priming
	for _, v := range od[hw : 2*hw] {
		assert.Zero(v)
	}
	// channels 2..7 come from the buffered frame
	assert.Equal(d0[2*hw:], od[2*hw:])

	// next step: the memory slice is now channel 1 of f0
	f2 := randFrame(8, h, w)
	out, err = blk.Step(f2, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	od, d2 := nn.Data(out), nn.Data(f2)
	assert.Equal(d2[:hw], od[:hw])
	assert.Equal(d0[hw:2*hw], od[hw:2*hw])
	assert.Equal(d1[2*hw:], od[2*hw:])
}

func TestStreamDrainUsesZeroRightSlab(t *testing.T) {
	assert := assert.New(t)
	blk, err := NewStreamNAFBlockHalf(8)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	h, w := 3, 3
	hw := h * w

	f0 := frame(8, h, w, 2)
	f1 := frame(8, h, w, 5)
	if _, err = blk.Step(f0, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err = blk.Step(f1, false); err != nil {
		t.Fatalf("%+v", err)
	}
	out, err := blk.Step(nil, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	od := nn.Data(out)
	for _, v := range od[:hw] {
		assert.Zero(v, "no next frame: the right slab must be zero")
	}
	for _, v := range od[hw : 2*hw] {
		assert.Equal(float32(2), v, "memory slice comes from the first frame")
	}
	for _, v := range od[2*hw:] {
		assert.Equal(float32(5), v, "body comes from the last real frame")
	}
}

func TestStreamOutputIgnoresUndeclaredSlices(t *testing.T) {
	assert := assert.New(t)
	run := func(f0, f1 *tensor.Dense) []float32 {
		blk, err := NewStreamNAFBlockHalf(8)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if _, err = blk.Step(f0, false); err != nil {
			t.Fatalf("%+v", err)
		}
		out, err := blk.Step(f1, false)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		return nn.Data(out)
	}

	f0, f1 := randFrame(8, 4, 4), randFrame(8, 4, 4)
	base := run(f0, f1)

	// perturb only channels the first output must not read: the first
	// two channels of the buffered frame and everything past the fold
	// of the incoming one
	f0b, f1b := f0.Clone().(*tensor.Dense), f1.Clone().(*tensor.Dense)
	hw := 16
	for i := 0; i < 2*hw; i++ {
		nn.Data(f0b)[i] += 100
	}
	for i := hw; i < len(nn.Data(f1b)); i++ {
		nn.Data(f1b)[i] += 100
	}
	assert.Equal(base, run(f0b, f1b))
}

func TestStreamResetGivesDeterminism(t *testing.T) {
	assert := assert.New(t)
	blk, err := NewStreamNAFBlock(16)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range nn.Data(blk.Block.Beta) {
		nn.Data(blk.Block.Beta)[i] = 0.5
		nn.Data(blk.Block.Gamma)[i] = 0.5
	}

	frames := []*tensor.Dense{randFrame(16, 4, 4), randFrame(16, 4, 4), randFrame(16, 4, 4)}
	runSeq := func() [][]float32 {
		var outs [][]float32
		for _, f := range frames {
			out, err := blk.Step(f, false)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if out != nil {
				outs = append(outs, nn.Data(out))
			}
		}
		out, err := blk.Step(nil, false)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		outs = append(outs, nn.Data(out))
		return outs
	}

	first := runSeq()
	blk.Reset()
	second := runSeq()

	assert.Len(first, len(frames))
	for i := range first {
		assert.Equal(first[i], second[i], "output %d must not depend on the previous sequence", i)
	}
}

func TestStreamPseudoConv(t *testing.T) {
	assert := assert.New(t)
	blk, err := NewStreamPseudoConv(8)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	blk.SetTesting()

	if _, err = blk.Step(randFrame(8, 4, 4), false); err != nil {
		t.Fatalf("%+v", err)
	}
	out, err := blk.Step(randFrame(8, 4, 4), false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]int{1, 8, 4, 4}, []int(out.Shape()))
	assert.NotEmpty(blk.Params())
}

func TestStreamErrors(t *testing.T) {
	blk, err := NewStreamNAFBlockHalf(8)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := blk.Step(nil, false); err == nil {
		t.Error("end marker before any frame must fail")
	}

	blk.Reset()
	if _, err := blk.Step(randFrame(8, 4, 4), false); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := blk.Step(randFrame(8, 6, 6), false); err == nil {
		t.Error("mid-sequence shape change must fail")
	}

	if _, err := NewStreamNAFBlock(4); err == nil {
		t.Error("channel count below one fold must fail")
	}
}
