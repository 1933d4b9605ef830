package nn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func fill(x []float32, vals ...float32) { copy(x, vals) }

func TestConv2dKnownValues(t *testing.T) {
	assert := assert.New(t)
	// 1 batch, 1 channel, 3x3 input, 3x3 averaging kernel, same padding
	l, err := NewConv2d(1, 1, 3, ConvOpt{Padding: 1})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range Data(l.W) {
		Data(l.W)[i] = 1
	}

	x := New(1, 1, 3, 3)
	fill(Data(x),
		1, 2, 3,
		4, 5, 6,
		7, 8, 9)

	out, err := l.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]int(out.Shape()), []int{1, 1, 3, 3})

	want := []float32{
		12, 21, 16,
		27, 45, 33,
		24, 39, 28,
	}
	if diff := cmp.Diff(want, Data(out)); diff != "" {
		t.Errorf("conv output mismatch (-want +got):\n%s", diff)
	}
}

func TestConv2dStrideDilationShapes(t *testing.T) {
	assert := assert.New(t)
	x := randFM(2, 3, 16, 16)

	strided, err := NewConv2d(3, 8, 3, ConvOpt{Padding: 1, Stride: 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	out, err := strided.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]int{2, 8, 8, 8}, []int(out.Shape()))

	dilated, err := NewConv2d(3, 4, 3, ConvOpt{Padding: 2, Dilation: 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	out, err = dilated.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]int{2, 4, 16, 16}, []int(out.Shape()))
}

func TestDepthwiseKeepsChannelsApart(t *testing.T) {
	assert := assert.New(t)
	l, err := NewDepthwise(2, 3, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// channel 0 kernel passes through the center tap, channel 1 kernel is
	// zeroed
	wd := Data(l.W)
	for i := range wd {
		wd[i] = 0
	}
	wd[4] = 1 // center of the first 3x3 kernel

	x := randFM(1, 2, 4, 4)
	out, err := l.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	xd, od := Data(x), Data(out)
	assert.Equal(xd[:16], od[:16], "channel 0 should pass through")
	for _, v := range od[16:] {
		assert.Zero(v, "channel 1 should be zeroed")
	}
}

func TestConv2dReflectPadded(t *testing.T) {
	l, err := NewConv2d(1, 1, 3, ConvOpt{Padding: 1, Mode: PadReflect})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range Data(l.W) {
		Data(l.W)[i] = 1.0 / 9.0
	}

	// a constant input stays constant under an averaging kernel only if
	// the padding mirrors instead of zeroing
	x := New(1, 1, 4, 4)
	for i := range Data(x) {
		Data(x)[i] = 2.5
	}
	out, err := l.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i, v := range Data(out) {
		assert.InDelta(t, 2.5, v, 1e-5, "pixel %d", i)
	}
}

func TestConv2dChannelMismatch(t *testing.T) {
	l, err := NewPointwise(3, 8, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := l.Forward(randFM(1, 4, 5, 5)); err == nil {
		t.Fatal("expected an input channel mismatch error")
	}
}

func TestReflectPad(t *testing.T) {
	x := New(1, 1, 2, 3)
	fill(Data(x),
		1, 2, 3,
		4, 5, 6)

	out, err := ReflectPad(x, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	want := []float32{
		5, 4, 5, 6, 5,
		2, 1, 2, 3, 2,
		5, 4, 5, 6, 5,
		2, 1, 2, 3, 2,
	}
	if diff := cmp.Diff(want, Data(out)); diff != "" {
		t.Errorf("reflect pad mismatch (-want +got):\n%s", diff)
	}

	if _, err := ReflectPad(x, 2); err == nil {
		t.Error("pad wider than the input must be rejected")
	}
}
