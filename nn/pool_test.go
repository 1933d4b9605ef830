package nn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestMaxPool2CeilMode(t *testing.T) {
	assert := assert.New(t)
	x := New(1, 1, 3, 3)
	fill(Data(x),
		1, 2, 3,
		4, 5, 6,
		7, 8, 9)

	out, err := MaxPool2{}.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// ceil mode keeps the clipped last row/column
	assert.Equal([]int{1, 1, 2, 2}, []int(out.Shape()))

	want := []float32{
		5, 6,
		8, 9,
	}
	if diff := cmp.Diff(want, Data(out)); diff != "" {
		t.Errorf("maxpool mismatch (-want +got):\n%s", diff)
	}
}

func TestGlobalAvgPool(t *testing.T) {
	assert := assert.New(t)
	x := New(1, 2, 2, 2)
	fill(Data(x),
		1, 2, 3, 4,
		10, 20, 30, 40)

	out, err := GlobalAvgPool(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]int{1, 2, 1, 1}, []int(out.Shape()))
	assert.InDelta(2.5, Data(out)[0], 1e-6)
	assert.InDelta(25, Data(out)[1], 1e-6)
}

func TestSimpleGate(t *testing.T) {
	assert := assert.New(t)
	x := New(1, 4, 1, 2)
	fill(Data(x),
		1, 2, // ch 0
		3, 4, // ch 1
		5, 6, // ch 2
		7, 8) // ch 3

	out, err := SimpleGate(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]int{1, 2, 1, 2}, []int(out.Shape()))
	assert.Equal([]float32{5, 12, 21, 32}, Data(out))

	if _, err := SimpleGate(New(1, 3, 1, 1)); err == nil {
		t.Error("odd channel counts must be rejected")
	}
}

func TestActivations(t *testing.T) {
	assert := assert.New(t)
	x := New(1, 1, 1, 3)
	fill(Data(x), -2, 0, 2)

	relu := Data(ReLU(x))
	assert.Equal([]float32{0, 0, 2}, relu)

	sig := Data(Sigmoid(x))
	assert.InDelta(0.1192, sig[0], 1e-3)
	assert.InDelta(0.5, sig[1], 1e-6)
	assert.InDelta(0.8808, sig[2], 1e-3)

	silu := Data(SiLU(x))
	for i := range silu {
		assert.InDelta(Data(x)[i]*sig[i], silu[i], 1e-5)
	}
}

func TestInverseSigmoidRoundTrip(t *testing.T) {
	assert := assert.New(t)
	x := New(1, 1, 1, 3)
	fill(Data(x), 0.25, 0.5, 0.75)

	inv := NewInverseSigmoid()
	logits, err := inv.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	back := Data(Sigmoid(logits))
	for i, v := range Data(x) {
		assert.InDelta(v, back[i], 1e-4)
	}

	// saturated inputs clamp instead of overflowing
	sat := New(1, 1, 1, 2)
	fill(Data(sat), 0, 1)
	logits, err = inv.Forward(sat)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(float32(-6), Data(logits)[0])
	assert.InDelta(6, Data(logits)[1], 1e-6)
}

func TestPixelShuffle(t *testing.T) {
	assert := assert.New(t)
	x := New(1, 4, 1, 1)
	fill(Data(x), 1, 2, 3, 4)

	out, err := PixelShuffle{R: 2}.Forward(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]int{1, 1, 2, 2}, []int(out.Shape()))
	assert.Equal([]float32{1, 2, 3, 4}, Data(out))
}

func TestResizeConstant(t *testing.T) {
	assert := assert.New(t)
	x := New(1, 1, 3, 5)
	for i := range Data(x) {
		Data(x)[i] = 7
	}

	bi, err := ResizeBilinear(x, 6, 10)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]int{1, 1, 6, 10}, []int(bi.Shape()))
	for _, v := range Data(bi) {
		assert.InDelta(7, v, 1e-6)
	}

	ne, err := ResizeNearest(x, 4, 4)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, v := range Data(ne) {
		assert.InDelta(7, v, 1e-6)
	}
}

func TestChannelSliceConcatRoundTrip(t *testing.T) {
	x := randFM(2, 8, 3, 3)

	lo, err := ChannelSlice(x, 0, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	hi, err := ChannelSlice(x, 3, 8)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	back, err := ConcatChannels(lo, hi)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(Data(x), Data(back)); diff != "" {
		t.Errorf("slice/concat round trip mismatch (-want +got):\n%s", diff)
	}
}
