package pyramid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

func randImg(b, c, h, w int) *tensor.Dense {
	return tensor.New(tensor.WithShape(b, c, h, w), tensor.WithBacking(tensor.Random(nn.Float, b*c*h*w)))
}

func TestRoundTrip(t *testing.T) {
	assert := assert.New(t)
	cases := []struct {
		level, h, w int
	}{
		{1, 16, 16},
		{2, 32, 32},
		{3, 32, 48},
		{2, 17, 23}, // odd sizes exercise the resize fallback
	}

	for _, tc := range cases {
		p, err := New(tc.level)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		img := randImg(1, 3, tc.h, tc.w)

		pyr, err := p.Decompose(img)
		if err != nil {
			t.Fatalf("level=%d: %+v", tc.level, err)
		}
		assert.Len(pyr, tc.level+1, "level=%d", tc.level)

		back, err := p.Reconstruct(pyr)
		if err != nil {
			t.Fatalf("level=%d: %+v", tc.level, err)
		}
		assert.Equal(img.Shape(), back.Shape())

		id, bd := nn.Data(img), nn.Data(back)
		for i := range id {
			assert.InDelta(id[i], bd[i], 1e-4, "level=%d %dx%d pixel %d", tc.level, tc.h, tc.w, i)
		}
	}
}

func TestBandShapes(t *testing.T) {
	assert := assert.New(t)
	p, err := New(2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	pyr, err := p.Decompose(randImg(2, 3, 32, 32))
	if err != nil {
		t.Fatalf("%+v", err)
	}

	assert.Equal([]int{2, 3, 32, 32}, []int(pyr[0].Shape()))
	assert.Equal([]int{2, 3, 16, 16}, []int(pyr[1].Shape()))
	assert.Equal([]int{2, 3, 8, 8}, []int(pyr[2].Shape()))
}

func TestUpsamplePreservesEnergy(t *testing.T) {
	assert := assert.New(t)
	x := nn.New(1, 1, 8, 8)
	for i := range nn.Data(x) {
		nn.Data(x)[i] = 3
	}

	// zero insertion followed by the 4x-scaled blur keeps a constant
	// image constant away from the borders
	up, err := upsample(x)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	_, _, h, w, _ := nn.BCHW(up)
	assert.Equal(16, h)
	assert.Equal(16, w)
	for y := 2; y < h-2; y++ {
		for z := 2; z < w-2; z++ {
			assert.InDelta(3, nn.Data(up)[y*w+z], 1e-4)
		}
	}
}

func TestRejectsBadInput(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("level 0 must be rejected")
	}
	p, _ := New(1)
	if _, err := p.Reconstruct(nil); err == nil {
		t.Error("empty pyramid must be rejected")
	}
}
