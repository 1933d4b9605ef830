package heatmap

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vidra-ml/vidra/nn"
)

func TestRenderNormalizes(t *testing.T) {
	assert := assert.New(t)
	x := nn.New(1, 2, 2, 2)
	copy(nn.Data(x), []float32{
		0, 1, 2, 3, // channel 0
		5, 5, 5, 5, // channel 1, constant
	})

	img, err := Render(x, 0, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(uint8(0), img.Pix[0])
	assert.Equal(uint8(255), img.Pix[3])
	assert.Equal(uint8(85), img.Pix[1])

	flat, err := Render(x, 0, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, p := range flat.Pix {
		assert.Equal(uint8(0), p)
	}
}

func TestRenderRejectsBadPlane(t *testing.T) {
	x := nn.New(1, 2, 2, 2)
	if _, err := Render(x, 0, 2); err == nil {
		t.Error("channel out of range must fail")
	}
	if _, err := Render(x, 1, 0); err == nil {
		t.Error("batch out of range must fail")
	}
}

func TestEncodeScaledPNG(t *testing.T) {
	assert := assert.New(t)
	x := nn.New(1, 1, 4, 6)
	for i := range nn.Data(x) {
		nn.Data(x)[i] = float32(i)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, x, 0, 0, 3); err != nil {
		t.Fatalf("%+v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(18, img.Bounds().Dx())
	assert.Equal(12, img.Bounds().Dy())

	if err := Encode(&buf, x, 0, 0, 0); err == nil {
		t.Error("non-positive scale factor must fail")
	}
}
