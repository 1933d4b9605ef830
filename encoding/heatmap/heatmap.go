// Package heatmap renders feature-map planes as grayscale images for
// eyeballing intermediate activations.
package heatmap

import (
	"image"
	"image/png"
	"io"

	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"golang.org/x/image/draw"
	"gorgonia.org/tensor"
)

// Render maps one (batch, channel) plane to an 8-bit grayscale image,
// min-max normalized over the plane. A constant plane renders black.
func Render(x *tensor.Dense, batch, channel int) (*image.Gray, error) {
	b, c, h, w, err := nn.BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "heatmap")
	}
	if batch < 0 || batch >= b || channel < 0 || channel >= c {
		return nil, errors.Errorf("plane (%d, %d) out of range for shape %v", batch, channel, x.Shape())
	}

	hw := h * w
	plane := nn.Data(x)[(batch*c+channel)*hw:][:hw]
	lo, hi := plane[0], plane[0]
	for _, v := range plane {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	if hi == lo {
		return img, nil
	}
	scale := 255 / (hi - lo)
	for i, v := range plane {
		img.Pix[i] = uint8((v - lo) * scale)
	}
	return img, nil
}

// Scale resizes the rendered plane, nearest-neighbor below 1 so blocky
// activations stay blocky, Catmull-Rom above.
func Scale(img *image.Gray, h, w int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	interp := draw.Interpolator(draw.CatmullRom)
	if w < img.Bounds().Dx() || h < img.Bounds().Dy() {
		interp = draw.NearestNeighbor
	}
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Encode writes one plane as a PNG, upscaled by the given integer
// factor (1 keeps the native size).
func Encode(w io.Writer, x *tensor.Dense, batch, channel, factor int) error {
	if factor < 1 {
		return errors.Errorf("heatmap scale factor must be positive, got %d", factor)
	}
	img, err := Render(x, batch, channel)
	if err != nil {
		return err
	}
	if factor > 1 {
		bounds := img.Bounds()
		img = Scale(img, bounds.Dy()*factor, bounds.Dx()*factor)
	}
	return errors.Wrap(png.Encode(w, img), "heatmap")
}
