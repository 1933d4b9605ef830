// Package pyramid implements the Laplacian pyramid used to split an
// image into band-pass residuals plus one low-frequency base, and to
// invert that split.
package pyramid

import (
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// kernel5 is the separable 5×5 binomial blur, normalized so the taps
// sum to 1 (the /256).
var kernel5 = [25]float32{
	1, 4, 6, 4, 1,
	4, 16, 24, 16, 4,
	6, 24, 36, 24, 6,
	4, 16, 24, 16, 4,
	1, 4, 6, 4, 1,
}

// Pyramid decomposes images into Level band-pass residuals plus a
// low-resolution residue, and reconstructs them back.
type Pyramid struct {
	Level int
}

func New(level int) (*Pyramid, error) {
	if level < 1 {
		return nil, errors.Errorf("pyramid needs at least one level, got %d", level)
	}
	return &Pyramid{Level: level}, nil
}

// Decompose peels Level band-pass residuals off the image and appends
// the remaining low-frequency residue as the final entry.
func (p *Pyramid) Decompose(img *tensor.Dense) ([]*tensor.Dense, error) {
	if _, _, _, _, err := nn.BCHW(img); err != nil {
		return nil, errors.Wrap(err, "pyramid decompose")
	}

	current := img
	pyr := make([]*tensor.Dense, 0, p.Level+1)
	for i := 0; i < p.Level; i++ {
		filtered, err := blur(current, 1)
		if err != nil {
			return nil, errors.Wrapf(err, "pyramid level %d", i)
		}
		down := downsample(filtered)
		up, err := upsample(down)
		if err != nil {
			return nil, errors.Wrapf(err, "pyramid level %d", i)
		}

		_, _, ch, cw, _ := nn.BCHW(current)
		if _, _, uh, uw, _ := nn.BCHW(up); uh != ch || uw != cw {
			if up, err = nn.ResizeNearest(up, ch, cw); err != nil {
				return nil, errors.Wrapf(err, "pyramid level %d", i)
			}
		}

		diff := current.Clone().(*tensor.Dense)
		ud := nn.Data(up)
		dd := nn.Data(diff)
		for j := range dd {
			dd[j] -= ud[j]
		}
		pyr = append(pyr, diff)
		current = down
	}
	return append(pyr, current), nil
}

// Reconstruct sums the bands coarsest-first, upsampling between levels
// and resizing away off-by-one mismatches.
func (p *Pyramid) Reconstruct(pyr []*tensor.Dense) (*tensor.Dense, error) {
	if len(pyr) < 2 {
		return nil, errors.Errorf("pyramid reconstruction needs at least two bands, got %d", len(pyr))
	}

	image := pyr[len(pyr)-1]
	for i := len(pyr) - 2; i >= 0; i-- {
		band := pyr[i]
		up, err := upsample(image)
		if err != nil {
			return nil, errors.Wrapf(err, "pyramid band %d", i)
		}
		_, _, bh, bw, err := nn.BCHW(band)
		if err != nil {
			return nil, errors.Wrapf(err, "pyramid band %d", i)
		}
		if _, _, uh, uw, _ := nn.BCHW(up); uh != bh || uw != bw {
			if up, err = nn.ResizeNearest(up, bh, bw); err != nil {
				return nil, errors.Wrapf(err, "pyramid band %d", i)
			}
		}
		if image, err = nn.Add(up, band); err != nil {
			return nil, errors.Wrapf(err, "pyramid band %d", i)
		}
	}
	return image, nil
}

// blur convolves each channel with the binomial kernel scaled by gain,
// reflect-padded so the output keeps the input size.
func blur(x *tensor.Dense, gain float32) (*tensor.Dense, error) {
	b, c, _, _, err := nn.BCHW(x)
	if err != nil {
		return nil, err
	}

	padded, err := nn.ReflectPad(x, 2)
	if err != nil {
		return nil, err
	}
	_, _, ph, pw, _ := nn.BCHW(padded)
	oh, ow := ph-4, pw-4

	out := nn.New(b, c, oh, ow)
	pd, od := nn.Data(padded), nn.Data(out)
	scale := gain / 256
	for bc := 0; bc < b*c; bc++ {
		src := pd[bc*ph*pw:]
		dst := od[bc*oh*ow:]
		for y := 0; y < oh; y++ {
			for z := 0; z < ow; z++ {
				var acc float32
				for ky := 0; ky < 5; ky++ {
					row := src[(y+ky)*pw+z:]
					krow := kernel5[ky*5:]
					for kx := 0; kx < 5; kx++ {
						acc += row[kx] * krow[kx]
					}
				}
				dst[y*ow+z] = acc * scale
			}
		}
	}
	return out, nil
}

// downsample keeps every second pixel.
func downsample(x *tensor.Dense) *tensor.Dense {
	b, c, h, w, _ := nn.BCHW(x)
	oh, ow := (h+1)/2, (w+1)/2
	out := nn.New(b, c, oh, ow)
	xd, od := nn.Data(x), nn.Data(out)
	for bc := 0; bc < b*c; bc++ {
		src := xd[bc*h*w:]
		dst := od[bc*oh*ow:]
		for y := 0; y < oh; y++ {
			for z := 0; z < ow; z++ {
				dst[y*ow+z] = src[(y*2)*w+z*2]
			}
		}
	}
	return out
}

// upsample inserts a zero between every sample and blurs with the
// kernel scaled by 4 to preserve energy after the zero insertion.
func upsample(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := nn.BCHW(x)
	if err != nil {
		return nil, err
	}

	stuffed := nn.New(b, c, h*2, w*2)
	xd, sd := nn.Data(x), nn.Data(stuffed)
	for bc := 0; bc < b*c; bc++ {
		src := xd[bc*h*w:]
		dst := sd[bc*h*w*4:]
		for y := 0; y < h; y++ {
			for z := 0; z < w; z++ {
				dst[(y*2)*(w*2)+z*2] = src[y*w+z]
			}
		}
	}
	return blur(stuffed, 4)
}
