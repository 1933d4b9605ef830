// Package filter holds the non-learned signal processing filters.
package filter

import (
	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// Wiener is a local adaptive minimum-mean-square-error filter. Local
// mean and variance come from a k×k box kernel; where the local
// variance does not rise above the noise power the filter falls back
// to the local mean.
type Wiener struct {
	Kernel int

	// NoisePower overrides the estimate when positive. At zero the
	// noise is estimated per (batch, channel) plane as the spatial mean
	// of the local variance.
	NoisePower float32
}

func NewWiener(kernel int) (*Wiener, error) {
	if kernel < 1 || kernel%2 == 0 {
		return nil, errors.Errorf("wiener kernel must be odd and positive, got %d", kernel)
	}
	return &Wiener{Kernel: kernel}, nil
}

func (f *Wiener) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := nn.BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "wiener")
	}

	mean, err := f.boxFilter(x)
	if err != nil {
		return nil, errors.Wrap(err, "wiener mean")
	}

	sq := x.Clone().(*tensor.Dense)
	sd := nn.Data(sq)
	for i, v := range nn.Data(x) {
		sd[i] = v * v
	}
	meanSq, err := f.boxFilter(sq)
	if err != nil {
		return nil, errors.Wrap(err, "wiener variance")
	}

	// variance = E[x²] − E[x]², clamped at zero against rounding
	vd, md := nn.Data(meanSq), nn.Data(mean)
	for i := range vd {
		if vd[i] -= md[i] * md[i]; vd[i] < 0 {
			vd[i] = 0
		}
	}

	out := nn.New(b, c, h, w)
	xd, od := nn.Data(x), nn.Data(out)
	hw := h * w
	for bc := 0; bc < b*c; bc++ {
		plane := bc * hw
		noise := f.NoisePower
		if noise <= 0 {
			var sum float32
			for i := plane; i < plane+hw; i++ {
				sum += vd[i]
			}
			noise = sum / float32(hw)
		}
		for i := plane; i < plane+hw; i++ {
			if vd[i] <= noise {
				od[i] = md[i]
				continue
			}
			od[i] = md[i] + (1-noise/vd[i])*(xd[i]-md[i])
		}
	}
	return out, nil
}

// boxFilter is a reflect-padded k×k uniform average per channel.
func (f *Wiener) boxFilter(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := nn.BCHW(x)
	if err != nil {
		return nil, err
	}
	k := f.Kernel
	pad := k / 2

	padded, err := nn.ReflectPad(x, pad)
	if err != nil {
		return nil, err
	}
	_, _, ph, pw, _ := nn.BCHW(padded)

	out := nn.New(b, c, h, w)
	pd, od := nn.Data(padded), nn.Data(out)
	norm := 1 / float32(k*k)
	for bc := 0; bc < b*c; bc++ {
		src := pd[bc*ph*pw:]
		dst := od[bc*h*w:]
		for y := 0; y < h; y++ {
			for z := 0; z < w; z++ {
				var acc float32
				for ky := 0; ky < k; ky++ {
					row := src[(y+ky)*pw+z:]
					for kx := 0; kx < k; kx++ {
						acc += row[kx]
					}
				}
				dst[y*w+z] = acc * norm
			}
		}
	}
	return out, nil
}
