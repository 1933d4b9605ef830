package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ResizeNearest resamples a feature map to (oh, ow) by nearest pixel.
func ResizeNearest(x *tensor.Dense, oh, ow int) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "resize nearest")
	}
	if oh < 1 || ow < 1 {
		return nil, errors.Errorf("resize to invalid size %dx%d", oh, ow)
	}
	if oh == h && ow == w {
		return clone(x), nil
	}

	out := New(b, c, oh, ow)
	xd, od := Data(x), Data(out)
	for bc := 0; bc < b*c; bc++ {
		src := xd[bc*h*w:]
		dst := od[bc*oh*ow:]
		for oy := 0; oy < oh; oy++ {
			sy := oy * h / oh
			for ox := 0; ox < ow; ox++ {
				dst[oy*ow+ox] = src[sy*w+ox*w/ow]
			}
		}
	}
	return out, nil
}

// ResizeBilinear resamples a feature map to (oh, ow) with bilinear
// interpolation, sampling at pixel centers (align_corners=false
// convention).
func ResizeBilinear(x *tensor.Dense, oh, ow int) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "resize bilinear")
	}
	if oh < 1 || ow < 1 {
		return nil, errors.Errorf("resize to invalid size %dx%d", oh, ow)
	}
	if oh == h && ow == w {
		return clone(x), nil
	}

	scaleY := float32(h) / float32(oh)
	scaleX := float32(w) / float32(ow)
	out := New(b, c, oh, ow)
	xd, od := Data(x), Data(out)
	for bc := 0; bc < b*c; bc++ {
		src := xd[bc*h*w:]
		dst := od[bc*oh*ow:]
		for oy := 0; oy < oh; oy++ {
			sy := (float32(oy)+0.5)*scaleY - 0.5
			if sy < 0 {
				sy = 0
			}
			y0 := int(math32.Floor(sy))
			if y0 > h-1 {
				y0 = h - 1
			}
			y1 := y0 + 1
			if y1 > h-1 {
				y1 = h - 1
			}
			fy := sy - float32(y0)
			for ox := 0; ox < ow; ox++ {
				sx := (float32(ox)+0.5)*scaleX - 0.5
				if sx < 0 {
					sx = 0
				}
				x0 := int(math32.Floor(sx))
				if x0 > w-1 {
					x0 = w - 1
				}
				x1 := x0 + 1
				if x1 > w-1 {
					x1 = w - 1
				}
				fx := sx - float32(x0)

				top := src[y0*w+x0]*(1-fx) + src[y0*w+x1]*fx
				bot := src[y1*w+x0]*(1-fx) + src[y1*w+x1]*fx
				dst[oy*ow+ox] = top*(1-fy) + bot*fy
			}
		}
	}
	return out, nil
}

// Upsample2x doubles both spatial extents bilinearly.
func Upsample2x(x *tensor.Dense) (*tensor.Dense, error) {
	_, _, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "upsample")
	}
	return ResizeBilinear(x, 2*h, 2*w)
}

// PixelShuffle rearranges (B, C·r², H, W) into (B, C, H·r, W·r).
type PixelShuffle struct {
	R int
}

func (l PixelShuffle) Params() []*tensor.Dense { return nil }

func (l PixelShuffle) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "pixel shuffle")
	}
	r := l.R
	if r < 1 || c%(r*r) != 0 {
		return nil, errors.Errorf("pixel shuffle r=%d does not divide %d channels", r, c)
	}

	oc := c / (r * r)
	oh, ow := h*r, w*r
	out := New(b, oc, oh, ow)
	xd, od := Data(x), Data(out)
	for bi := 0; bi < b; bi++ {
		for co := 0; co < oc; co++ {
			dst := od[(bi*oc+co)*oh*ow:]
			for i := 0; i < r; i++ {
				for j := 0; j < r; j++ {
					src := xd[(bi*c+co*r*r+i*r+j)*h*w:]
					for y := 0; y < h; y++ {
						for z := 0; z < w; z++ {
							dst[(y*r+i)*ow+z*r+j] = src[y*w+z]
						}
					}
				}
			}
		}
	}
	return out, nil
}
