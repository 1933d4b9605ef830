package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// MaxPool2 is a 2×2 max pool with stride 2 and ceil-mode output sizing,
// so odd inputs keep their trailing row/column in a clipped window.
type MaxPool2 struct{}

func (MaxPool2) Params() []*tensor.Dense { return nil }

func (MaxPool2) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "maxpool")
	}

	oh, ow := (h+1)/2, (w+1)/2
	out := New(b, c, oh, ow)
	xd, od := Data(x), Data(out)
	for bc := 0; bc < b*c; bc++ {
		src := xd[bc*h*w:]
		dst := od[bc*oh*ow:]
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				m := math32.Inf(-1)
				for sy := oy * 2; sy < oy*2+2 && sy < h; sy++ {
					for sx := ox * 2; sx < ox*2+2 && sx < w; sx++ {
						if v := src[sy*w+sx]; v > m {
							m = v
						}
					}
				}
				dst[oy*ow+ox] = m
			}
		}
	}
	return out, nil
}

// GlobalAvgPool reduces each channel plane to its spatial mean,
// producing a (B, C, 1, 1) map.
func GlobalAvgPool(x *tensor.Dense) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "global avg pool")
	}

	hw := h * w
	out := New(b, c, 1, 1)
	xd, od := Data(x), Data(out)
	for bc := 0; bc < b*c; bc++ {
		od[bc] = vecf32.Sum(xd[bc*hw:(bc+1)*hw]) / float32(hw)
	}
	return out, nil
}
