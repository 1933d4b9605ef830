package nn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// PadMode selects how convolutions treat out-of-range taps.
type PadMode int

const (
	PadZero PadMode = iota
	PadReflect
)

// ReflectPad mirrors the borders of a feature map without repeating the
// edge sample. The pad width must be smaller than either spatial extent.
func ReflectPad(x *tensor.Dense, p int) (*tensor.Dense, error) {
	b, c, h, w, err := BCHW(x)
	if err != nil {
		return nil, errors.Wrap(err, "reflect pad")
	}
	if p < 0 {
		return nil, errors.Errorf("negative pad %d", p)
	}
	if p >= h || p >= w {
		return nil, errors.Errorf("reflect pad %d too large for %dx%d input", p, h, w)
	}

	oh, ow := h+2*p, w+2*p
	out := New(b, c, oh, ow)
	xd, od := Data(x), Data(out)
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			src := xd[(bi*c+ci)*h*w:]
			dst := od[(bi*c+ci)*oh*ow:]
			for y := 0; y < oh; y++ {
				sy := reflectIndex(y-p, h)
				row := src[sy*w : (sy+1)*w]
				drow := dst[y*ow : (y+1)*ow]
				for xo := 0; xo < ow; xo++ {
					drow[xo] = row[reflectIndex(xo-p, w)]
				}
			}
		}
	}
	return out, nil
}

func reflectIndex(i, n int) int {
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*n - 2 - i
	}
	return i
}
