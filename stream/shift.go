// Package stream adapts per-frame blocks to one-frame-at-a-time video
// processing. The temporal-shift wrapper buffers one frame and stitches
// channel slices of the previous, current and next frames into one
// composite map, so the wrapped block sees a small temporal receptive
// field while the caller feeds frames strictly in order.
package stream

import (
	"log"

	"github.com/pkg/errors"
	"github.com/vidra-ml/vidra/block"
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

// shiftCore is the state machine shared by every streaming variant.
// Step moves it EMPTY → PRIMED → STEADY; a nil frame drains the final
// buffered output. Not safe for concurrent use.
type shiftCore struct {
	dim  int
	fold int

	center   *tensor.Dense
	leftFold *tensor.Dense

	transform func(*tensor.Dense) (*tensor.Dense, error)
}

func newShiftCore(dim int, transform func(*tensor.Dense) (*tensor.Dense, error)) (shiftCore, error) {
	if dim < 8 {
		return shiftCore{}, errors.Errorf("temporal shift needs at least 8 channels, got %d", dim)
	}
	return shiftCore{dim: dim, fold: dim / 8, transform: transform}, nil
}

// Step consumes the next frame, or nil as the end-of-sequence marker.
// The first call buffers and returns no output; every later call
// returns the output for the previously buffered frame. After a nil
// frame the core must be Reset before reuse.
func (s *shiftCore) Step(right *tensor.Dense, verbose bool) (*tensor.Dense, error) {
	if s.center == nil {
		if right == nil {
			return nil, errors.New("temporal shift received the end marker before any frame")
		}
		b, c, h, w, err := nn.BCHW(right)
		if err != nil {
			return nil, errors.Wrap(err, "temporal shift")
		}
		if c != s.dim {
			return nil, errors.Errorf("temporal shift expects %d channels, got %d", s.dim, c)
		}
		s.center = right
		if s.leftFold == nil {
			s.leftFold = nn.Zeros(b, s.fold, h, w)
		}
		if verbose {
			log.Printf("temporal shift: primed with frame %v, output delayed one step", right.Shape())
		}
		return nil, nil
	}

	b, _, h, w, _ := nn.BCHW(s.center)
	var rightFold *tensor.Dense
	if right == nil {
		// drain: the missing next frame contributes a zero slab
		rightFold = nn.Zeros(b, s.fold, h, w)
		if verbose {
			log.Printf("temporal shift: draining, flushing final frame")
		}
	} else {
		if !right.Shape().Eq(s.center.Shape()) {
			return nil, errors.Errorf("temporal shift frame shape changed from %v to %v", s.center.Shape(), right.Shape())
		}
		var err error
		if rightFold, err = nn.ChannelSlice(right, 0, s.fold); err != nil {
			return nil, errors.Wrap(err, "temporal shift")
		}
	}

	rest, err := nn.ChannelSlice(s.center, 2*s.fold, s.dim)
	if err != nil {
		return nil, errors.Wrap(err, "temporal shift")
	}
	composite, err := nn.ConcatChannels(rightFold, s.leftFold, rest)
	if err != nil {
		return nil, errors.Wrap(err, "temporal shift")
	}
	out, err := s.transform(composite)
	if err != nil {
		return nil, errors.Wrap(err, "temporal shift")
	}

	if right != nil {
		if s.leftFold, err = nn.ChannelSlice(s.center, s.fold, 2*s.fold); err != nil {
			return nil, errors.Wrap(err, "temporal shift")
		}
		s.center = right
	}
	return out, nil
}

// Reset clears the buffered frames. Call it between independent
// sequences so frames never leak across them.
func (s *shiftCore) Reset() {
	s.center = nil
	s.leftFold = nil
}

// StreamNAFBlock wraps the full gated block for streaming use.
type StreamNAFBlock struct {
	shiftCore
	Block *block.NAFBlock
}

func NewStreamNAFBlock(dim int) (*StreamNAFBlock, error) {
	blk, err := block.NewNAFBlock(dim)
	if err != nil {
		return nil, errors.Wrap(err, "stream naf")
	}
	core, err := newShiftCore(dim, blk.Forward)
	if err != nil {
		return nil, errors.Wrap(err, "stream naf")
	}
	return &StreamNAFBlock{shiftCore: core, Block: blk}, nil
}

func (l *StreamNAFBlock) Params() []*tensor.Dense { return l.Block.Params() }

// StreamNAFBlockHalf wraps the single-stage gated block.
type StreamNAFBlockHalf struct {
	shiftCore
	Block *block.NAFBlock
}

func NewStreamNAFBlockHalf(dim int) (*StreamNAFBlockHalf, error) {
	blk, err := block.NewNAFBlockHalf(dim)
	if err != nil {
		return nil, errors.Wrap(err, "stream naf half")
	}
	core, err := newShiftCore(dim, blk.Forward)
	if err != nil {
		return nil, errors.Wrap(err, "stream naf half")
	}
	return &StreamNAFBlockHalf{shiftCore: core, Block: blk}, nil
}

func (l *StreamNAFBlockHalf) Params() []*tensor.Dense { return l.Block.Params() }

// StreamPseudoConv wraps a single conv-norm-activation stage as a
// lightweight pseudo-temporal transform.
type StreamPseudoConv struct {
	shiftCore
	Block *block.ConvBNReLU
}

func NewStreamPseudoConv(dim int) (*StreamPseudoConv, error) {
	blk, err := block.NewConvBNReLU(dim, dim, block.CBROpt{})
	if err != nil {
		return nil, errors.Wrap(err, "stream pseudo conv")
	}
	core, err := newShiftCore(dim, blk.Forward)
	if err != nil {
		return nil, errors.Wrap(err, "stream pseudo conv")
	}
	return &StreamPseudoConv{shiftCore: core, Block: blk}, nil
}

func (l *StreamPseudoConv) Params() []*tensor.Dense { return l.Block.Params() }
func (l *StreamPseudoConv) SetTraining()            { l.Block.SetTraining() }
func (l *StreamPseudoConv) SetTesting()             { l.Block.SetTesting() }
