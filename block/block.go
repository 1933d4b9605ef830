// Package block provides the composite restoration blocks: transformer
// blocks with channel-reduced attention, mobile-inverted bottlenecks,
// the NAFNet-style gated family, and the U-Net encoder/decoder block.
package block

import (
	"github.com/vidra-ml/vidra/nn"
	"gorgonia.org/tensor"
)

func collectParams(layers ...nn.Layer) []*tensor.Dense {
	var retVal []*tensor.Dense
	for _, l := range layers {
		if l == nil {
			continue
		}
		retVal = append(retVal, l.Params()...)
	}
	return retVal
}

func setTraining(ops ...nn.BatchNormOp) {
	for _, op := range ops {
		op.SetTraining()
	}
}

func setTesting(ops ...nn.BatchNormOp) {
	for _, op := range ops {
		op.SetTesting()
	}
}

func resetOps(ops ...nn.BatchNormOp) error {
	for _, op := range ops {
		if err := op.Reset(); err != nil {
			return err
		}
	}
	return nil
}
