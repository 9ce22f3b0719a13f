package layers

import (
	"fmt"
	"math"

	"resnet_lib/nn"
	"resnet_lib/tensor"

	"gonum.org/v1/gonum/floats"
)

// DefaultBatchNormEps matches the epsilon used by the reference checkpoints.
const DefaultBatchNormEps = 1e-5

// BatchNorm2D normalizes each channel with its running statistics
// (inference mode): y = (x - mean) / sqrt(var + eps) * weight + bias.
// Forward never modifies the statistics.
type BatchNorm2D struct {
	channels int
	Eps      float64

	Weight      *tensor.Tensor // [channels], learnable scale
	Bias        *tensor.Tensor // [channels], learnable shift
	RunningMean *tensor.Tensor // [channels], buffer
	RunningVar  *tensor.Tensor // [channels], buffer
}

// NewBatchNorm2D returns a layer with unit scale, zero shift, zero running
// mean and unit running variance.
func NewBatchNorm2D(channels int) *BatchNorm2D {
	bn := &BatchNorm2D{
		channels:    channels,
		Eps:         DefaultBatchNormEps,
		Weight:      tensor.New(channels),
		Bias:        tensor.New(channels),
		RunningMean: tensor.New(channels),
		RunningVar:  tensor.New(channels),
	}
	bn.Reset()
	return bn
}

// Reset restores the default initialization.
func (bn *BatchNorm2D) Reset() {
	for i := 0; i < bn.channels; i++ {
		bn.Weight.Data[i] = 1
		bn.Bias.Data[i] = 0
		bn.RunningMean.Data[i] = 0
		bn.RunningVar.Data[i] = 1
	}
}

func (bn *BatchNorm2D) Channels() int { return bn.channels }

func (bn *BatchNorm2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, ErrType
	}
	batch, channels := x.Shape[0], x.Shape[1]
	if channels != bn.channels {
		return nil, fmt.Errorf("%s: expected %d channels, got %d: %w", bn.Tag(), bn.channels, channels, ErrShape)
	}
	plane := x.Shape[2] * x.Shape[3]

	scale := make([]float64, channels)
	shift := make([]float64, channels)
	for c := 0; c < channels; c++ {
		scale[c] = bn.Weight.Data[c] / math.Sqrt(bn.RunningVar.Data[c]+bn.Eps)
		shift[c] = bn.Bias.Data[c] - bn.RunningMean.Data[c]*scale[c]
	}

	out := tensor.New(x.Shape...)
	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			off := (b*channels + c) * plane
			src := x.Data[off : off+plane]
			dst := out.Data[off : off+plane]
			floats.ScaleTo(dst, scale[c], src)
			floats.AddConst(shift[c], dst)
		}
	}
	return out, nil
}

func (bn *BatchNorm2D) Params() []nn.Param {
	return []nn.Param{
		{Name: "weight", Value: bn.Weight, Learnable: true},
		{Name: "bias", Value: bn.Bias, Learnable: true},
		{Name: "running_mean", Value: bn.RunningMean},
		{Name: "running_var", Value: bn.RunningVar},
	}
}

func (bn *BatchNorm2D) Tag() string { return fmt.Sprintf("BatchNorm2D(%d)", bn.channels) }
