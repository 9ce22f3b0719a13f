package resnet

import (
	"fmt"

	"resnet_lib/nn"
	"resnet_lib/nn/layers"
	"resnet_lib/tensor"
)

// Expansion is the ratio between a bottleneck's output channels and its
// base width.
const Expansion = 4

// Downsample projects the skip path with a strided 1x1 convolution followed
// by batch normalization.
type Downsample struct {
	Conv *layers.Conv2D
	BN   *layers.BatchNorm2D
	seq  *nn.Sequential
}

// NewDownsample builds the projection inChannels -> outChannels at stride.
func NewDownsample(inChannels, outChannels, stride int) *Downsample {
	conv := layers.NewConv2D(inChannels, outChannels, 1, stride, 0, false)
	bn := layers.NewBatchNorm2D(outChannels)
	return &Downsample{Conv: conv, BN: bn, seq: nn.NewSequential(conv, bn)}
}

func (d *Downsample) OutChannels() int { return d.Conv.OutChannels() }
func (d *Downsample) Stride() int      { return d.Conv.Stride() }

func (d *Downsample) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return d.seq.Forward(x)
}

// Params are named "0.weight", "1.weight", ... like an indexed container.
func (d *Downsample) Params() []nn.Param { return d.seq.Params() }

func (d *Downsample) Tag() string { return "Downsample" + d.seq.Tag() }

// Bottleneck is the ResNet-50 residual block: 1x1 reduce, 3x3 (strided),
// 1x1 expand, then the skip connection and a final ReLU.
type Bottleneck struct {
	inChannels, width, stride int

	Conv1      *layers.Conv2D
	BN1        *layers.BatchNorm2D
	Conv2      *layers.Conv2D
	BN2        *layers.BatchNorm2D
	Conv3      *layers.Conv2D
	BN3        *layers.BatchNorm2D
	relu       *layers.ReLU
	Downsample *Downsample // nil for identity skips
}

// NewBottleneck builds a block with base width baseWidth and output
// channels baseWidth*Expansion. A downsample is required exactly when the
// skip path changes shape, and must then produce that shape.
func NewBottleneck(inChannels, baseWidth, stride int, downsample *Downsample) (*Bottleneck, error) {
	if inChannels <= 0 || baseWidth <= 0 || stride <= 0 {
		return nil, fmt.Errorf("bottleneck(in=%d, width=%d, stride=%d): arguments must be positive: %w",
			inChannels, baseWidth, stride, ErrInvalidConfig)
	}
	outChannels := baseWidth * Expansion
	reshapes := stride != 1 || inChannels != outChannels
	switch {
	case downsample == nil && reshapes:
		return nil, fmt.Errorf("bottleneck(in=%d, out=%d, stride=%d) needs a downsample: %w",
			inChannels, outChannels, stride, ErrInvalidConfig)
	case downsample != nil && (downsample.OutChannels() != outChannels || downsample.Stride() != stride ||
		downsample.Conv.InChannels() != inChannels):
		return nil, fmt.Errorf("downsample %s does not map %d->%d at stride %d: %w",
			downsample.Conv.Tag(), inChannels, outChannels, stride, ErrInvalidConfig)
	}

	return &Bottleneck{
		inChannels: inChannels,
		width:      baseWidth,
		stride:     stride,
		Conv1:      layers.NewConv2D(inChannels, baseWidth, 1, 1, 0, false),
		BN1:        layers.NewBatchNorm2D(baseWidth),
		Conv2:      layers.NewConv2D(baseWidth, baseWidth, 3, stride, 1, false),
		BN2:        layers.NewBatchNorm2D(baseWidth),
		Conv3:      layers.NewConv2D(baseWidth, outChannels, 1, 1, 0, false),
		BN3:        layers.NewBatchNorm2D(outChannels),
		relu:       layers.NewReLU(),
		Downsample: downsample,
	}, nil
}

func (b *Bottleneck) InChannels() int  { return b.inChannels }
func (b *Bottleneck) OutChannels() int { return b.width * Expansion }
func (b *Bottleneck) Stride() int      { return b.stride }

func (b *Bottleneck) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	identity := x
	if b.Downsample != nil {
		var err error
		if identity, err = b.Downsample.Forward(x); err != nil {
			return nil, fmt.Errorf("downsample: %w", err)
		}
	}

	y, err := b.Conv1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("conv1: %w", err)
	}
	if y, err = b.BN1.Forward(y); err != nil {
		return nil, fmt.Errorf("bn1: %w", err)
	}
	tensor.ReluInPlace(y)

	if y, err = b.Conv2.Forward(y); err != nil {
		return nil, fmt.Errorf("conv2: %w", err)
	}
	if y, err = b.BN2.Forward(y); err != nil {
		return nil, fmt.Errorf("bn2: %w", err)
	}
	tensor.ReluInPlace(y)

	if y, err = b.Conv3.Forward(y); err != nil {
		return nil, fmt.Errorf("conv3: %w", err)
	}
	if y, err = b.BN3.Forward(y); err != nil {
		return nil, fmt.Errorf("bn3: %w", err)
	}

	sum, err := tensor.Add(y, identity)
	if err != nil {
		return nil, fmt.Errorf("skip connection %v + %v: %w: %w", y.Shape, identity.Shape, ErrShape, err)
	}
	return b.relu.Forward(sum)
}

// Params lists the block's tensors in registration order.
func (b *Bottleneck) Params() []nn.Param {
	var out []nn.Param
	out = append(out, nn.Prefix("conv1", b.Conv1.Params())...)
	out = append(out, nn.Prefix("bn1", b.BN1.Params())...)
	out = append(out, nn.Prefix("conv2", b.Conv2.Params())...)
	out = append(out, nn.Prefix("bn2", b.BN2.Params())...)
	out = append(out, nn.Prefix("conv3", b.Conv3.Params())...)
	out = append(out, nn.Prefix("bn3", b.BN3.Params())...)
	if b.Downsample != nil {
		out = append(out, nn.Prefix("downsample", b.Downsample.Params())...)
	}
	return out
}

// convs returns the block's convolutions in construction order.
func (b *Bottleneck) convs() []*layers.Conv2D {
	cs := []*layers.Conv2D{b.Conv1, b.Conv2, b.Conv3}
	if b.Downsample != nil {
		cs = append(cs, b.Downsample.Conv)
	}
	return cs
}

func (b *Bottleneck) Tag() string {
	return fmt.Sprintf("Bottleneck(%d->%d,s%d)", b.inChannels, b.OutChannels(), b.stride)
}
