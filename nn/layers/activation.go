package layers

import (
	"resnet_lib/nn"
	"resnet_lib/tensor"
)

// ReLU is the rectified-linear activation. It has no parameters, so a single
// instance may be shared by several positions in a block.
type ReLU struct{}

func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReluPlain(x), nil
}

func (r *ReLU) Params() []nn.Param { return nil }
func (r *ReLU) Tag() string        { return "ReLU" }
