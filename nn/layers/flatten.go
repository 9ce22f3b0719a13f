package layers

import (
	"resnet_lib/nn"
	"resnet_lib/tensor"
)

// Flatten reshapes [batch, d1, d2, ...] into [batch, d1*d2*...].
// The data is copied so the output never aliases the input.
type Flatten struct{}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		y := tensor.New(len(x.Data))
		copy(y.Data, x.Data)
		return y, nil
	}
	batch := x.Shape[0]
	y := tensor.New(batch, tensor.Numel(x.Shape[1:]))
	copy(y.Data, x.Data)
	return y, nil
}

func (f *Flatten) Params() []nn.Param { return nil }
func (f *Flatten) Tag() string        { return "Flatten" }
