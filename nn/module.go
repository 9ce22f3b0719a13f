package nn

import (
	"fmt"

	"resnet_lib/tensor"
)

// Module defines a single layer/unit in the network.
type Module interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// Params returns the layer's parameters and buffers, named relative to
	// the layer itself (e.g. "weight", "running_mean").
	Params() []Param
	Tag() string
}

// Param is a named parameter or buffer owned by a layer.
// Buffers (batch-norm running statistics) have Learnable == false.
type Param struct {
	Name      string
	Value     *tensor.Tensor
	Learnable bool
}

// Prefix returns params with prefix+"." prepended to every name.
func Prefix(prefix string, params []Param) []Param {
	out := make([]Param, len(params))
	for i, p := range params {
		out[i] = p
		if prefix != "" {
			out[i].Name = prefix + "." + p.Name
		}
	}
	return out
}

// CountLearnable sums the element counts of learnable params.
func CountLearnable(params []Param) int {
	n := 0
	for _, p := range params {
		if p.Learnable {
			n += len(p.Value.Data)
		}
	}
	return n
}

// Sequential chains multiple Modules in order.
// Params of layer i are named "<i>.<name>", matching the usual index-based
// naming of sequential containers.
type Sequential struct {
	Layers []Module
}

// NewSequential builds a Sequential from layers.
func NewSequential(layers ...Module) *Sequential {
	return &Sequential{Layers: layers}
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x
	var err error
	for i, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("%d (%s): %w", i, layer.Tag(), err)
		}
	}
	return out, nil
}

// Params returns the params of every layer, prefixed by the layer index.
func (s *Sequential) Params() []Param {
	var out []Param
	for i, layer := range s.Layers {
		out = append(out, Prefix(fmt.Sprint(i), layer.Params())...)
	}
	return out
}

// Tag lists the layer tags.
func (s *Sequential) Tag() string {
	tags := "Sequential["
	for i, m := range s.Layers {
		if i > 0 {
			tags += ","
		}
		tags += m.Tag()
	}
	return tags + "]"
}
