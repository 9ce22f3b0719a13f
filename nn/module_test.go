package nn

import (
	"errors"
	"testing"

	"resnet_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dummy layer: adds a constant
type addLayer struct {
	c float64
	w *tensor.Tensor
}

func (l *addLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	for i := range out.Data {
		out.Data[i] += l.c
	}
	return out, nil
}
func (l *addLayer) Params() []Param {
	if l.w == nil {
		return nil
	}
	return []Param{{Name: "weight", Value: l.w, Learnable: true}}
}
func (l *addLayer) Tag() string { return "Add" }

// dummy layer: error on forward
type errLayer struct{}

func (l *errLayer) Forward(*tensor.Tensor) (*tensor.Tensor, error) {
	return nil, errors.New("fail")
}
func (l *errLayer) Params() []Param { return nil }
func (l *errLayer) Tag() string     { return "Err" }

func TestSequentialPlain(t *testing.T) {
	a := tensor.New(1)
	a.Data[0] = 1
	seq := NewSequential(&addLayer{c: 2}, &addLayer{c: 3})
	out, err := seq.Forward(a)
	require.NoError(t, err)
	assert.Equal(t, 6.0, out.Data[0])
	assert.Equal(t, 1.0, a.Data[0], "input must not be mutated")
}

func TestSequentialError(t *testing.T) {
	seq := NewSequential(&addLayer{c: 0}, &errLayer{})
	_, err := seq.Forward(tensor.New(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 (Err)")
}

func TestSequentialParams(t *testing.T) {
	seq := NewSequential(&addLayer{w: tensor.New(2, 2)}, &errLayer{}, &addLayer{w: tensor.New(3)})
	params := seq.Params()
	require.Len(t, params, 2)
	assert.Equal(t, "0.weight", params[0].Name)
	assert.Equal(t, "2.weight", params[1].Name)
	assert.Equal(t, 7, CountLearnable(params))
	assert.Equal(t, "Sequential[Add,Err,Add]", seq.Tag())
}

func TestPrefixEmpty(t *testing.T) {
	p := Prefix("", []Param{{Name: "bias"}})
	assert.Equal(t, "bias", p[0].Name)
}
