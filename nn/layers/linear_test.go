package layers

import (
	"testing"

	"resnet_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear_Batch(t *testing.T) {
	l := NewLinear(3, 2)
	l.W.Data = []float64{1, 0, -1, 2, 1, 0}
	l.B.Data = []float64{0.5, -1}

	x, err := tensor.FromSlice([]float64{1, 2, 3, 0, 1, 0}, 2, 3)
	require.NoError(t, err)
	y, err := l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, y.Shape)
	assert.InDeltaSlice(t, []float64{-1.5, 3, 0.5, 0}, y.Data, 1e-12)
}

func TestLinear_Vector(t *testing.T) {
	l := NewLinear(2, 1)
	l.W.Data = []float64{2, 3}
	l.B.Data = []float64{1}
	y, err := l.Forward(tensor.NewWithData([]float64{1, 1}))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, y.Shape)
	assert.InDelta(t, 6.0, y.Data[0], 1e-12)
}

func TestLinear_EmptyBatch(t *testing.T) {
	y, err := NewLinear(4, 3).Forward(tensor.New(0, 4))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, y.Shape)
	assert.Empty(t, y.Data)
}

func TestLinear_FeatureMismatch(t *testing.T) {
	l := NewLinear(4, 2)
	_, err := l.Forward(tensor.New(1, 3))
	assert.ErrorIs(t, err, ErrShape)
	_, err = l.Forward(tensor.New(1, 1, 4))
	assert.ErrorIs(t, err, ErrShape)
}

func TestLinear_Params(t *testing.T) {
	p := NewLinear(2048, 10).Params()
	require.Len(t, p, 2)
	assert.Equal(t, []int{10, 2048}, p[0].Value.Shape)
	assert.Equal(t, []int{10}, p[1].Value.Shape)
}
