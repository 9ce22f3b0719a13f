package layers

import (
	"math"
	"testing"

	"resnet_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchNorm2D_DefaultsAreNearIdentity(t *testing.T) {
	bn := NewBatchNorm2D(3)
	for c := 0; c < 3; c++ {
		assert.Equal(t, 1.0, bn.Weight.Data[c])
		assert.Equal(t, 0.0, bn.Bias.Data[c])
		assert.Equal(t, 0.0, bn.RunningMean.Data[c])
		assert.Equal(t, 1.0, bn.RunningVar.Data[c])
	}

	x := tensor.New(2, 3, 2, 2)
	for i := range x.Data {
		x.Data[i] = float64(i)
	}
	y, err := bn.Forward(x)
	require.NoError(t, err)
	scale := 1 / math.Sqrt(1+DefaultBatchNormEps)
	for i := range x.Data {
		assert.InDelta(t, x.Data[i]*scale, y.Data[i], 1e-12)
	}
}

func TestBatchNorm2D_UsesRunningStats(t *testing.T) {
	bn := NewBatchNorm2D(2)
	bn.Eps = 0
	bn.RunningMean.Data = []float64{1, -2}
	bn.RunningVar.Data = []float64{4, 9}
	bn.Weight.Data = []float64{2, 3}
	bn.Bias.Data = []float64{0.5, -1}

	x, err := tensor.FromSlice([]float64{3, 5, 1, 4}, 1, 2, 1, 2)
	require.NoError(t, err)
	y, err := bn.Forward(x)
	require.NoError(t, err)

	// channel 0: (x-1)/2*2+0.5, channel 1: (x+2)/3*3-1
	assert.InDeltaSlice(t, []float64{2.5, 4.5, 2, 5}, y.Data, 1e-12)
	assert.Equal(t, []float64{1, -2}, bn.RunningMean.Data, "forward must not touch statistics")
}

func TestBatchNorm2D_Errors(t *testing.T) {
	bn := NewBatchNorm2D(2)
	_, err := bn.Forward(tensor.New(1, 3, 2, 2))
	assert.ErrorIs(t, err, ErrShape)
	_, err = bn.Forward(tensor.New(2, 2))
	assert.Equal(t, ErrType, err)
}

func TestBatchNorm2D_Params(t *testing.T) {
	p := NewBatchNorm2D(4).Params()
	require.Len(t, p, 4)
	names := []string{"weight", "bias", "running_mean", "running_var"}
	for i, name := range names {
		assert.Equal(t, name, p[i].Name)
	}
	assert.True(t, p[0].Learnable)
	assert.True(t, p[1].Learnable)
	assert.False(t, p[2].Learnable)
	assert.False(t, p[3].Learnable)
}
