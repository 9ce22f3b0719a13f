package ckkswrapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeContextRoundTrip(t *testing.T) {
	h, err := NewHeContextWithLogN(12)
	require.NoError(t, err)

	vals := []float64{3.1415926535, -2, 0.5}
	ct, err := h.EncryptVector(vals)
	require.NoError(t, err)
	assert.Equal(t, h.Params.MaxLevel(), ct.Level())

	got, err := h.DecryptVector(ct, len(vals))
	require.NoError(t, err)
	require.Len(t, got, len(vals))
	for i := range vals {
		assert.InDelta(t, vals[i], got[i], 1e-6, "slot %d", i)
	}
}

func TestEncryptVectorTooLong(t *testing.T) {
	h, err := NewHeContextWithLogN(12)
	require.NoError(t, err)
	_, err = h.EncryptVector(make([]float64, h.MaxSlots()+1))
	assert.Error(t, err)
}

func TestServerKitRotation(t *testing.T) {
	h, err := NewHeContextWithLogN(12)
	require.NoError(t, err)

	evkBytes, err := h.MarshalEvaluationKeys()
	require.NoError(t, err)
	kit, err := UnmarshalServerKit(12, evkBytes)
	require.NoError(t, err)

	ct, err := h.EncryptVector([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	rot, err := kit.Evaluator.RotateNew(ct, 2)
	require.NoError(t, err)

	got, err := h.DecryptVector(rot, 2)
	require.NoError(t, err)
	assert.InDelta(t, 3, got[0], 1e-6)
	assert.InDelta(t, 4, got[1], 1e-6)
}

func TestPowerOfTwoRotations(t *testing.T) {
	assert.Equal(t, []int{1, 2, 4}, PowerOfTwoRotations(8))
	assert.Empty(t, PowerOfTwoRotations(1))
}
