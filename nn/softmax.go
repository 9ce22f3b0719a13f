package nn

import (
	"fmt"
	"math"

	"resnet_lib/tensor"

	"gonum.org/v1/gonum/floats"
)

// SoftmaxRows applies softmax independently to each row of a [batch, n] tensor.
func SoftmaxRows(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("SoftmaxRows expects [batch, n], got %v", logits.Shape)
	}
	b, n := logits.Shape[0], logits.Shape[1]
	out := tensor.New(b, n)
	if n == 0 {
		return out, nil
	}
	for i := 0; i < b; i++ {
		row := out.Data[i*n : (i+1)*n]
		copy(row, logits.Data[i*n:(i+1)*n])
		floats.AddConst(-floats.LogSumExp(row), row)
		for j, v := range row {
			row[j] = math.Exp(v)
		}
	}
	return out, nil
}

// TopK returns the indices of the k largest values, largest first.
// Ties keep the lower index first.
func TopK(vals []float64, k int) []int {
	k = min(max(k, 0), len(vals))
	neg := make([]float64, len(vals))
	floats.ScaleTo(neg, -1, vals)
	idx := make([]int, len(vals))
	floats.ArgsortStable(neg, idx)
	return idx[:k]
}
