package layers

import (
	"fmt"

	"resnet_lib/nn"
	"resnet_lib/tensor"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear is a fully-connected layer: y = x·Wᵀ + b.
type Linear struct {
	W, B *tensor.Tensor // W: [outDim, inDim], B: [outDim]
}

// NewLinear(inDim→outDim) allocates zero W and B.
func NewLinear(inDim, outDim int) *Linear {
	return &Linear{W: tensor.New(outDim, inDim), B: tensor.New(outDim)}
}

func (l *Linear) InDim() int  { return l.W.Shape[1] }
func (l *Linear) OutDim() int { return l.W.Shape[0] }

// Forward accepts [batch, inDim] or a single vector [inDim].
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	inDim, outDim := l.InDim(), l.OutDim()
	var batch int
	switch len(x.Shape) {
	case 1:
		batch = 1
	case 2:
		batch = x.Shape[0]
	default:
		return nil, fmt.Errorf("%s: expected [batch, %d] input, got %v: %w", l.Tag(), inDim, x.Shape, ErrShape)
	}
	if x.Shape[len(x.Shape)-1] != inDim {
		return nil, fmt.Errorf("%s: expected %d features, got %d: %w", l.Tag(), inDim, x.Shape[len(x.Shape)-1], ErrShape)
	}

	var out *tensor.Tensor
	if len(x.Shape) == 1 {
		out = tensor.New(outDim)
	} else {
		out = tensor.New(batch, outDim)
	}
	if batch == 0 {
		return out, nil
	}

	xm := mat.NewDense(batch, inDim, x.Data)
	wm := mat.NewDense(outDim, inDim, l.W.Data)
	ym := mat.NewDense(batch, outDim, out.Data)
	ym.Mul(xm, wm.T())
	for b := 0; b < batch; b++ {
		floats.Add(out.Data[b*outDim:(b+1)*outDim], l.B.Data)
	}
	return out, nil
}

func (l *Linear) Params() []nn.Param {
	return []nn.Param{
		{Name: "weight", Value: l.W, Learnable: true},
		{Name: "bias", Value: l.B, Learnable: true},
	}
}

func (l *Linear) Tag() string { return fmt.Sprintf("Linear(%d->%d)", l.InDim(), l.OutDim()) }
