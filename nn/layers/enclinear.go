package layers

import (
	"fmt"

	"resnet_lib/core/ckkswrapper"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// EncryptedLinear evaluates a Linear layer on a CKKS-encrypted feature vector.
//
// The client encrypts AugmentFeatures(x) = [x_0 .. x_{n-1}, 1] into a single
// ciphertext. Row j of the layer is encoded as [W_j0 .. W_j,n-1, b_j], so a
// slot-wise product followed by a rotate-and-sum leaves w_j·x + b_j in slot 0
// of the j-th output ciphertext. Only slot 0 of each output is meaningful.
type EncryptedLinear struct {
	lin  *Linear
	kit  *ckkswrapper.ServerKit
	Eval *WrappedEvaluator

	rows []*rlwe.Plaintext
	span int // power of two covering inDim+1 slots
}

// AugmentFeatures appends the constant slot that carries the bias.
func AugmentFeatures(x []float64) []float64 {
	out := make([]float64, len(x)+1)
	copy(out, x)
	out[len(x)] = 1
	return out
}

// NewEncryptedLinear encodes the weight rows of lin for evaluation with kit.
// Later changes to lin are not seen until SyncHE is called again.
func NewEncryptedLinear(lin *Linear, kit *ckkswrapper.ServerKit) (*EncryptedLinear, error) {
	e := &EncryptedLinear{
		lin:  lin,
		kit:  kit,
		Eval: NewWrappedEvaluator(kit.Evaluator),
	}
	if err := e.SyncHE(); err != nil {
		return nil, err
	}
	return e, nil
}

// SyncHE re-encodes W rows and bias into plaintexts.
func (e *EncryptedLinear) SyncHE() error {
	inDim, outDim := e.lin.InDim(), e.lin.OutDim()
	slots := e.kit.Params.MaxSlots()
	if inDim+1 > slots {
		return fmt.Errorf("%d features plus bias slot exceed %d CKKS slots", inDim, slots)
	}
	e.span = 1
	for e.span < inDim+1 {
		e.span *= 2
	}

	e.rows = make([]*rlwe.Plaintext, outDim)
	vec := make([]float64, slots)
	for j := 0; j < outDim; j++ {
		copy(vec, e.lin.W.Data[j*inDim:(j+1)*inDim])
		vec[inDim] = e.lin.B.Data[j]
		pt := hefloat.NewPlaintext(e.kit.Params, e.kit.Params.MaxLevel())
		if err := e.kit.Encoder.Encode(vec, pt); err != nil {
			return fmt.Errorf("encode row %d: %w", j, err)
		}
		e.rows[j] = pt
	}
	return nil
}

func (e *EncryptedLinear) InDim() int  { return e.lin.InDim() }
func (e *EncryptedLinear) OutDim() int { return e.lin.OutDim() }

// ForwardCipher returns one ciphertext per output class.
func (e *EncryptedLinear) ForwardCipher(ct *rlwe.Ciphertext) ([]*rlwe.Ciphertext, error) {
	if ct.Level() < 1 {
		return nil, fmt.Errorf("ciphertext at level %d has no level left for the head", ct.Level())
	}
	out := make([]*rlwe.Ciphertext, len(e.rows))
	for j, row := range e.rows {
		acc, err := e.Eval.MulNew(ct, row)
		if err != nil {
			return nil, fmt.Errorf("class %d: multiplication failed: %w", j, err)
		}
		if err := e.Eval.Rescale(acc, acc); err != nil {
			return nil, fmt.Errorf("class %d: rescaling failed: %w", j, err)
		}
		for step := 1; step < e.span; step *= 2 {
			rot, err := e.Eval.RotateNew(acc, step)
			if err != nil {
				return nil, fmt.Errorf("class %d: rotation by %d failed: %w", j, step, err)
			}
			if acc, err = e.Eval.AddNew(acc, rot); err != nil {
				return nil, fmt.Errorf("class %d: addition failed: %w", j, err)
			}
		}
		out[j] = acc
	}
	return out, nil
}

func (e *EncryptedLinear) Tag() string {
	return fmt.Sprintf("EncryptedLinear(%d->%d)", e.InDim(), e.OutDim())
}
