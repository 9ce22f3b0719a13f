package ckkswrapper

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// DefaultLogN gives 4096 slots, enough for a 2048-wide feature vector plus
// the constant bias slot.
const DefaultLogN = 13

// NewParams builds the CKKS parameters shared by both sides of a split
// session. Only logN is negotiated; the modulus chain is fixed so that one
// plaintext multiplication and rescale fit.
func NewParams(logN int) (hefloat.Parameters, error) {
	return hefloat.NewParametersFromLiteral(hefloat.ParametersLiteral{
		LogN:            logN,
		LogQ:            []int{55, 40, 40},
		LogP:            []int{61},
		LogDefaultScale: 40,
	})
}

// HeContext holds everything the key owner needs: parameters, keys, encoder,
// encryptor, decryptor and an evaluator loaded with its own evaluation keys.
type HeContext struct {
	Params    hefloat.Parameters
	Encoder   *hefloat.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor
	Evaluator *hefloat.Evaluator

	evk *rlwe.MemEvaluationKeySet
}

// NewHeContext uses DefaultLogN.
func NewHeContext() (*HeContext, error) {
	return NewHeContextWithLogN(DefaultLogN)
}

// NewHeContextWithLogN generates a fresh key pair, a relinearization key and
// Galois keys for every power-of-two rotation below the slot count.
func NewHeContextWithLogN(logN int) (*HeContext, error) {
	params, err := NewParams(logN)
	if err != nil {
		return nil, fmt.Errorf("ckks parameters (logN=%d): %w", logN, err)
	}

	kgen := hefloat.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()

	var galEls []uint64
	for _, k := range PowerOfTwoRotations(params.MaxSlots()) {
		galEls = append(galEls, params.GaloisElement(k))
	}
	rlk := kgen.GenRelinearizationKeyNew(sk)
	evk := rlwe.NewMemEvaluationKeySet(rlk, kgen.GenGaloisKeysNew(galEls, sk)...)

	return &HeContext{
		Params:    params,
		Encoder:   hefloat.NewEncoder(params),
		Encryptor: hefloat.NewEncryptor(params, pk),
		Decryptor: hefloat.NewDecryptor(params, sk),
		Evaluator: hefloat.NewEvaluator(params, evk),
		evk:       evk,
	}, nil
}

// PowerOfTwoRotations returns 1, 2, 4, ... strictly below n.
func PowerOfTwoRotations(n int) []int {
	var rots []int
	for step := 1; step < n; step *= 2 {
		rots = append(rots, step)
	}
	return rots
}

// MaxSlots is the number of real values one ciphertext carries.
func (h *HeContext) MaxSlots() int { return h.Params.MaxSlots() }

// EvaluationKeys returns the public evaluation keys, for handing to a server.
func (h *HeContext) EvaluationKeys() *rlwe.MemEvaluationKeySet { return h.evk }

// MarshalEvaluationKeys serializes the evaluation keys.
func (h *HeContext) MarshalEvaluationKeys() ([]byte, error) {
	return h.evk.MarshalBinary()
}

// EncryptVector encodes values into the first len(values) slots at the
// maximum level and encrypts them. Remaining slots are zero.
func (h *HeContext) EncryptVector(values []float64) (*rlwe.Ciphertext, error) {
	if len(values) > h.MaxSlots() {
		return nil, fmt.Errorf("vector of length %d exceeds %d slots", len(values), h.MaxSlots())
	}
	vec := make([]float64, h.MaxSlots())
	copy(vec, values)
	pt := hefloat.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(vec, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return h.Encryptor.EncryptNew(pt)
}

// DecryptVector decrypts ct and returns the first n slots (all slots if n <= 0).
func (h *HeContext) DecryptVector(ct *rlwe.Ciphertext, n int) ([]float64, error) {
	pt := h.Decryptor.DecryptNew(ct)
	decoded := make([]float64, h.MaxSlots())
	if err := h.Encoder.Decode(pt, decoded); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if n <= 0 || n > len(decoded) {
		return decoded, nil
	}
	return decoded[:n], nil
}

// ServerKit returns a key-less kit sharing this context's evaluation keys.
func (h *HeContext) ServerKit() *ServerKit {
	return NewServerKit(h.Params, h.evk)
}

// ServerKit is what the evaluating party holds: parameters, an encoder and an
// evaluator. It never sees the secret key.
type ServerKit struct {
	Params    hefloat.Parameters
	Encoder   *hefloat.Encoder
	Evaluator *hefloat.Evaluator
}

// NewServerKit builds a kit from parameters and received evaluation keys.
func NewServerKit(params hefloat.Parameters, evk rlwe.EvaluationKeySet) *ServerKit {
	return &ServerKit{
		Params:    params,
		Encoder:   hefloat.NewEncoder(params),
		Evaluator: hefloat.NewEvaluator(params, evk),
	}
}

// UnmarshalServerKit rebuilds a server kit from logN and serialized keys.
func UnmarshalServerKit(logN int, evkBytes []byte) (*ServerKit, error) {
	params, err := NewParams(logN)
	if err != nil {
		return nil, fmt.Errorf("ckks parameters (logN=%d): %w", logN, err)
	}
	evk := new(rlwe.MemEvaluationKeySet)
	if err := evk.UnmarshalBinary(evkBytes); err != nil {
		return nil, fmt.Errorf("evaluation keys: %w", err)
	}
	return NewServerKit(params, evk), nil
}
