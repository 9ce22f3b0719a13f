package bench

import (
	"fmt"
	"math"
	"time"

	"resnet_lib/core/ckkswrapper"
	"resnet_lib/nn/layers"
	"resnet_lib/tensor"
)

// HeadTiming reports one encrypted head evaluation.
type HeadTiming struct {
	Params  string
	Encrypt time.Duration
	Fwd     time.Duration
	Decrypt time.Duration
	Rot     int
	Mul     int
	MaxErr  float64
}

// CKKSParamsSummary describes the parameters of heCtx.
func CKKSParamsSummary(heCtx *ckkswrapper.HeContext) string {
	if heCtx == nil {
		return ""
	}
	params := heCtx.Params
	return fmt.Sprintf("logN=%d,logQ=%v,logP=%v", params.LogN(), params.LogQ(), params.LogP())
}

// TimeEncryptedHead evaluates lin on features under encryption and compares
// the decrypted logits with the plaintext layer.
func TimeEncryptedHead(heCtx *ckkswrapper.HeContext, lin *layers.Linear, features []float64) (HeadTiming, error) {
	ht := HeadTiming{Params: CKKSParamsSummary(heCtx)}
	enc, err := layers.NewEncryptedLinear(lin, heCtx.ServerKit())
	if err != nil {
		return ht, err
	}

	start := time.Now()
	ct, err := heCtx.EncryptVector(layers.AugmentFeatures(features))
	if err != nil {
		return ht, err
	}
	ht.Encrypt = time.Since(start)

	start = time.Now()
	outs, err := enc.ForwardCipher(ct)
	if err != nil {
		return ht, err
	}
	ht.Fwd = time.Since(start)
	ht.Rot, ht.Mul = enc.Eval.RotateCount, enc.Eval.MulCount
	enc.Eval.PrintCounters("encrypted head")

	plain, err := lin.Forward(tensor.NewWithData(features))
	if err != nil {
		return ht, err
	}
	start = time.Now()
	for j, out := range outs {
		got, err := heCtx.DecryptVector(out, 1)
		if err != nil {
			return ht, err
		}
		ht.MaxErr = math.Max(ht.MaxErr, math.Abs(got[0]-plain.Data[j]))
	}
	ht.Decrypt = time.Since(start)
	return ht, nil
}
