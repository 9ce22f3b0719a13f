package split

import (
	"errors"
	"fmt"
	"io"
	"time"

	"resnet_lib/core/ckkswrapper"
	"resnet_lib/nn/layers"
	"resnet_lib/tensor"
	"resnet_lib/utils"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// HeadServer evaluates a plaintext linear head on encrypted features.
// It holds no secret key.
type HeadServer struct {
	Head *layers.Linear

	// Stats accumulates time spent in the encrypted head when non-nil.
	Stats *utils.TimingStats
}

// NewHeadServer serves head. The layer is only read.
func NewHeadServer(head *layers.Linear) *HeadServer {
	return &HeadServer{Head: head}
}

// Serve runs one session on conn: it reads the client's keys, then answers
// forward requests until the client sends done. Failures are reported to
// the client before being returned.
func (s *HeadServer) Serve(conn io.ReadWriter) error {
	proto := NewProtocol(conn, conn)
	err := s.serve(proto)
	if err != nil && !errors.Is(err, io.EOF) {
		if sendErr := proto.SendError(err); sendErr != nil {
			return errors.Join(err, fmt.Errorf("report error to client: %w", sendErr))
		}
		return err
	}
	return nil
}

func (s *HeadServer) serve(proto *Protocol) error {
	keys, err := proto.ReceiveKeys()
	if err != nil {
		return fmt.Errorf("session keys: %w", err)
	}
	if keys.FeatureDim != s.Head.InDim() {
		return fmt.Errorf("client sends %d features, head expects %d: %w", keys.FeatureDim, s.Head.InDim(), layers.ErrShape)
	}
	kit, err := ckkswrapper.UnmarshalServerKit(keys.LogN, keys.EvaluationKeys)
	if err != nil {
		return err
	}
	enc, err := layers.NewEncryptedLinear(s.Head, kit)
	if err != nil {
		return err
	}

	for {
		req, err := proto.ReceiveForward()
		if err != nil {
			return err
		}
		start := time.Now()
		ct := new(rlwe.Ciphertext)
		if err := ct.UnmarshalBinary(req.Ciphertext); err != nil {
			return fmt.Errorf("batch %d: ciphertext: %w", req.BatchID, err)
		}
		outs, err := enc.ForwardCipher(ct)
		if err != nil {
			return fmt.Errorf("batch %d: %w", req.BatchID, err)
		}
		enc.Eval.PrintCounters(fmt.Sprintf("batch %d", req.BatchID))
		enc.Eval.ResetCounters()
		payload := make([][]byte, len(outs))
		for j, out := range outs {
			if payload[j], err = out.MarshalBinary(); err != nil {
				return fmt.Errorf("batch %d: class %d: %w", req.BatchID, j, err)
			}
		}
		if s.Stats != nil {
			s.Stats.ServerHeadTime += time.Since(start)
		}
		if err := proto.SendForwardOutput(req.BatchID, payload); err != nil {
			return err
		}
	}
}

// HeadClient is the data owner's side: it holds the secret key, encrypts
// features and decrypts the logits returned by a HeadServer.
type HeadClient struct {
	he         *ckkswrapper.HeContext
	proto      *Protocol
	featureDim int
	nextBatch  int

	// Stats accumulates encryption and decryption time when non-nil.
	Stats *utils.TimingStats
}

// NewHeadClient opens a session on conn by sending the evaluation keys.
func NewHeadClient(he *ckkswrapper.HeContext, conn io.ReadWriter, featureDim int) (*HeadClient, error) {
	if featureDim+1 > he.MaxSlots() {
		return nil, fmt.Errorf("%d features plus bias slot exceed %d CKKS slots", featureDim, he.MaxSlots())
	}
	evk, err := he.MarshalEvaluationKeys()
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation keys: %w", err)
	}
	proto := NewProtocol(conn, conn)
	if err := proto.SendKeys(he.Params.LogN(), evk, featureDim); err != nil {
		return nil, fmt.Errorf("send keys: %w", err)
	}
	return &HeadClient{he: he, proto: proto, featureDim: featureDim}, nil
}

// Classify sends one feature vector and returns the decrypted logits.
func (c *HeadClient) Classify(features []float64) ([]float64, error) {
	if len(features) != c.featureDim {
		return nil, fmt.Errorf("got %d features, session expects %d: %w", len(features), c.featureDim, layers.ErrShape)
	}

	start := time.Now()
	ct, err := c.he.EncryptVector(layers.AugmentFeatures(features))
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	ctBytes, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ciphertext: %w", err)
	}
	if c.Stats != nil {
		c.Stats.EncryptionTime += time.Since(start)
	}

	batchID := c.nextBatch
	c.nextBatch++
	if err := c.proto.SendForward(batchID, ctBytes, ct.Level()); err != nil {
		return nil, fmt.Errorf("send features: %w", err)
	}
	resp, err := c.proto.ReceiveForwardOutput()
	if err != nil {
		return nil, fmt.Errorf("receive logits: %w", err)
	}
	if resp.BatchID != batchID {
		return nil, fmt.Errorf("answer for batch %d, expected %d", resp.BatchID, batchID)
	}

	start = time.Now()
	logits := make([]float64, len(resp.Ciphertexts))
	for j, raw := range resp.Ciphertexts {
		out := new(rlwe.Ciphertext)
		if err := out.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("class %d: %w", j, err)
		}
		vals, err := c.he.DecryptVector(out, 1)
		if err != nil {
			return nil, fmt.Errorf("class %d: %w", j, err)
		}
		logits[j] = vals[0]
	}
	if c.Stats != nil {
		c.Stats.DecryptionTime += time.Since(start)
	}
	return logits, nil
}

// ClassifyBatch classifies every row of a [batch, featureDim] tensor.
func (c *HeadClient) ClassifyBatch(features *tensor.Tensor) (*tensor.Tensor, error) {
	if len(features.Shape) != 2 || features.Shape[0] == 0 || features.Shape[1] != c.featureDim {
		return nil, fmt.Errorf("features %v, expected [batch, %d]: %w", features.Shape, c.featureDim, layers.ErrShape)
	}
	var out *tensor.Tensor
	for b := 0; b < features.Shape[0]; b++ {
		logits, err := c.Classify(features.Data[b*c.featureDim : (b+1)*c.featureDim])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", b, err)
		}
		if out == nil {
			out = tensor.New(features.Shape[0], len(logits))
		}
		copy(out.Data[b*len(logits):], logits)
	}
	return out, nil
}

// Close ends the session.
func (c *HeadClient) Close() error {
	return c.proto.SendDone()
}
