// Package split runs the classifier head of a network on a party that never
// sees the features: the data owner encrypts pooled features under CKKS and
// the head server evaluates its linear layer on the ciphertext.
package split

import (
	"encoding/gob"
	"fmt"
	"io"
)

func init() {
	// Register types for gob encoding
	gob.Register(KeysPayload{})
	gob.Register(ForwardPayload{})
	gob.Register(ForwardOutputPayload{})
}

// MessageType defines message types for the split inference protocol
type MessageType int

const (
	MsgKeys MessageType = iota
	MsgForwardInput
	MsgForwardOutput
	MsgDone
	MsgError
)

func (t MessageType) String() string {
	switch t {
	case MsgKeys:
		return "keys"
	case MsgForwardInput:
		return "forward-input"
	case MsgForwardOutput:
		return "forward-output"
	case MsgDone:
		return "done"
	case MsgError:
		return "error"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Message represents a message in the split inference protocol
type Message struct {
	Type    MessageType
	Payload interface{}
}

// KeysPayload opens a session: CKKS ring degree, serialized evaluation keys
// and the feature width the client will send.
type KeysPayload struct {
	LogN           int
	EvaluationKeys []byte
	FeatureDim     int
}

// ForwardPayload carries one encrypted feature vector
type ForwardPayload struct {
	BatchID    int
	Ciphertext []byte // serialized ciphertext
	Level      int
}

// ForwardOutputPayload carries one ciphertext per class; slot 0 of each
// holds the logit.
type ForwardOutputPayload struct {
	BatchID     int
	Ciphertexts [][]byte
}

// Protocol handles split inference communication
type Protocol struct {
	encoder *gob.Encoder
	decoder *gob.Decoder
}

// NewProtocol creates a new protocol handler
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	p := &Protocol{}
	if w != nil {
		p.encoder = gob.NewEncoder(w)
	}
	if r != nil {
		p.decoder = gob.NewDecoder(r)
	}
	return p
}

// Send sends a message
func (p *Protocol) Send(msg *Message) error {
	return p.encoder.Encode(msg)
}

// Receive receives a message
func (p *Protocol) Receive() (*Message, error) {
	var msg Message
	if err := p.decoder.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// receiveType reads the next message and checks its type. MsgDone maps to
// io.EOF and MsgError to a remote error.
func (p *Protocol) receiveType(want MessageType) (*Message, error) {
	msg, err := p.Receive()
	if err != nil {
		return nil, err
	}
	switch msg.Type {
	case want:
		return msg, nil
	case MsgError:
		return nil, fmt.Errorf("remote error: %v", msg.Payload)
	case MsgDone:
		return nil, io.EOF
	}
	return nil, fmt.Errorf("expected %v message, got %v", want, msg.Type)
}

// SendKeys starts a session
func (p *Protocol) SendKeys(logN int, evk []byte, featureDim int) error {
	return p.Send(&Message{
		Type:    MsgKeys,
		Payload: KeysPayload{LogN: logN, EvaluationKeys: evk, FeatureDim: featureDim},
	})
}

// SendForward sends an encrypted feature vector
func (p *Protocol) SendForward(batchID int, ctBytes []byte, level int) error {
	return p.Send(&Message{
		Type: MsgForwardInput,
		Payload: ForwardPayload{
			BatchID:    batchID,
			Ciphertext: ctBytes,
			Level:      level,
		},
	})
}

// SendForwardOutput sends the per-class ciphertexts
func (p *Protocol) SendForwardOutput(batchID int, cts [][]byte) error {
	return p.Send(&Message{
		Type:    MsgForwardOutput,
		Payload: ForwardOutputPayload{BatchID: batchID, Ciphertexts: cts},
	})
}

// SendDone signals completion
func (p *Protocol) SendDone() error {
	return p.Send(&Message{Type: MsgDone})
}

// SendError sends an error message
func (p *Protocol) SendError(err error) error {
	return p.Send(&Message{
		Type:    MsgError,
		Payload: err.Error(),
	})
}

// ReceiveKeys receives the session opening
func (p *Protocol) ReceiveKeys() (*KeysPayload, error) {
	msg, err := p.receiveType(MsgKeys)
	if err != nil {
		return nil, err
	}
	payload, ok := msg.Payload.(KeysPayload)
	if !ok {
		return nil, fmt.Errorf("invalid keys payload type")
	}
	return &payload, nil
}

// ReceiveForward receives a forward input, or io.EOF once the peer is done
func (p *Protocol) ReceiveForward() (*ForwardPayload, error) {
	msg, err := p.receiveType(MsgForwardInput)
	if err != nil {
		return nil, err
	}
	payload, ok := msg.Payload.(ForwardPayload)
	if !ok {
		return nil, fmt.Errorf("invalid forward payload type")
	}
	return &payload, nil
}

// ReceiveForwardOutput receives the head's answer
func (p *Protocol) ReceiveForwardOutput() (*ForwardOutputPayload, error) {
	msg, err := p.receiveType(MsgForwardOutput)
	if err != nil {
		return nil, err
	}
	payload, ok := msg.Payload.(ForwardOutputPayload)
	if !ok {
		return nil, fmt.Errorf("invalid forward output payload type")
	}
	return &payload, nil
}
