package utils

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"resnet_lib/tensor"

	"github.com/x448/float16"
)

// maxHeaderSize bounds the JSON header of a safetensors file.
const maxHeaderSize = 100 << 20

// SafetensorInfo is one entry of a safetensors header.
// Data is little-endian, row-major. Shape is unsigned so negative
// dimensions fail at parse time.
type SafetensorInfo struct {
	DType       string    `json:"dtype"`
	Shape       []uint64  `json:"shape"`
	DataOffsets [2]uint64 `json:"data_offsets"`
}

var dtypeSize = map[string]int{
	"F64":  8,
	"F32":  4,
	"F16":  2,
	"BF16": 2,
	"I64":  8,
	"I32":  4,
}

// ReadSafetensors loads every tensor of a safetensors file as float64.
func ReadSafetensors(path string) (map[string]*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open safetensors file: %w", err)
	}
	defer f.Close()
	return DecodeSafetensors(f)
}

// DecodeSafetensors parses a safetensors stream.
func DecodeSafetensors(r io.Reader) (map[string]*tensor.Tensor, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("header of %d bytes exceeds limit", headerLen)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tensor data: %w", err)
	}

	out := make(map[string]*tensor.Tensor, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var info SafetensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		t, err := decodeTensor(info, body)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

func decodeTensor(info SafetensorInfo, body []byte) (*tensor.Tensor, error) {
	size, ok := dtypeSize[info.DType]
	if !ok {
		return nil, fmt.Errorf("unsupported dtype %s", info.DType)
	}
	begin, end := info.DataOffsets[0], info.DataOffsets[1]
	if begin > end || end > uint64(len(body)) {
		return nil, fmt.Errorf("data offsets %v outside %d byte buffer", info.DataOffsets, len(body))
	}
	// Elements can never exceed the byte count, which keeps the product bounded.
	shape := make([]int, len(info.Shape))
	n := uint64(1)
	for i, d := range info.Shape {
		if d > math.MaxInt32 || d != 0 && n > uint64(len(body))/d {
			return nil, fmt.Errorf("shape %v larger than %d byte buffer", info.Shape, len(body))
		}
		n *= d
		shape[i] = int(d)
	}
	if n*uint64(size) != end-begin {
		return nil, fmt.Errorf("shape %v of %s needs %d bytes, header gives %d", info.Shape, info.DType, n*uint64(size), end-begin)
	}
	buf := body[begin:end]
	t := tensor.New(shape...)
	le := binary.LittleEndian
	for i := range t.Data {
		b := buf[i*size:]
		switch info.DType {
		case "F64":
			t.Data[i] = math.Float64frombits(le.Uint64(b))
		case "F32":
			t.Data[i] = float64(math.Float32frombits(le.Uint32(b)))
		case "F16":
			t.Data[i] = float64(float16.Frombits(le.Uint16(b)).Float32())
		case "BF16":
			t.Data[i] = float64(math.Float32frombits(uint32(le.Uint16(b)) << 16))
		case "I64":
			t.Data[i] = float64(int64(le.Uint64(b)))
		case "I32":
			t.Data[i] = float64(int32(le.Uint32(b)))
		}
	}
	return t, nil
}

// WriteSafetensors stores tensors as F32 in lexical name order.
func WriteSafetensors(path string, tensors map[string]*tensor.Tensor) error {
	var buf bytes.Buffer
	if err := EncodeSafetensors(&buf, tensors); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// EncodeSafetensors writes tensors as F32 to w.
func EncodeSafetensors(w io.Writer, tensors map[string]*tensor.Tensor) error {
	names := SortedNames(tensors)
	header := make(map[string]SafetensorInfo, len(names))
	var offset uint64
	for _, name := range names {
		t := tensors[name]
		size := uint64(len(t.Data) * 4)
		shape := make([]uint64, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = uint64(d)
		}
		header[name] = SafetensorInfo{DType: "F32", Shape: shape, DataOffsets: [2]uint64{offset, offset + size}}
		offset += size
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	// Pad with spaces so the data section starts 8-byte aligned.
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, name := range names {
		data := tensors[name].Data
		raw := make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
